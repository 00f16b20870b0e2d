// Package config loads builder configuration from an optional YAML file
// with environment overrides. Every field has a safe default, so a zero
// configuration still produces a working local-only pipeline.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	coreerrors "github.com/davidahmann/ctxpack/core/errors"
)

// EnvPrefix namespaces the environment overrides, e.g.
// CTXPACK_CACHE_TTL=1h or CTXPACK_STORE_DRIVER=sqlite.
const EnvPrefix = "CTXPACK_"

const (
	StoreDriverFile   = "file"
	StoreDriverSQLite = "sqlite"
)

type StoreConfig struct {
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
}

type ProvidersConfig struct {
	SymbolDBPath     string `koanf:"symbol_db_path"`
	AnalysisExport   string `koanf:"analysis_export"`
	SemanticDSN      string `koanf:"semantic_dsn"`
	SemanticTopK     int    `koanf:"semantic_top_k"`
	TimeoutPerUpcall string `koanf:"timeout"`
}

type Config struct {
	CacheTTL   string          `koanf:"cache_ttl"`
	PolicyPath string          `koanf:"policy_path"`
	Store      StoreConfig     `koanf:"store"`
	Providers  ProvidersConfig `koanf:"providers"`
	Tokenizer  string          `koanf:"tokenizer"`
}

// Defaults returns the configuration used when no file and no environment
// overrides are present.
func Defaults() Config {
	return Config{
		CacheTTL: "24h",
		Store: StoreConfig{
			Driver: StoreDriverFile,
			Path:   "provenance.jsonl",
		},
		Providers: ProvidersConfig{
			SemanticTopK:     20,
			TimeoutPerUpcall: "10s",
		},
		Tokenizer: "heuristic",
	}
}

// Load reads configuration from path (optional; empty or missing paths fall
// back to defaults), then applies CTXPACK_* environment overrides.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	cfg := Defaults()
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, coreerrors.Wrap(
					fmt.Errorf("load configuration file: %w", err),
					coreerrors.CategoryIOFailure,
					"CONFIG_FILE_UNREADABLE",
					"check that the configuration file is valid YAML",
					false,
				)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, coreerrors.Wrap(
				fmt.Errorf("stat configuration file: %w", err),
				coreerrors.CategoryIOFailure,
				"CONFIG_FILE_UNREADABLE",
				"check the configuration path and its permissions",
				false,
			)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envToKey), nil); err != nil {
		return Config{}, coreerrors.Wrap(
			fmt.Errorf("load environment overrides: %w", err),
			coreerrors.CategoryIOFailure,
			"CONFIG_ENV_UNREADABLE",
			"check the CTXPACK_* environment variables",
			false,
		)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, coreerrors.Wrap(
			fmt.Errorf("decode configuration: %w", err),
			coreerrors.CategoryIOFailure,
			"CONFIG_DECODE_FAILED",
			"a configuration value has the wrong type",
			false,
		)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envToKey maps CTXPACK_STORE_DRIVER to store.driver. Single-underscore
// segments become path separators.
func envToKey(name string) string {
	trimmed := strings.TrimPrefix(name, EnvPrefix)
	lowered := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lowered, "store_"):
		return "store." + strings.TrimPrefix(lowered, "store_")
	case strings.HasPrefix(lowered, "providers_"):
		return "providers." + strings.TrimPrefix(lowered, "providers_")
	default:
		return lowered
	}
}

func (c Config) Validate() error {
	var problems []string
	if _, err := c.CacheTTLDuration(); err != nil {
		problems = append(problems, fmt.Sprintf("cache_ttl: %v", err))
	}
	if _, err := c.ProviderTimeout(); err != nil {
		problems = append(problems, fmt.Sprintf("providers.timeout: %v", err))
	}
	switch c.Store.Driver {
	case StoreDriverFile, StoreDriverSQLite:
	default:
		problems = append(problems, fmt.Sprintf("store.driver: unknown driver %q", c.Store.Driver))
	}
	switch c.Tokenizer {
	case "heuristic", "tiktoken":
	default:
		problems = append(problems, fmt.Sprintf("tokenizer: unknown tokenizer %q", c.Tokenizer))
	}
	if c.Providers.SemanticTopK < 0 {
		problems = append(problems, "providers.semantic_top_k: must not be negative")
	}
	if len(problems) > 0 {
		return coreerrors.Wrap(
			fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; ")),
			coreerrors.CategoryInvalidSpecification,
			"CONFIG_INVALID",
			"fix the listed configuration values",
			false,
		)
	}
	return nil
}

// CacheTTLDuration parses the cache_ttl field.
func (c Config) CacheTTLDuration() (time.Duration, error) {
	return parseDuration(c.CacheTTL, 24*time.Hour)
}

// ProviderTimeout parses the per-provider upcall timeout.
func (c Config) ProviderTimeout() (time.Duration, error) {
	return parseDuration(c.Providers.TimeoutPerUpcall, 10*time.Second)
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", value, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("duration %q must be positive", value)
	}
	return parsed, nil
}
