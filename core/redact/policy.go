// Package redact enforces the privacy policy over the accepted item set.
// Rules are declarative data (patterns + actions) loaded from YAML and
// interpreted by a small matching engine, so policy changes never require
// rebuilding the core.
package redact

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/davidahmann/ctxpack/core/canon"
)

const (
	PolicySchemaID = "ctxpack.redaction.policy"
	PolicySchemaV1 = "1.0.0"
)

type Action string

const (
	ActionDrop Action = "drop"
	ActionMask Action = "mask"
)

type PathRule struct {
	ID      string `yaml:"id" json:"id"`
	Pattern string `yaml:"pattern" json:"pattern"`
}

type ContentRule struct {
	ID      string `yaml:"id" json:"id"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Action  Action `yaml:"action" json:"action"`
}

type CallRule struct {
	ID    string   `yaml:"id" json:"id"`
	Calls []string `yaml:"calls" json:"calls"`
}

// Policy is the full declarative rule set. AllowRemote is the global
// privacy toggle: even when a specification requests remote_allowed, the
// packet stays local_only unless the policy permits leaving the boundary.
type Policy struct {
	SchemaID         string        `yaml:"schema_id" json:"schema_id"`
	SchemaVersion    string        `yaml:"schema_version" json:"schema_version"`
	AllowRemote      bool          `yaml:"allow_remote" json:"allow_remote"`
	ForbiddenPaths   []PathRule    `yaml:"forbidden_paths" json:"forbidden_paths"`
	ForbiddenContent []ContentRule `yaml:"forbidden_content" json:"forbidden_content"`
	ForbiddenCalls   []CallRule    `yaml:"forbidden_calls" json:"forbidden_calls"`
}

func LoadPolicyFile(path string) (Policy, error) {
	// #nosec G304 -- policy path is explicit local user input.
	content, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read redaction policy: %w", err)
	}
	return ParsePolicyYAML(content)
}

func ParsePolicyYAML(data []byte) (Policy, error) {
	var policy Policy
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse redaction policy yaml: %w", err)
	}
	return normalizePolicy(policy)
}

// DefaultPolicy covers the common secret shapes: credential files, private
// key material, API-key assignments and dangerous process/filesystem calls.
func DefaultPolicy() Policy {
	policy := Policy{
		SchemaID:      PolicySchemaID,
		SchemaVersion: PolicySchemaV1,
		AllowRemote:   false,
		ForbiddenPaths: []PathRule{
			{ID: "deny_env_files", Pattern: "**/.env"},
			{ID: "deny_env_variants", Pattern: "**/.env.*"},
			{ID: "deny_pem_files", Pattern: "**/*.pem"},
			{ID: "deny_ssh_keys", Pattern: "**/id_rsa*"},
			{ID: "deny_credential_files", Pattern: "**/credentials*"},
			{ID: "deny_netrc", Pattern: "**/.netrc"},
		},
		ForbiddenContent: []ContentRule{
			{ID: "private_key_block", Pattern: `-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`, Action: ActionDrop},
			{ID: "aws_access_key", Pattern: `AKIA[0-9A-Z]{16}`, Action: ActionMask},
			{ID: "bearer_token", Pattern: `(?i)bearer\s+[a-z0-9_\-\.=]{20,}`, Action: ActionMask},
			{ID: "password_assignment", Pattern: `(?i)(password|passwd|secret|api_key|apikey|token)\s*[:=]\s*["'][^"']{6,}["']`, Action: ActionMask},
		},
		ForbiddenCalls: []CallRule{
			{ID: "deny_process_exec", Calls: []string{"exec.Command", "os.StartProcess", "syscall.Exec", "subprocess.Popen", "os.system"}},
			{ID: "deny_fs_destruction", Calls: []string{"os.RemoveAll", "shutil.rmtree", "rm -rf"}},
		},
	}
	normalized, err := normalizePolicy(policy)
	if err != nil {
		// The built-in policy is covered by tests; a failure here is a
		// programming error.
		panic(fmt.Sprintf("default redaction policy invalid: %v", err))
	}
	return normalized
}

func normalizePolicy(input Policy) (Policy, error) {
	policy := input
	// Normalization writes back into the rule slices, so work on copies;
	// the caller's Policy must come back from NewEngine untouched.
	policy.ForbiddenPaths = append([]PathRule(nil), input.ForbiddenPaths...)
	policy.ForbiddenContent = append([]ContentRule(nil), input.ForbiddenContent...)
	policy.ForbiddenCalls = append([]CallRule(nil), input.ForbiddenCalls...)
	if strings.TrimSpace(policy.SchemaID) == "" {
		policy.SchemaID = PolicySchemaID
	}
	if policy.SchemaID != PolicySchemaID {
		return Policy{}, fmt.Errorf("unsupported policy schema_id: %s", policy.SchemaID)
	}
	if strings.TrimSpace(policy.SchemaVersion) == "" {
		policy.SchemaVersion = PolicySchemaV1
	}
	if policy.SchemaVersion != PolicySchemaV1 {
		return Policy{}, fmt.Errorf("unsupported policy schema_version: %s", policy.SchemaVersion)
	}

	seen := make(map[string]struct{})
	requireID := func(id string) error {
		trimmed := strings.TrimSpace(id)
		if trimmed == "" {
			return fmt.Errorf("rule id is required")
		}
		if _, ok := seen[trimmed]; ok {
			return fmt.Errorf("duplicate rule id: %s", trimmed)
		}
		seen[trimmed] = struct{}{}
		return nil
	}

	for i, rule := range policy.ForbiddenPaths {
		if err := requireID(rule.ID); err != nil {
			return Policy{}, err
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return Policy{}, fmt.Errorf("path rule %s: pattern is required", rule.ID)
		}
		policy.ForbiddenPaths[i].ID = strings.TrimSpace(rule.ID)
		policy.ForbiddenPaths[i].Pattern = strings.TrimSpace(rule.Pattern)
	}
	for i, rule := range policy.ForbiddenContent {
		if err := requireID(rule.ID); err != nil {
			return Policy{}, err
		}
		if strings.TrimSpace(rule.Pattern) == "" {
			return Policy{}, fmt.Errorf("content rule %s: pattern is required", rule.ID)
		}
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return Policy{}, fmt.Errorf("content rule %s: %w", rule.ID, err)
		}
		action := Action(strings.ToLower(strings.TrimSpace(string(rule.Action))))
		if action == "" {
			action = ActionDrop
		}
		if action != ActionDrop && action != ActionMask {
			return Policy{}, fmt.Errorf("content rule %s: action must be drop or mask", rule.ID)
		}
		policy.ForbiddenContent[i].ID = strings.TrimSpace(rule.ID)
		policy.ForbiddenContent[i].Action = action
	}
	for i, rule := range policy.ForbiddenCalls {
		if err := requireID(rule.ID); err != nil {
			return Policy{}, err
		}
		calls := make([]string, 0, len(rule.Calls))
		for _, call := range rule.Calls {
			if trimmed := strings.TrimSpace(call); trimmed != "" {
				calls = append(calls, trimmed)
			}
		}
		if len(calls) == 0 {
			return Policy{}, fmt.Errorf("call rule %s: at least one call is required", rule.ID)
		}
		sort.Strings(calls)
		policy.ForbiddenCalls[i].ID = strings.TrimSpace(rule.ID)
		policy.ForbiddenCalls[i].Calls = calls
	}
	return policy, nil
}

// PolicyDigest returns the sha256 digest of the normalized policy so
// provenance can prove which rule set governed a packet.
func PolicyDigest(policy Policy) (string, error) {
	normalized, err := normalizePolicy(policy)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal normalized policy: %w", err)
	}
	digest, err := canon.DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest policy: %w", err)
	}
	return digest, nil
}
