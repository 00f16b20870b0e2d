// Package builder assembles governed context packets. A build runs the full
// pipeline for one task specification: fail-fast validation, cache lookup,
// concurrent provider fan-out, merge and de-duplication, ranking, budget
// trimming, redaction, final validation, hashing, provenance persistence
// and cache fill. A packet is released only after every gate has passed.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidahmann/ctxpack/core/cache"
	"github.com/davidahmann/ctxpack/core/canon"
	coreerrors "github.com/davidahmann/ctxpack/core/errors"
	"github.com/davidahmann/ctxpack/core/provider"
	"github.com/davidahmann/ctxpack/core/redact"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
	"github.com/davidahmann/ctxpack/core/store"
	"github.com/davidahmann/ctxpack/core/tokens"
	"github.com/davidahmann/ctxpack/core/validate"
)

const (
	// Version identifies the builder release recorded in every packet.
	Version = "1.0.0"

	defaultProviderTimeout = 10 * time.Second

	// Providers over-fetch relative to max_items so de-duplication and
	// ranking have material to choose from.
	overFetchFactor = 4
)

// Builder runs the packet assembly pipeline. Construct one with New and
// reuse it; a Builder is safe for concurrent BuildForTask calls.
type Builder struct {
	providers []provider.Provider
	cache     cache.Cache
	store     store.Store
	estimator tokens.Estimator
	engine    *redact.Engine
	policy    redact.Policy
	policySet bool
	timeout   time.Duration
	cacheTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	version   string
}

type Option func(*Builder)

// WithProviders sets the knowledge sources, in ranking-tie-break order:
// when two candidates tie on type and relevance, the one from the earlier
// provider wins.
func WithProviders(providers ...provider.Provider) Option {
	return func(b *Builder) { b.providers = providers }
}

func WithCache(c cache.Cache) Option {
	return func(b *Builder) { b.cache = c }
}

// WithStore sets the provenance store. Without one, release records are not
// persisted; production configurations always set it.
func WithStore(s store.Store) Option {
	return func(b *Builder) { b.store = s }
}

func WithEstimator(e tokens.Estimator) Option {
	return func(b *Builder) { b.estimator = e }
}

func WithPolicy(p redact.Policy) Option {
	return func(b *Builder) {
		b.policy = p
		b.policySet = true
	}
}

func WithProviderTimeout(d time.Duration) Option {
	return func(b *Builder) { b.timeout = d }
}

func WithCacheTTL(d time.Duration) Option {
	return func(b *Builder) { b.cacheTTL = d }
}

func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) { b.logger = logger }
}

// WithClock fixes the build timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator fixes packet and build ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(b *Builder) { b.newID = newID }
}

func WithVersion(version string) Option {
	return func(b *Builder) { b.version = version }
}

func New(opts ...Option) (*Builder, error) {
	b := &Builder{
		timeout:  defaultProviderTimeout,
		cacheTTL: cache.DefaultTTL,
		version:  Version,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.cache == nil {
		b.cache = cache.NewMemory()
	}
	if b.estimator == nil {
		b.estimator = tokens.Default()
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	if !b.policySet {
		b.policy = redact.DefaultPolicy()
	}
	engine, err := redact.NewEngine(b.policy)
	if err != nil {
		return nil, err
	}
	b.engine = engine
	return b, nil
}

// BuildForTask assembles, gates and releases one packet for the given
// specification. On a cache hit the stored packet is returned unchanged.
func (b *Builder) BuildForTask(ctx context.Context, taskSpec schemaspec.TaskSpecification) (schemapacket.ContextPacket, error) {
	if err := validate.Spec(taskSpec); err != nil {
		return schemapacket.ContextPacket{}, err
	}
	normalized := canon.NormalizeSpec(taskSpec)

	specHash, err := canon.SpecHash(normalized)
	if err != nil {
		return schemapacket.ContextPacket{}, coreerrors.Wrap(
			fmt.Errorf("compute specification hash: %w", err),
			coreerrors.CategoryInternalFailure,
			"BUILD_SPEC_HASH_FAILED",
			"the specification could not be canonicalized",
			false,
		)
	}

	if cached, ok := b.cache.Get(specHash); ok {
		b.logger.Debug("cache hit", "spec_hash", specHash, "packet_id", cached.PacketID)
		return cached, nil
	}

	outcomes, candidates := b.fanOut(ctx, normalized)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return schemapacket.ContextPacket{}, coreerrors.Wrap(
			fmt.Errorf("build aborted: %w", ctxErr),
			coreerrors.CategoryInternalFailure,
			"BUILD_CANCELLED",
			"the caller cancelled the build before release",
			false,
		)
	}

	merged := b.merge(candidates)
	rank(merged)
	included, budget := trim(merged, normalized.Constraints)

	buildTime := b.now().UTC()
	redacted := b.engine.Apply(included, normalized, buildTime)
	budget.ItemsIncluded = len(redacted.Items)
	if dropped := len(included) - len(redacted.Items); dropped > 0 {
		budget.ItemsDropped += dropped
		if budget.DropReasons == nil {
			budget.DropReasons = make(map[string]int)
		}
		budget.DropReasons["redaction_policy"] += dropped
	}

	warnings := make([]string, 0, len(redacted.Conflicts))
	warnings = append(warnings, redacted.Conflicts...)
	if len(redacted.Conflicts) > 0 {
		b.logger.Warn("redaction conflict", "spec_hash", specHash, "error", conflictError(redacted.Conflicts))
	}
	for _, outcome := range outcomes {
		if outcome.Status != schemapacket.ProviderStatusOK {
			warnings = append(warnings, fmt.Sprintf("provider %s degraded: %s", outcome.Name, outcome.Status))
		}
	}

	packet := schemapacket.ContextPacket{
		SchemaID:       schemapacket.SchemaID,
		SchemaVersion:  schemapacket.SchemaVersion,
		PacketID:       b.newID(),
		SpecHash:       specHash,
		CreatedAt:      buildTime,
		BuilderVersion: b.version,
		Privacy:        redacted.Privacy,
		Items:          redacted.Items,
		Redactions:     redacted.Records,
		Provenance: schemapacket.Provenance{
			BuildID:      b.newID(),
			CacheKey:     specHash,
			PolicyDigest: b.engine.PolicyDigest(),
			Providers:    outcomes,
			Budget:       budget,
		},
	}
	if len(warnings) > 0 {
		packet.Provenance.Warnings = warnings
	}

	if err := validate.Packet(packet, normalized); err != nil {
		b.logger.Error("packet rejected", "spec_hash", specHash, "error", err)
		return schemapacket.ContextPacket{}, err
	}

	packetHash, err := canon.PacketHash(packet)
	if err != nil {
		return schemapacket.ContextPacket{}, coreerrors.Wrap(
			fmt.Errorf("compute packet hash: %w", err),
			coreerrors.CategoryInternalFailure,
			"BUILD_PACKET_HASH_FAILED",
			"the packet could not be canonicalized",
			false,
		)
	}
	packet.PacketHash = packetHash

	if b.store != nil {
		if err := b.store.Persist(ctx, store.RecordForPacket(packet)); err != nil {
			b.logger.Error("provenance persistence failed", "spec_hash", specHash, "error", err)
			return schemapacket.ContextPacket{}, err
		}
	}

	if err := b.cache.Put(specHash, packet, b.cacheTTL); err != nil {
		// A cold cache only costs a rebuild; the released packet stands.
		b.logger.Warn("cache fill failed",
			"spec_hash", specHash,
			"error", coreerrors.Wrap(err, coreerrors.CategoryCacheUnavailable, "CACHE_PUT_FAILED", "the cache rejected the packet", true),
		)
	}

	b.logger.Info("packet released",
		"packet_id", packet.PacketID,
		"spec_hash", specHash,
		"items", len(packet.Items),
		"redactions", len(packet.Redactions),
		"privacy", packet.Privacy,
	)
	return packet, nil
}

type providerResult struct {
	outcome schemapacket.ProviderOutcome
	items   []provider.CandidateItem
}

// fanOut queries every provider concurrently under a per-provider timeout.
// A failed provider degrades the build; it never aborts it.
func (b *Builder) fanOut(ctx context.Context, normalized schemaspec.TaskSpecification) ([]schemapacket.ProviderOutcome, [][]provider.CandidateItem) {
	req := provider.Request{
		Scope:      normalized.Scope,
		TaskType:   normalized.TaskType,
		Summary:    normalized.Summary,
		BudgetHint: normalized.Constraints.MaxItems * overFetchFactor,
	}

	results := make([]providerResult, len(b.providers))
	var wg sync.WaitGroup
	for i, p := range b.providers {
		wg.Add(1)
		go func(index int, p provider.Provider) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()

			started := time.Now()
			items, err := p.Fetch(fetchCtx, req)
			elapsed := time.Since(started).Milliseconds()

			outcome := schemapacket.ProviderOutcome{
				Name:           p.Name(),
				Status:         schemapacket.ProviderStatusOK,
				Candidates:     len(items),
				DurationMillis: elapsed,
			}
			if err != nil {
				outcome.Candidates = 0
				outcome.Error = err.Error()
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
					outcome.Status = schemapacket.ProviderStatusTimeout
				} else {
					outcome.Status = schemapacket.ProviderStatusUnavailable
				}
				b.logger.Warn("provider degraded", "provider", p.Name(), "status", outcome.Status, "error", degradationError(p.Name(), outcome.Status, err))
				results[index] = providerResult{outcome: outcome}
				return
			}
			results[index] = providerResult{outcome: outcome, items: items}
		}(i, p)
	}
	wg.Wait()

	outcomes := make([]schemapacket.ProviderOutcome, len(results))
	candidates := make([][]provider.CandidateItem, len(results))
	for i, result := range results {
		outcomes[i] = result.outcome
		candidates[i] = result.items
	}
	return outcomes, candidates
}

// merge flattens provider results into context items, de-duplicating by
// content hash. The first occurrence wins its slot; later duplicates only
// contribute their origin and may raise the relevance score.
func (b *Builder) merge(candidates [][]provider.CandidateItem) []schemapacket.ContextItem {
	merged := make([]schemapacket.ContextItem, 0)
	index := make(map[string]int)

	for providerIdx, items := range candidates {
		providerName := ""
		if providerIdx < len(b.providers) {
			providerName = b.providers[providerIdx].Name()
		}
		for _, candidate := range items {
			hash := canon.ItemHash(candidate.Name, candidate.Path, candidate.Content)
			if at, seen := index[hash]; seen {
				existing := &merged[at]
				if !containsString(existing.Origins, providerName) {
					existing.Origins = append(existing.Origins, providerName)
				}
				if candidate.Relevance > existing.Relevance {
					existing.Relevance = candidate.Relevance
				}
				continue
			}
			item := schemapacket.ContextItem{
				Name:         candidate.Name,
				Path:         candidate.Path,
				ItemType:     candidate.ItemType,
				Signature:    candidate.Signature,
				Span:         candidate.Span,
				Summary:      candidate.Summary,
				Content:      candidate.Content,
				Dependencies: candidate.Dependencies,
				ContentHash:  hash,
				Origins:      []string{providerName},
				Relevance:    candidate.Relevance,
			}
			item.EstimatedTokens = b.estimator.EstimateItem(item)
			index[hash] = len(merged)
			merged = append(merged, item)
		}
	}
	return merged
}

// itemTypeRank orders item types by how directly they answer a task:
// concrete symbols first, free-text summaries last.
func itemTypeRank(t schemapacket.ItemType) int {
	switch t {
	case schemapacket.ItemTypeSymbol:
		return 0
	case schemapacket.ItemTypeSnippet:
		return 1
	case schemapacket.ItemTypeSummary:
		return 2
	default:
		return 3
	}
}

// rank sorts items by type rank, then relevance descending. The sort is
// stable, so ties keep provider declaration order and provider result
// order, which keeps builds reproducible.
func rank(items []schemapacket.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := itemTypeRank(items[i].ItemType), itemTypeRank(items[j].ItemType)
		if ri != rj {
			return ri < rj
		}
		return items[i].Relevance > items[j].Relevance
	})
}

// trim accepts items greedily in rank order until a budget is exhausted.
// An item that would overflow the token budget is skipped, not truncated.
func trim(items []schemapacket.ContextItem, constraints schemaspec.Constraints) ([]schemapacket.ContextItem, schemapacket.BudgetReport) {
	report := schemapacket.BudgetReport{ItemsConsidered: len(items)}
	included := make([]schemapacket.ContextItem, 0, len(items))
	totalTokens := 0
	for _, item := range items {
		if len(included) >= constraints.MaxItems {
			report.ItemsDropped++
			report.DropReasons = bump(report.DropReasons, "item_budget")
			continue
		}
		if totalTokens+item.EstimatedTokens > constraints.MaxTokens {
			report.ItemsDropped++
			report.DropReasons = bump(report.DropReasons, "token_budget")
			continue
		}
		totalTokens += item.EstimatedTokens
		included = append(included, item)
	}
	report.ItemsIncluded = len(included)
	return included, report
}

// degradationError classifies a provider failure for the log record. The
// build itself absorbs the failure; classification matters to operators
// triaging degraded packets.
func degradationError(name string, status schemapacket.ProviderStatus, cause error) error {
	wrapped := fmt.Errorf("provider %s degraded: %w", name, cause)
	if status == schemapacket.ProviderStatusTimeout {
		return coreerrors.Wrap(wrapped, coreerrors.CategoryProviderTimeout, "PROVIDER_TIMEOUT", "raise the provider timeout or speed up the source", true)
	}
	return coreerrors.Wrap(wrapped, coreerrors.CategoryProviderUnavailable, "PROVIDER_UNAVAILABLE", "check the provider's backing store", true)
}

// conflictError classifies the removal of required items by redaction
// policy. Privacy outranks completeness, so the build releases anyway; the
// classification surfaces the tension to operators.
func conflictError(conflicts []string) error {
	return coreerrors.Wrap(
		fmt.Errorf("redaction removed required items: %s", strings.Join(conflicts, "; ")),
		coreerrors.CategoryRedactionConflict,
		"REDACTION_CONFLICT",
		"narrow the forbidden rules or drop the affected include patterns",
		false,
	)
}

func bump(reasons map[string]int, reason string) map[string]int {
	if reasons == nil {
		reasons = make(map[string]int)
	}
	reasons[reason]++
	return reasons
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
