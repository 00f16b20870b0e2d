// Package packet defines the wire form of an assembled context packet and
// its persisted document representation. Packets are immutable after
// construction; any change to content requires a new packet with a new hash.
package packet

import (
	"time"

	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

const (
	SchemaID      = "ctxpack.packet"
	SchemaVersion = "1.0.0"
)

type PrivacyClass string

const (
	PrivacyLocalOnly     PrivacyClass = "local_only"
	PrivacyRemoteAllowed PrivacyClass = "remote_allowed"
)

type ItemType string

const (
	ItemTypeSymbol  ItemType = "symbol"
	ItemTypeSnippet ItemType = "snippet"
	ItemTypeSummary ItemType = "summary"
	ItemTypeOther   ItemType = "other"
)

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeSymbol, ItemTypeSnippet, ItemTypeSummary, ItemTypeOther:
		return true
	default:
		return false
	}
}

type Span struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// ContextItem is one retrieved unit of context. Items are value objects:
// never mutated in place, only removed by trimming or replaced by a masked
// copy during redaction.
type ContextItem struct {
	Name            string   `json:"name"`
	Path            string   `json:"path"`
	ItemType        ItemType `json:"item_type"`
	Signature       string   `json:"signature,omitempty"`
	Span            *Span    `json:"span,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	Content         string   `json:"content"`
	Dependencies    []string `json:"dependencies,omitempty"`
	ContentHash     string   `json:"content_hash"`
	Origins         []string `json:"origins"`
	Relevance       float64  `json:"relevance"`
	EstimatedTokens int      `json:"estimated_tokens"`
	Masked          bool     `json:"masked,omitempty"`
}

type RedactionAction string

const (
	RedactionActionDrop RedactionAction = "drop"
	RedactionActionMask RedactionAction = "mask"
)

// RedactionRecord explains one removal or masking. Records are append-only
// during a build and become part of the packet's audit trail.
type RedactionRecord struct {
	ItemHash   string          `json:"item_hash"`
	ItemName   string          `json:"item_name,omitempty"`
	ItemPath   string          `json:"item_path,omitempty"`
	RuleID     string          `json:"rule_id"`
	Action     RedactionAction `json:"action"`
	RecordedAt time.Time       `json:"recorded_at"`
}

type ProviderStatus string

const (
	ProviderStatusOK          ProviderStatus = "ok"
	ProviderStatusTimeout     ProviderStatus = "timeout"
	ProviderStatusUnavailable ProviderStatus = "unavailable"
)

type ProviderOutcome struct {
	Name           string         `json:"name"`
	Status         ProviderStatus `json:"status"`
	Candidates     int            `json:"candidates"`
	DurationMillis int64          `json:"duration_millis"`
	Error          string         `json:"error,omitempty"`
}

type BudgetReport struct {
	ItemsConsidered int            `json:"items_considered"`
	ItemsIncluded   int            `json:"items_included"`
	ItemsDropped    int            `json:"items_dropped"`
	DropReasons     map[string]int `json:"drop_reasons,omitempty"`
}

type Provenance struct {
	BuildID      string            `json:"build_id"`
	CacheKey     string            `json:"cache_key"`
	PolicyDigest string            `json:"policy_digest,omitempty"`
	Providers    []ProviderOutcome `json:"providers"`
	Budget       BudgetReport      `json:"budget"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// ContextPacket is the finished artifact handed to a generative backend.
type ContextPacket struct {
	SchemaID       string            `json:"schema_id"`
	SchemaVersion  string            `json:"schema_version"`
	PacketID       string            `json:"packet_id"`
	SpecHash       string            `json:"spec_hash"`
	CreatedAt      time.Time         `json:"created_at"`
	BuilderVersion string            `json:"builder_version"`
	Privacy        PrivacyClass      `json:"privacy"`
	Items          []ContextItem     `json:"items"`
	Redactions     []RedactionRecord `json:"redactions"`
	PacketHash     string            `json:"packet_hash"`
	Provenance     Provenance        `json:"provenance"`
}

// Document is the persisted, versioned representation of a packet together
// with the specification it answered. Older documents remain parseable as
// long as schema_version is honored.
type Document struct {
	Header     Header        `json:"header"`
	Problem    Problem       `json:"problem"`
	Context    []ContextItem `json:"context"`
	Invariants []string      `json:"invariants"`
	Policy     PolicyBlock   `json:"policy"`
	Provenance Provenance    `json:"provenance"`
}

type Header struct {
	SchemaID       string    `json:"schema_id"`
	SchemaVersion  string    `json:"schema_version"`
	PacketID       string    `json:"packet_id"`
	SpecHash       string    `json:"spec_hash"`
	PacketHash     string    `json:"packet_hash"`
	CreatedAt      time.Time `json:"created_at"`
	BuilderVersion string    `json:"builder_version"`
}

type Problem struct {
	TaskID      string                 `json:"task_id"`
	TaskType    string                 `json:"task_type"`
	Summary     string                 `json:"summary"`
	Scope       schemaspec.Scope       `json:"scope"`
	Constraints schemaspec.Constraints `json:"constraints"`
}

type PolicyBlock struct {
	RedactionsApplied []RedactionRecord `json:"redactions_applied"`
	RemoteAllowed     bool              `json:"remote_allowed"`
	PolicyDigest      string            `json:"policy_digest,omitempty"`
}
