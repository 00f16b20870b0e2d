// Package validate gatekeeps packets before release. Packet checks collect
// every failure, not just the first, so callers can react once with full
// diagnostics. Validation is idempotent: re-running it on a valid packet
// always succeeds.
package validate

import (
	"fmt"
	"strings"

	"github.com/davidahmann/ctxpack/core/canon"
	coreerrors "github.com/davidahmann/ctxpack/core/errors"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

type ValidationError struct {
	Check  string `json:"check"`
	Detail string `json:"detail"`
}

func (e ValidationError) Error() string {
	return e.Check + ": " + e.Detail
}

// ValidationErrors aggregates every failing check into one error value.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, failure := range e {
		parts = append(parts, failure.Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Spec fail-fast checks the task specification before any provider I/O.
func Spec(input schemaspec.TaskSpecification) error {
	failures := ValidationErrors{}
	if strings.TrimSpace(input.TaskID) == "" {
		failures = append(failures, ValidationError{Check: "task_id", Detail: "task_id is required"})
	}
	if !input.TaskType.Valid() {
		failures = append(failures, ValidationError{Check: "task_type", Detail: fmt.Sprintf("unrecognized task type: %q", input.TaskType)})
	}
	if input.Constraints.MaxTokens <= 0 {
		failures = append(failures, ValidationError{Check: "max_tokens", Detail: "max_tokens must be > 0"})
	}
	if input.Constraints.MaxItems <= 0 {
		failures = append(failures, ValidationError{Check: "max_items", Detail: "max_items must be > 0"})
	}
	if len(failures) == 0 {
		return nil
	}
	return coreerrors.Wrap(failures, coreerrors.CategoryInvalidSpecification, "spec_invalid", "fix the task specification and resubmit", false)
}

// Packet confirms structural and budget compliance of an assembled packet
// against its specification. All failing checks are reported together.
func Packet(p schemapacket.ContextPacket, s schemaspec.TaskSpecification) error {
	failures := ValidationErrors{}

	if p.SchemaID != schemapacket.SchemaID {
		failures = append(failures, ValidationError{Check: "schema_id", Detail: fmt.Sprintf("expected %s, got %q", schemapacket.SchemaID, p.SchemaID)})
	}
	if p.SchemaVersion != schemapacket.SchemaVersion {
		failures = append(failures, ValidationError{Check: "schema_version", Detail: fmt.Sprintf("expected %s, got %q", schemapacket.SchemaVersion, p.SchemaVersion)})
	}
	if !canon.IsSHA256Hex(p.SpecHash) {
		failures = append(failures, ValidationError{Check: "spec_hash", Detail: "spec_hash must be sha256 hex"})
	}
	if strings.TrimSpace(p.BuilderVersion) == "" {
		failures = append(failures, ValidationError{Check: "builder_version", Detail: "builder_version is required"})
	}
	if p.CreatedAt.IsZero() {
		failures = append(failures, ValidationError{Check: "created_at", Detail: "created_at is required"})
	}
	if p.Privacy != schemapacket.PrivacyLocalOnly && p.Privacy != schemapacket.PrivacyRemoteAllowed {
		failures = append(failures, ValidationError{Check: "privacy", Detail: fmt.Sprintf("unrecognized privacy class: %q", p.Privacy)})
	}

	totalTokens := 0
	for i, item := range p.Items {
		if strings.TrimSpace(item.Name) == "" {
			failures = append(failures, ValidationError{Check: "item_name", Detail: fmt.Sprintf("item %d: name is required", i)})
		}
		if strings.TrimSpace(item.Path) == "" {
			failures = append(failures, ValidationError{Check: "item_path", Detail: fmt.Sprintf("item %d: path is required", i)})
		}
		if !item.ItemType.Valid() {
			failures = append(failures, ValidationError{Check: "item_type", Detail: fmt.Sprintf("item %d: unrecognized item type %q", i, item.ItemType)})
		}
		if !canon.IsSHA256Hex(item.ContentHash) {
			failures = append(failures, ValidationError{Check: "item_hash", Detail: fmt.Sprintf("item %d: content_hash must be sha256 hex", i)})
		}
		if len(item.Origins) == 0 {
			failures = append(failures, ValidationError{Check: "item_origins", Detail: fmt.Sprintf("item %d: at least one origin is required", i)})
		}
		if item.EstimatedTokens < 0 {
			failures = append(failures, ValidationError{Check: "item_cost", Detail: fmt.Sprintf("item %d: estimated_tokens must be >= 0", i)})
		}
		totalTokens += item.EstimatedTokens
	}

	if s.Constraints.MaxTokens > 0 && totalTokens > s.Constraints.MaxTokens {
		failures = append(failures, ValidationError{Check: "token_budget", Detail: fmt.Sprintf("total estimated tokens %d exceed max_tokens %d", totalTokens, s.Constraints.MaxTokens)})
	}
	if s.Constraints.MaxItems > 0 && len(p.Items) > s.Constraints.MaxItems {
		failures = append(failures, ValidationError{Check: "item_budget", Detail: fmt.Sprintf("item count %d exceeds max_items %d", len(p.Items), s.Constraints.MaxItems)})
	}

	// A packet with redactions recorded may not claim remote_allowed: the
	// most restrictive rule outcome governs.
	if p.Privacy == schemapacket.PrivacyRemoteAllowed && len(p.Redactions) > 0 {
		failures = append(failures, ValidationError{Check: "privacy_consistency", Detail: "packet with redactions cannot be remote_allowed"})
	}

	if len(failures) == 0 {
		return nil
	}
	return coreerrors.Wrap(failures, coreerrors.CategoryValidationFailed, "packet_invalid", "inspect the failing checks; the packet was not released", false)
}
