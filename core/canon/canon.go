// Package canon provides canonical serialization and deterministic hashing.
// All cache keys and packet hashes derive from the RFC 8785 (JCS) canonical
// form so equivalent inputs always map to identical digests.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gowebpki/jcs"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

// CanonicalizeJSON returns the RFC 8785 (JCS) canonical form of JSON input.
func CanonicalizeJSON(input []byte) ([]byte, error) {
	return jcs.Transform(input)
}

// CanonicalJSON marshals a value and canonicalizes the result.
func CanonicalJSON(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// DigestJCS canonicalizes JSON (RFC 8785) and returns a sha256 hex digest.
func DigestJCS(input []byte) (string, error) {
	canonical, err := CanonicalizeJSON(input)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SHA256Hex returns the sha256 hex digest of raw bytes.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IsSHA256Hex reports whether value is a 64-character hex string.
func IsSHA256Hex(value string) bool {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) != 64 {
		return false
	}
	_, err := hex.DecodeString(trimmed)
	return err == nil
}

// NormalizeSpec returns a copy of the specification with whitespace trimmed
// and scope lists sorted and de-duplicated. Two specifications that
// normalize to the same value are the same request for caching purposes.
func NormalizeSpec(input schemaspec.TaskSpecification) schemaspec.TaskSpecification {
	normalized := input
	normalized.TaskID = strings.TrimSpace(input.TaskID)
	normalized.TaskType = schemaspec.TaskType(strings.ToLower(strings.TrimSpace(string(input.TaskType))))
	normalized.Summary = strings.TrimSpace(input.Summary)
	normalized.Scope.Roots = normalizeList(input.Scope.Roots)
	normalized.Scope.Include = normalizeList(input.Scope.Include)
	normalized.Scope.Exclude = normalizeList(input.Scope.Exclude)
	return normalized
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// SpecHash computes the cache key for a task specification: sha256 over the
// canonical form of the normalized specification.
func SpecHash(input schemaspec.TaskSpecification) (string, error) {
	raw, err := json.Marshal(NormalizeSpec(input))
	if err != nil {
		return "", fmt.Errorf("marshal specification: %w", err)
	}
	digest, err := DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest specification: %w", err)
	}
	return digest, nil
}

// ItemHash computes the per-item content hash used for de-duplication and
// redaction bookkeeping.
func ItemHash(name, path, content string) string {
	payload := name + "\x00" + path + "\x00" + content
	return SHA256Hex([]byte(payload))
}

// PacketHash computes the packet digest with volatile identity fields
// zeroed, so two builds of the same specification against the same
// knowledge state hash identically regardless of packet ID, build
// timestamps or provider timings.
func PacketHash(input schemapacket.ContextPacket) (string, error) {
	hashable := input
	hashable.PacketHash = ""
	hashable.PacketID = ""
	hashable.CreatedAt = time.Time{}
	hashable.Provenance = schemapacket.Provenance{}
	if len(input.Redactions) > 0 {
		redactions := make([]schemapacket.RedactionRecord, len(input.Redactions))
		copy(redactions, input.Redactions)
		for i := range redactions {
			redactions[i].RecordedAt = time.Time{}
		}
		hashable.Redactions = redactions
	}
	raw, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal packet: %w", err)
	}
	digest, err := DigestJCS(raw)
	if err != nil {
		return "", fmt.Errorf("digest packet: %w", err)
	}
	return digest, nil
}

// DecodeStrict decodes a single JSON value, rejecting unknown fields and
// trailing data.
func DecodeStrict(payload []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	var trailing any
	if err := decoder.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple json values")
		}
		return err
	}
	return nil
}
