package canon

import (
	"strings"
	"testing"
	"time"

	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

func TestCanonicalizeJSON(t *testing.T) {
	in := []byte(`{ "b":2, "a":1 }`)
	want := `{"a":1,"b":2}`
	out, err := CanonicalizeJSON(in)
	if err != nil {
		t.Fatalf("canonicalize error: %v", err)
	}
	if string(out) != want {
		t.Fatalf("unexpected canonical form: %s", string(out))
	}
}

func TestDigestJCSStable(t *testing.T) {
	a := []byte(`{"a":1,"b":2}`)
	b := []byte(`{ "b":2, "a":1 }`)

	da, err := DigestJCS(a)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	db, err := DigestJCS(b)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	if da != db {
		t.Fatalf("expected same digest for equivalent JSON")
	}
}

func TestSpecHashCanonicalEquality(t *testing.T) {
	left := schemaspec.TaskSpecification{
		TaskID:   "task-1",
		TaskType: schemaspec.TaskTypeReview,
		Summary:  "  review the cache layer ",
		Scope: schemaspec.Scope{
			Roots:   []string{"src/", "lib/"},
			Include: []string{"**/*.go", "**/*.md"},
		},
		Constraints: schemaspec.Constraints{MaxTokens: 100, MaxItems: 3},
	}
	right := schemaspec.TaskSpecification{
		TaskID:   " task-1 ",
		TaskType: "REVIEW",
		Summary:  "review the cache layer",
		Scope: schemaspec.Scope{
			Roots:   []string{"lib/", "src/", "src/"},
			Include: []string{"**/*.md", "**/*.go"},
		},
		Constraints: schemaspec.Constraints{MaxTokens: 100, MaxItems: 3},
	}

	hl, err := SpecHash(left)
	if err != nil {
		t.Fatalf("spec hash error: %v", err)
	}
	hr, err := SpecHash(right)
	if err != nil {
		t.Fatalf("spec hash error: %v", err)
	}
	if hl != hr {
		t.Fatalf("expected equal hashes for canonically equal specs: %s != %s", hl, hr)
	}
	if !IsSHA256Hex(hl) {
		t.Fatalf("spec hash is not sha256 hex: %s", hl)
	}
}

func TestSpecHashDistinguishesConstraints(t *testing.T) {
	base := schemaspec.TaskSpecification{
		TaskID:      "task-1",
		TaskType:    schemaspec.TaskTypeReview,
		Constraints: schemaspec.Constraints{MaxTokens: 100, MaxItems: 3},
	}
	other := base
	other.Constraints.MaxTokens = 200

	hb, err := SpecHash(base)
	if err != nil {
		t.Fatalf("spec hash error: %v", err)
	}
	ho, err := SpecHash(other)
	if err != nil {
		t.Fatalf("spec hash error: %v", err)
	}
	if hb == ho {
		t.Fatalf("expected different hashes for different constraints")
	}
}

func TestItemHashStable(t *testing.T) {
	a := ItemHash("Foo", "pkg/foo.go", "func Foo() {}")
	b := ItemHash("Foo", "pkg/foo.go", "func Foo() {}")
	c := ItemHash("Foo", "pkg/foo.go", "func Foo() { return }")
	if a != b {
		t.Fatalf("expected identical hashes for identical items")
	}
	if a == c {
		t.Fatalf("expected different hashes for different content")
	}
	if !IsSHA256Hex(a) {
		t.Fatalf("item hash is not sha256 hex: %s", a)
	}
}

func TestPacketHashIgnoresVolatileFields(t *testing.T) {
	base := schemapacket.ContextPacket{
		SchemaID:      schemapacket.SchemaID,
		SchemaVersion: schemapacket.SchemaVersion,
		SpecHash:      strings.Repeat("a", 64),
		Privacy:       schemapacket.PrivacyLocalOnly,
		Items: []schemapacket.ContextItem{
			{Name: "Foo", Path: "pkg/foo.go", ItemType: schemapacket.ItemTypeSymbol, Content: "func Foo() {}", ContentHash: strings.Repeat("b", 64), Origins: []string{"symbols"}},
		},
	}
	other := base
	other.PacketID = "different-id"
	other.CreatedAt = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)
	other.Provenance = schemapacket.Provenance{BuildID: "x", CacheKey: "y"}

	hb, err := PacketHash(base)
	if err != nil {
		t.Fatalf("packet hash error: %v", err)
	}
	ho, err := PacketHash(other)
	if err != nil {
		t.Fatalf("packet hash error: %v", err)
	}
	if hb != ho {
		t.Fatalf("expected packet hash to ignore packet id, creation time and provenance")
	}

	tampered := base
	tampered.Items = []schemapacket.ContextItem{base.Items[0]}
	tampered.Items[0].Content = "func Foo() { return }"
	ht, err := PacketHash(tampered)
	if err != nil {
		t.Fatalf("packet hash error: %v", err)
	}
	if ht == hb {
		t.Fatalf("expected packet hash to change when item content changes")
	}
}

func TestPacketHashIgnoresRedactionTimestamps(t *testing.T) {
	record := schemapacket.RedactionRecord{
		ItemHash:   strings.Repeat("c", 64),
		ItemPath:   "config/.env",
		RuleID:     "deny_env_files",
		Action:     schemapacket.RedactionActionDrop,
		RecordedAt: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	base := schemapacket.ContextPacket{
		SchemaID:      schemapacket.SchemaID,
		SchemaVersion: schemapacket.SchemaVersion,
		SpecHash:      strings.Repeat("a", 64),
		Privacy:       schemapacket.PrivacyLocalOnly,
		Redactions:    []schemapacket.RedactionRecord{record},
	}
	later := base
	later.Redactions = []schemapacket.RedactionRecord{record}
	later.Redactions[0].RecordedAt = record.RecordedAt.Add(time.Hour)

	hb, err := PacketHash(base)
	if err != nil {
		t.Fatalf("packet hash error: %v", err)
	}
	hl, err := PacketHash(later)
	if err != nil {
		t.Fatalf("packet hash error: %v", err)
	}
	if hb != hl {
		t.Fatalf("expected packet hash to ignore redaction timestamps")
	}
	if base.Redactions[0].RecordedAt != record.RecordedAt {
		t.Fatalf("hashing must not mutate the caller's redaction records")
	}

	otherRule := base
	otherRule.Redactions = []schemapacket.RedactionRecord{record}
	otherRule.Redactions[0].RuleID = "deny_pem_files"
	ho, err := PacketHash(otherRule)
	if err != nil {
		t.Fatalf("packet hash error: %v", err)
	}
	if ho == hb {
		t.Fatalf("expected packet hash to change when the redaction rule changes")
	}
}

func TestDecodeStrictRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	if err := DecodeStrict([]byte(`{"name":"x","extra":1}`), &target); err == nil {
		t.Fatalf("expected error for unknown field")
	}
	if err := DecodeStrict([]byte(`{"name":"x"}{"name":"y"}`), &target); err == nil {
		t.Fatalf("expected error for trailing values")
	}
	if err := DecodeStrict([]byte(`{"name":"x"}`), &target); err != nil {
		t.Fatalf("decode error: %v", err)
	}
}
