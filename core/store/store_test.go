package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	coreerrors "github.com/davidahmann/ctxpack/core/errors"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

func testRecord(buildID, packetID string) Record {
	return Record{
		BuildID:    buildID,
		PacketID:   packetID,
		SpecHash:   strings.Repeat("a", 64),
		PacketHash: strings.Repeat("b", 64),
		CreatedAt:  time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Privacy:    schemapacket.PrivacyLocalOnly,
		Provenance: schemapacket.Provenance{
			BuildID:  buildID,
			CacheKey: strings.Repeat("a", 64),
			Providers: []schemapacket.ProviderOutcome{
				{Name: "symbols", Status: schemapacket.ProviderStatusOK, Candidates: 4, DurationMillis: 7},
			},
			Budget: schemapacket.BudgetReport{ItemsConsidered: 4, ItemsIncluded: 2, ItemsDropped: 2},
		},
		Redactions: []schemapacket.RedactionRecord{},
	}
}

func TestRecordForPacket(t *testing.T) {
	p := schemapacket.ContextPacket{
		PacketID:   "packet-1",
		SpecHash:   strings.Repeat("a", 64),
		PacketHash: strings.Repeat("b", 64),
		CreatedAt:  time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		Privacy:    schemapacket.PrivacyLocalOnly,
		Provenance: schemapacket.Provenance{BuildID: "build-1"},
	}
	rec := RecordForPacket(p)
	if rec.BuildID != "build-1" || rec.PacketID != "packet-1" {
		t.Fatalf("unexpected identities: %+v", rec)
	}
	if rec.Redactions == nil {
		t.Fatalf("redactions must be non-nil for stable serialization")
	}
}

func TestFileStorePersistAndReadBack(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "provenance.jsonl"))
	ctx := context.Background()

	if err := s.Persist(ctx, testRecord("build-1", "packet-1")); err != nil {
		t.Fatalf("persist error: %v", err)
	}
	if err := s.Persist(ctx, testRecord("build-2", "packet-2")); err != nil {
		t.Fatalf("persist error: %v", err)
	}

	records, err := s.Records()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].BuildID != "build-1" || records[1].BuildID != "build-2" {
		t.Fatalf("append order not preserved: %+v", records)
	}
	if records[0].Provenance.Providers[0].Name != "symbols" {
		t.Fatalf("provenance block lost on round trip: %+v", records[0].Provenance)
	}
}

func TestFileStoreRejectsIncompleteRecord(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "provenance.jsonl"))
	rec := testRecord("build-1", "packet-1")
	rec.PacketHash = ""
	err := s.Persist(context.Background(), rec)
	if err == nil {
		t.Fatalf("expected error for incomplete record")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryStorePersistFailed {
		t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
	}
}

func TestFileStoreCancelledContext(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "provenance.jsonl"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Persist(ctx, testRecord("build-1", "packet-1")); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}

func TestFileStoreMissingFileReadsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "absent.jsonl"))
	records, err := s.Records()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestSQLiteStorePersistAndQuery(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "provenance.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer func() {
		_ = s.Close()
	}()
	ctx := context.Background()

	rec := testRecord("build-1", "packet-1")
	rec.Redactions = []schemapacket.RedactionRecord{{
		ItemHash:   strings.Repeat("c", 64),
		ItemPath:   "config/.env",
		RuleID:     "deny_env_files",
		Action:     schemapacket.RedactionActionDrop,
		RecordedAt: rec.CreatedAt,
	}}
	if err := s.Persist(ctx, rec); err != nil {
		t.Fatalf("persist error: %v", err)
	}
	if err := s.Persist(ctx, testRecord("build-2", "packet-2")); err != nil {
		t.Fatalf("persist error: %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 records, got %d", count)
	}

	records, err := s.BySpecHash(ctx, strings.Repeat("a", 64))
	if err != nil {
		t.Fatalf("query error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records for spec hash, got %d", len(records))
	}
	got := records[0]
	if got.BuildID != "build-1" || got.Privacy != schemapacket.PrivacyLocalOnly {
		t.Fatalf("record identity lost: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("timestamp round trip mismatch: %s != %s", got.CreatedAt, rec.CreatedAt)
	}
	if len(got.Redactions) != 1 || got.Redactions[0].RuleID != "deny_env_files" {
		t.Fatalf("redactions lost on round trip: %+v", got.Redactions)
	}
	if got.Provenance.Budget.ItemsIncluded != 2 {
		t.Fatalf("provenance block lost on round trip: %+v", got.Provenance)
	}
}

func TestSQLiteStoreRejectsDuplicateRelease(t *testing.T) {
	s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "provenance.db"))
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	defer func() {
		_ = s.Close()
	}()
	ctx := context.Background()

	rec := testRecord("build-1", "packet-1")
	if err := s.Persist(ctx, rec); err != nil {
		t.Fatalf("persist error: %v", err)
	}
	err = s.Persist(ctx, rec)
	if err == nil {
		t.Fatalf("expected error for duplicate release")
	}
	if coreerrors.CategoryOf(err) != coreerrors.CategoryStorePersistFailed {
		t.Fatalf("unexpected category: %s", coreerrors.CategoryOf(err))
	}
}
