package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/davidahmann/ctxpack/core/canon"
	coreerrors "github.com/davidahmann/ctxpack/core/errors"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS provenance_records (
	build_id    TEXT NOT NULL,
	packet_id   TEXT NOT NULL,
	spec_hash   TEXT NOT NULL,
	packet_hash TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	privacy     TEXT NOT NULL,
	provenance  TEXT NOT NULL,
	redactions  TEXT NOT NULL,
	PRIMARY KEY (build_id, packet_id)
);
CREATE INDEX IF NOT EXISTS idx_provenance_spec_hash ON provenance_records (spec_hash);
`

// SQLiteStore appends provenance records to a SQLite database. The table
// carries no UPDATE or DELETE path; the primary key only guards against
// double-inserting the same release.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and if needed initializes) the store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open provenance store: %w", err)
	}
	s := &SQLiteStore{db: db}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize provenance store: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Persist(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	provenance, err := canon.CanonicalJSON(rec.Provenance)
	if err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("encode provenance block: %w", err),
			coreerrors.CategoryStorePersistFailed,
			"STORE_ENCODE_FAILED",
			"the record could not be serialized",
			false,
		)
	}
	redactions := rec.Redactions
	if redactions == nil {
		redactions = []schemapacket.RedactionRecord{}
	}
	redactionsJSON, err := canon.CanonicalJSON(redactions)
	if err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("encode redaction records: %w", err),
			coreerrors.CategoryStorePersistFailed,
			"STORE_ENCODE_FAILED",
			"the record could not be serialized",
			false,
		)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO provenance_records
			(build_id, packet_id, spec_hash, packet_hash, created_at, privacy, provenance, redactions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.BuildID,
		rec.PacketID,
		rec.SpecHash,
		rec.PacketHash,
		rec.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000000Z07:00"),
		string(rec.Privacy),
		string(provenance),
		string(redactionsJSON),
	)
	if err != nil {
		return coreerrors.Wrap(
			fmt.Errorf("insert provenance record: %w", err),
			coreerrors.CategoryStorePersistFailed,
			"STORE_INSERT_FAILED",
			"check that the provenance database is writable",
			true,
		)
	}
	return nil
}

// Count reports how many records the store holds.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM provenance_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count provenance records: %w", err)
	}
	return count, nil
}

// BySpecHash returns the records persisted for one specification hash, in
// insertion order.
func (s *SQLiteStore) BySpecHash(ctx context.Context, specHash string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT build_id, packet_id, spec_hash, packet_hash, created_at, privacy, provenance, redactions
		FROM provenance_records
		WHERE spec_hash = ?
		ORDER BY rowid
	`, specHash)
	if err != nil {
		return nil, fmt.Errorf("query provenance records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec            Record
			createdAt      string
			privacy        string
			provenanceJSON string
			redactionsJSON string
		)
		if err := rows.Scan(&rec.BuildID, &rec.PacketID, &rec.SpecHash, &rec.PacketHash, &createdAt, &privacy, &provenanceJSON, &redactionsJSON); err != nil {
			return nil, fmt.Errorf("scan provenance record: %w", err)
		}
		rec.CreatedAt, err = parseStoredTime(createdAt)
		if err != nil {
			return nil, err
		}
		rec.Privacy = privacyFromStored(privacy)
		if err := canon.DecodeStrict([]byte(provenanceJSON), &rec.Provenance); err != nil {
			return nil, fmt.Errorf("parse provenance block: %w", err)
		}
		if err := canon.DecodeStrict([]byte(redactionsJSON), &rec.Redactions); err != nil {
			return nil, fmt.Errorf("parse redaction records: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provenance records: %w", err)
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}

func parseStoredTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored timestamp %q: %w", value, err)
	}
	return parsed, nil
}

func privacyFromStored(value string) schemapacket.PrivacyClass {
	if value == string(schemapacket.PrivacyRemoteAllowed) {
		return schemapacket.PrivacyRemoteAllowed
	}
	return schemapacket.PrivacyLocalOnly
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*FileStore)(nil)
