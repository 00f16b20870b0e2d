// Package store persists the provenance record of every released packet.
// Stores are append-only: records are never updated or deleted, so the
// audit trail of what context was assembled, and why, survives rebuilds.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	coreerrors "github.com/davidahmann/ctxpack/core/errors"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
)

// Record is the durable trace of one packet release.
type Record struct {
	BuildID    string                         `json:"build_id"`
	PacketID   string                         `json:"packet_id"`
	SpecHash   string                         `json:"spec_hash"`
	PacketHash string                         `json:"packet_hash"`
	CreatedAt  time.Time                      `json:"created_at"`
	Privacy    schemapacket.PrivacyClass      `json:"privacy"`
	Provenance schemapacket.Provenance        `json:"provenance"`
	Redactions []schemapacket.RedactionRecord `json:"redactions"`
}

// Store appends provenance records.
type Store interface {
	Persist(ctx context.Context, rec Record) error
}

// RecordForPacket derives the provenance record from a released packet.
func RecordForPacket(p schemapacket.ContextPacket) Record {
	redactions := p.Redactions
	if redactions == nil {
		redactions = []schemapacket.RedactionRecord{}
	}
	return Record{
		BuildID:    p.Provenance.BuildID,
		PacketID:   p.PacketID,
		SpecHash:   p.SpecHash,
		PacketHash: p.PacketHash,
		CreatedAt:  p.CreatedAt,
		Privacy:    p.Privacy,
		Provenance: p.Provenance,
		Redactions: redactions,
	}
}

func validateRecord(rec Record) error {
	var missing []string
	if strings.TrimSpace(rec.BuildID) == "" {
		missing = append(missing, "build_id")
	}
	if strings.TrimSpace(rec.PacketID) == "" {
		missing = append(missing, "packet_id")
	}
	if strings.TrimSpace(rec.SpecHash) == "" {
		missing = append(missing, "spec_hash")
	}
	if strings.TrimSpace(rec.PacketHash) == "" {
		missing = append(missing, "packet_hash")
	}
	if len(missing) > 0 {
		return coreerrors.Wrap(
			fmt.Errorf("provenance record missing %s", strings.Join(missing, ", ")),
			coreerrors.CategoryStorePersistFailed,
			"STORE_INCOMPLETE_RECORD",
			"records must carry build, packet and hash identities",
			false,
		)
	}
	return nil
}
