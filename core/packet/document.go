// Package packet builds, persists and verifies the versioned document form
// of a context packet. Documents are written in canonical JSON so a
// re-encoded document is byte-identical and the packet hash doubles as a
// tamper-evidence value.
package packet

import (
	"fmt"
	"os"
	"strings"

	"github.com/davidahmann/ctxpack/core/canon"
	"github.com/davidahmann/ctxpack/core/fsx"
	schemapacket "github.com/davidahmann/ctxpack/core/schema/v1/packet"
	schemaspec "github.com/davidahmann/ctxpack/core/schema/v1/spec"
)

const maxDocumentBytes = int64(32 * 1024 * 1024)

// packetInvariants are the properties every released packet satisfies;
// they are recorded in the document so an auditor can re-check them.
var packetInvariants = []string{
	"sum(items.estimated_tokens) <= constraints.max_tokens",
	"len(items) <= constraints.max_items",
	"every removed or masked item has a redaction record",
	"privacy is the most restrictive of all rule outcomes",
	"packet_hash covers the canonical packet form",
}

// NewDocument assembles the persisted representation of a packet and the
// specification it answered.
func NewDocument(p schemapacket.ContextPacket, s schemaspec.TaskSpecification) schemapacket.Document {
	normalized := canon.NormalizeSpec(s)
	redactions := p.Redactions
	if redactions == nil {
		redactions = []schemapacket.RedactionRecord{}
	}
	items := p.Items
	if items == nil {
		items = []schemapacket.ContextItem{}
	}
	return schemapacket.Document{
		Header: schemapacket.Header{
			SchemaID:       p.SchemaID,
			SchemaVersion:  p.SchemaVersion,
			PacketID:       p.PacketID,
			SpecHash:       p.SpecHash,
			PacketHash:     p.PacketHash,
			CreatedAt:      p.CreatedAt,
			BuilderVersion: p.BuilderVersion,
		},
		Problem: schemapacket.Problem{
			TaskID:      normalized.TaskID,
			TaskType:    string(normalized.TaskType),
			Summary:     normalized.Summary,
			Scope:       normalized.Scope,
			Constraints: normalized.Constraints,
		},
		Context:    items,
		Invariants: packetInvariants,
		Policy: schemapacket.PolicyBlock{
			RedactionsApplied: redactions,
			RemoteAllowed:     p.Privacy == schemapacket.PrivacyRemoteAllowed,
			PolicyDigest:      p.Provenance.PolicyDigest,
		},
		Provenance: p.Provenance,
	}
}

// EncodeDocument serializes a packet document in canonical form.
func EncodeDocument(p schemapacket.ContextPacket, s schemaspec.TaskSpecification) ([]byte, error) {
	payload, err := canon.CanonicalJSON(NewDocument(p, s))
	if err != nil {
		return nil, fmt.Errorf("encode packet document: %w", err)
	}
	return payload, nil
}

// DecodeDocument parses a persisted document, rejecting unknown fields and
// unsupported schema identities.
func DecodeDocument(payload []byte) (schemapacket.Document, error) {
	var doc schemapacket.Document
	if err := canon.DecodeStrict(payload, &doc); err != nil {
		return schemapacket.Document{}, fmt.Errorf("parse packet document: %w", err)
	}
	if doc.Header.SchemaID != schemapacket.SchemaID {
		return schemapacket.Document{}, fmt.Errorf("unsupported packet schema_id: %s", doc.Header.SchemaID)
	}
	if doc.Header.SchemaVersion != schemapacket.SchemaVersion {
		return schemapacket.Document{}, fmt.Errorf("unsupported packet schema_version: %s", doc.Header.SchemaVersion)
	}
	if strings.TrimSpace(doc.Header.PacketID) == "" {
		return schemapacket.Document{}, fmt.Errorf("packet document missing packet_id")
	}
	if !canon.IsSHA256Hex(doc.Header.SpecHash) {
		return schemapacket.Document{}, fmt.Errorf("packet document spec_hash must be sha256 hex")
	}
	if !canon.IsSHA256Hex(doc.Header.PacketHash) {
		return schemapacket.Document{}, fmt.Errorf("packet document packet_hash must be sha256 hex")
	}
	return doc, nil
}

// PacketFromDocument reconstructs the in-memory packet from its persisted
// form.
func PacketFromDocument(doc schemapacket.Document) schemapacket.ContextPacket {
	privacy := schemapacket.PrivacyLocalOnly
	if doc.Policy.RemoteAllowed {
		privacy = schemapacket.PrivacyRemoteAllowed
	}
	return schemapacket.ContextPacket{
		SchemaID:       doc.Header.SchemaID,
		SchemaVersion:  doc.Header.SchemaVersion,
		PacketID:       doc.Header.PacketID,
		SpecHash:       doc.Header.SpecHash,
		CreatedAt:      doc.Header.CreatedAt,
		BuilderVersion: doc.Header.BuilderVersion,
		Privacy:        privacy,
		Items:          doc.Context,
		Redactions:     doc.Policy.RedactionsApplied,
		PacketHash:     doc.Header.PacketHash,
		Provenance:     doc.Provenance,
	}
}

type VerifyResult struct {
	PacketID     string `json:"packet_id"`
	DeclaredHash string `json:"declared_hash"`
	ComputedHash string `json:"computed_hash"`
	HashMatches  bool   `json:"hash_matches"`
}

// VerifyDocument recomputes the packet hash from a persisted document and
// compares it with the declared hash, surfacing tampering.
func VerifyDocument(payload []byte) (VerifyResult, error) {
	doc, err := DecodeDocument(payload)
	if err != nil {
		return VerifyResult{}, err
	}
	reconstructed := PacketFromDocument(doc)
	computed, err := canon.PacketHash(reconstructed)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("recompute packet hash: %w", err)
	}
	return VerifyResult{
		PacketID:     doc.Header.PacketID,
		DeclaredHash: doc.Header.PacketHash,
		ComputedHash: computed,
		HashMatches:  strings.EqualFold(computed, doc.Header.PacketHash),
	}, nil
}

// WriteDocument persists a packet document atomically.
func WriteDocument(path string, p schemapacket.ContextPacket, s schemaspec.TaskSpecification) error {
	payload, err := EncodeDocument(p, s)
	if err != nil {
		return err
	}
	if err := fsx.WriteFileAtomic(path, payload, 0o600); err != nil {
		return fmt.Errorf("write packet document: %w", err)
	}
	return nil
}

// ReadDocument loads and parses a persisted packet document.
func ReadDocument(path string) (schemapacket.Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return schemapacket.Document{}, fmt.Errorf("stat packet document: %w", err)
	}
	if info.Size() > maxDocumentBytes {
		return schemapacket.Document{}, fmt.Errorf("packet document exceeds size limit (%d bytes)", maxDocumentBytes)
	}
	// #nosec G304 -- document path is explicit local user input.
	payload, err := os.ReadFile(path)
	if err != nil {
		return schemapacket.Document{}, fmt.Errorf("read packet document: %w", err)
	}
	return DecodeDocument(payload)
}
