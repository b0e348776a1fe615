package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for hashing. The version suffix allows a future algorithm
// change without ambiguity between old and new chains.
const (
	DomainChange = "graphsync/change/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryHash computes the chained hash of an audit entry.
//
// The hash covers the previous entry's hash, the entry's sequence number, and
// every persisted field except Hash itself, so altering, dropping, or
// reordering entries breaks the chain.
func EntryHash(prevHash string, e AuditEntry) (string, error) {
	obj := Object{
		"prev_hash":   String(prevHash),
		"seq":         Int(e.Seq),
		"pass_id":     String(e.PassID),
		"action":      String(e.Action),
		"object_type": String(e.ObjectType),
		"primary_key": Int(e.PrimaryKey),
		"context":     String(e.Context),
		"actor":       String(e.Actor),
		"recorded_at": String(e.RecordedAt.UTC().Format(time.RFC3339Nano)),
		"redacted":    Bool(e.Redacted),
	}
	if e.OldValues != nil {
		obj["old_values"] = e.OldValues
	}
	if e.NewValues != nil {
		obj["new_values"] = e.NewValues
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EntryHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainChange, canonical), nil
}

// MustEntryHash is like EntryHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustEntryHash(prevHash string, e AuditEntry) string {
	h, err := EntryHash(prevHash, e)
	if err != nil {
		panic(err)
	}
	return h
}
