package ir

import (
	"log/slog"
	"time"
)

// ChangeAction is the kind of row mutation a ChangeRecord describes.
type ChangeAction string

const (
	ActionInsert ChangeAction = "insert"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// Valid reports whether the action is one of the three known kinds.
func (a ChangeAction) Valid() bool {
	switch a {
	case ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ChangeRecord describes one applied insert, update, or delete.
//
// Inserts carry NewValues only, deletes carry OldValues only, and updates
// carry just the fields that differed.
type ChangeRecord struct {
	Action     ChangeAction `json:"action"`
	ObjectType string       `json:"object_type"`
	PrimaryKey int64        `json:"primary_key"`
	OldValues  Object       `json:"old_values,omitempty"`
	NewValues  Object       `json:"new_values,omitempty"`
}

// LogValue implements slog.LogValuer.
func (c ChangeRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("action", string(c.Action)),
		slog.String("object_type", c.ObjectType),
		slog.Int64("pk", c.PrimaryKey),
	)
}

// Mapping links a placeholder identity to the identity the store assigned.
type Mapping struct {
	ObjectType    string `json:"object_type"`
	PlaceholderID int64  `json:"placeholder_id"`
	RealID        int64  `json:"real_id"`
}

// LogValue implements slog.LogValuer.
func (m Mapping) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("object_type", m.ObjectType),
		slog.Int64("placeholder", m.PlaceholderID),
		slog.Int64("real", m.RealID),
	)
}

// AuditEntry is a ChangeRecord as persisted in the change log.
//
// Seq, PrevHash, and Hash are assigned by the store at append time. Entries
// are never updated or deleted once written.
type AuditEntry struct {
	Seq        int64        `json:"seq"`
	PassID     string       `json:"pass_id"`
	Action     ChangeAction `json:"action"`
	ObjectType string       `json:"object_type"`
	PrimaryKey int64        `json:"primary_key"`
	OldValues  Object       `json:"old_values,omitempty"`
	NewValues  Object       `json:"new_values,omitempty"`
	Context    string       `json:"context"`
	Actor      string       `json:"actor"`
	RecordedAt time.Time    `json:"recorded_at"`
	Redacted   bool         `json:"redacted,omitempty"`
	PrevHash   string       `json:"prev_hash,omitempty"`
	Hash       string       `json:"hash,omitempty"`
}

// Change returns the ChangeRecord portion of the entry.
func (e AuditEntry) Change() ChangeRecord {
	return ChangeRecord{
		Action:     e.Action,
		ObjectType: e.ObjectType,
		PrimaryKey: e.PrimaryKey,
		OldValues:  e.OldValues,
		NewValues:  e.NewValues,
	}
}
