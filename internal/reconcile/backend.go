package reconcile

import (
	"context"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/syncer"
)

// Snapshot is a graph's records keyed by collection name.
type Snapshot map[string][]ir.Record

// Clone deep-copies the snapshot's slices and records.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, recs := range s {
		out[name] = ir.CloneRecords(recs)
	}
	return out
}

// Session is the persistence surface for one pass.
//
// AppendChanges writes a whole pass's entries in one batch and fills in each
// entry's Seq (and, for hash-chained sinks, PrevHash and Hash) in place.
type Session interface {
	Ops(objectType string) syncer.Ops
	AppendChanges(ctx context.Context, entries []ir.AuditEntry) error
}

// Backend hands out sessions.
//
// Session returns a best-effort session: every callback commits on its own.
// Atomic runs fn in a session whose writes become visible together when fn
// returns nil and are discarded when it returns an error.
type Backend interface {
	Session(ctx context.Context) Session
	Atomic(ctx context.Context, fn func(Session) error) error
}
