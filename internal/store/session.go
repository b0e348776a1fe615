package store

import (
	"context"
	"database/sql"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/reconcile"
	"github.com/roach88/graphsync/internal/syncer"
)

var _ reconcile.Backend = (*Store)(nil)

// session binds record and change log writes to either the pool
// (best-effort) or one transaction.
type session struct {
	store *Store
	tx    *sql.Tx // nil in best-effort mode
}

// Session returns a best-effort session. Every write commits on its own.
func (s *Store) Session(_ context.Context) reconcile.Session {
	return &session{store: s}
}

// Atomic runs fn in one transaction. Nothing fn writes is visible unless it
// returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(reconcile.Session) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&session{store: s, tx: tx})
	})
}

// Ops returns best-effort persistence callbacks for objectType.
func (s *Store) Ops(objectType string) syncer.Ops {
	return (&session{store: s}).Ops(objectType)
}

// AppendChanges appends entries in their own transaction.
func (s *Store) AppendChanges(ctx context.Context, entries []ir.AuditEntry) error {
	return (&session{store: s}).AppendChanges(ctx, entries)
}

func (s *session) Ops(objectType string) syncer.Ops {
	return &recordOps{sess: s, objectType: objectType}
}

func (s *session) AppendChanges(ctx context.Context, entries []ir.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.run(ctx, func(q querier) error {
		return appendChanges(ctx, q, entries)
	})
}

// run executes fn inside the session transaction, or inside a short
// transaction of its own in best-effort mode, so a single callback is never
// half-applied.
func (s *session) run(ctx context.Context, fn func(q querier) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	return s.store.inTx(ctx, func(tx *sql.Tx) error {
		return fn(tx)
	})
}

// recordOps implements syncer.Ops for one object type.
type recordOps struct {
	sess       *session
	objectType string
}

func (o *recordOps) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return o.sess.run(ctx, func(q querier) error {
		return deleteRecords(ctx, q, o.objectType, ids)
	})
}

func (o *recordOps) Update(ctx context.Context, id int64, fields ir.Record) error {
	return o.sess.run(ctx, func(q querier) error {
		return updateRecord(ctx, q, o.objectType, id, fields)
	})
}

func (o *recordOps) Create(ctx context.Context, rec ir.Record) (ir.Record, error) {
	var created ir.Record
	err := o.sess.run(ctx, func(q querier) error {
		var err error
		created, err = createRecord(ctx, q, o.objectType, rec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
