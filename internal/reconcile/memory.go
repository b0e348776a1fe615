package reconcile

import (
	"context"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/memstore"
	"github.com/roach88/graphsync/internal/syncer"
)

// MemoryBackend adapts a memstore.DB to Backend. Atomic gives no isolation
// or rollback; it exists for dry runs and tests.
type MemoryBackend struct {
	DB *memstore.DB
}

var _ Backend = MemoryBackend{}

// NewMemoryBackend wraps db.
func NewMemoryBackend(db *memstore.DB) MemoryBackend {
	return MemoryBackend{DB: db}
}

// Session implements Backend.
func (b MemoryBackend) Session(_ context.Context) Session {
	return memSession{db: b.DB}
}

// Atomic implements Backend.
func (b MemoryBackend) Atomic(_ context.Context, fn func(Session) error) error {
	return fn(memSession{db: b.DB})
}

type memSession struct {
	db *memstore.DB
}

func (s memSession) Ops(objectType string) syncer.Ops {
	return s.db.Table(objectType)
}

func (s memSession) AppendChanges(ctx context.Context, entries []ir.AuditEntry) error {
	return s.db.AppendChanges(ctx, entries)
}

// seedMemory copies a snapshot into a fresh memstore.DB. Identities the
// store assigns start after the largest existing one.
func seedMemory(existing Snapshot) (*memstore.DB, error) {
	db := memstore.New()
	for name, recs := range existing {
		if err := db.Seed(name, recs...); err != nil {
			return nil, err
		}
	}
	return db, nil
}
