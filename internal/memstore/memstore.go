// Package memstore is an in-memory record store.
//
// It backs dry-run planning (nothing touches the real store) and serves as
// the persistence fake in tests. Every table write is recorded so callers can
// assert exactly which callbacks ran.
//
// Thread-safety: DB and Table are safe for concurrent use.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/graphsync/internal/ir"
)

// Call is one recorded write.
type Call struct {
	Table  string
	Op     string // "delete_many", "update", "create"
	IDs    []int64
	Fields ir.Record
}

// DB holds any number of tables sharing one identity sequence, plus the
// change log entries appended to it.
type DB struct {
	mu      sync.Mutex
	nextID  int64
	tables  map[string]*Table
	calls   []Call
	entries []ir.AuditEntry
	seq     int64
	fail    map[string]failure
}

type failure struct {
	after int
	err   error
}

// Option configures a DB.
type Option func(*DB)

// WithStartID makes the first assigned identity start.
func WithStartID(start int64) Option {
	return func(db *DB) {
		db.nextID = start - 1
	}
}

// New returns an empty DB. Identities start at 1 unless WithStartID is given.
func New(opts ...Option) *DB {
	db := &DB{
		tables: make(map[string]*Table),
		fail:   make(map[string]failure),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Table returns the named table, creating it on first use.
func (db *DB) Table(name string) *Table {
	db.mu.Lock()
	defer db.mu.Unlock()
	t, ok := db.tables[name]
	if !ok {
		t = &Table{db: db, name: name, rows: make(map[int64]ir.Record)}
		db.tables[name] = t
	}
	return t
}

// Seed inserts rows with their given identities. Rows must carry positive
// ids. The identity sequence moves past the largest seeded id.
func (db *DB) Seed(table string, rows ...ir.Record) error {
	t := db.Table(table)
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, r := range rows {
		if r.IsPlaceholder() {
			return fmt.Errorf("seed %s: row without identity: %v", table, r)
		}
		t.rows[r.ID()] = r.Clone()
		db.nextID = max(db.nextID, r.ID())
	}
	return nil
}

// FailOn makes the n-th (1-based) call of op on table return err.
// op is one of "delete_many", "update", "create".
func (db *DB) FailOn(table, op string, n int, err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fail[table+"/"+op] = failure{after: n, err: err}
}

// Calls returns every recorded write in order.
func (db *DB) Calls() []Call {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.calls)
}

// ResetCalls forgets recorded writes.
func (db *DB) ResetCalls() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = nil
}

// Snapshot returns every table's rows ordered by identity.
func (db *DB) Snapshot() map[string][]ir.Record {
	db.mu.Lock()
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	db.mu.Unlock()

	out := make(map[string][]ir.Record, len(names))
	for _, name := range names {
		out[name] = db.Table(name).Rows()
	}
	return out
}

// AppendChanges assigns sequence numbers in place and stores entries.
func (db *DB) AppendChanges(_ context.Context, entries []ir.AuditEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for i := range entries {
		db.seq++
		entries[i].Seq = db.seq
		db.entries = append(db.entries, entries[i])
	}
	return nil
}

// Entries returns every appended change log entry.
func (db *DB) Entries() []ir.AuditEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	return slices.Clone(db.entries)
}

// record logs a call and reports an injected failure, if any.
// Caller must hold db.mu.
func (db *DB) record(c Call) error {
	db.calls = append(db.calls, c)
	key := c.Table + "/" + c.Op
	f, ok := db.fail[key]
	if !ok {
		return nil
	}
	n := 0
	for _, prev := range db.calls {
		if prev.Table == c.Table && prev.Op == c.Op {
			n++
		}
	}
	if n == f.after {
		return f.err
	}
	return nil
}

// Table is one collection's rows. It satisfies syncer.Ops.
type Table struct {
	db   *DB
	name string
	rows map[int64]ir.Record
}

// DeleteMany removes rows. Unknown ids are an error.
func (t *Table) DeleteMany(_ context.Context, ids []int64) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if err := t.db.record(Call{Table: t.name, Op: "delete_many", IDs: slices.Clone(ids)}); err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := t.rows[id]; !ok {
			return fmt.Errorf("%s %d: not found", t.name, id)
		}
	}
	for _, id := range ids {
		delete(t.rows, id)
	}
	return nil
}

// Update merges fields into row id. A null value removes the field.
func (t *Table) Update(_ context.Context, id int64, fields ir.Record) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if err := t.db.record(Call{Table: t.name, Op: "update", IDs: []int64{id}, Fields: fields.Clone()}); err != nil {
		return err
	}
	row, ok := t.rows[id]
	if !ok {
		return fmt.Errorf("%s %d: not found", t.name, id)
	}
	row = row.Clone()
	for k, v := range fields {
		if k == ir.IDField {
			continue
		}
		if _, isNull := v.(ir.Null); isNull {
			delete(row, k)
			continue
		}
		row[k] = v
	}
	t.rows[id] = row
	return nil
}

// Create stores rec under the next identity and returns the stored row.
// Null-valued fields are not stored.
func (t *Table) Create(_ context.Context, rec ir.Record) (ir.Record, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	if err := t.db.record(Call{Table: t.name, Op: "create", Fields: rec.Clone()}); err != nil {
		return nil, err
	}
	t.db.nextID++
	row := make(ir.Record, len(rec)+1)
	for k, v := range rec {
		if _, isNull := v.(ir.Null); !isNull {
			row[k] = v
		}
	}
	row[ir.IDField] = ir.Int(t.db.nextID)
	t.rows[row.ID()] = row
	return row.Clone(), nil
}

// Rows returns the table's rows ordered by identity.
func (t *Table) Rows() []ir.Record {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]ir.Record, len(ids))
	for i, id := range ids {
		out[i] = t.rows[id].Clone()
	}
	return out
}

// Get returns row id and whether it exists.
func (t *Table) Get(id int64) (ir.Record, bool) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	r, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}
