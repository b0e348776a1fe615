// Package plan partitions an existing and a desired collection into the
// records to delete, create, and compare for update.
//
// Compute is pure and performs no I/O. It is O(existing × desired), which is
// acceptable because collections are always scoped to one parent.
package plan

import (
	"github.com/roach88/graphsync/internal/ir"
)

// Matcher reports whether an existing record and a desired record denote
// the same row.
//
// The predicate must pair each record with at most one record on the other
// side. A degenerate predicate is a caller error; Compute does not detect it
// and pairs each desired record with the first existing record not yet taken.
type Matcher[T any] func(existing, desired T) bool

// Pair is an existing record matched to its desired counterpart.
type Pair[T any] struct {
	Existing T
	Desired  T
}

// Plan is the partition of one collection.
//
// Invariant: every existing record is in exactly one of ToDelete or
// ToUpdate[i].Existing; every desired record is in exactly one of ToCreate or
// ToUpdate[i].Desired.
type Plan[T any] struct {
	ToDelete []T
	ToCreate []T
	ToUpdate []Pair[T]

	// Desired is the desired collection the plan was computed for.
	Desired []T
}

// Counts summarizes a plan for logging.
type Counts struct {
	Delete int `json:"delete"`
	Create int `json:"create"`
	Update int `json:"update"`
}

// Counts returns the size of each partition.
func (p Plan[T]) Counts() Counts {
	return Counts{Delete: len(p.ToDelete), Create: len(p.ToCreate), Update: len(p.ToUpdate)}
}

// Empty reports whether the plan has nothing to delete or create and no
// pairs to compare.
func (p Plan[T]) Empty() bool {
	return len(p.ToDelete) == 0 && len(p.ToCreate) == 0 && len(p.ToUpdate) == 0
}

// Compute partitions existing and desired using match.
//
// ToDelete keeps existing order; ToCreate and ToUpdate keep desired order.
// Every pairing lands in ToUpdate whether or not fields differ - deciding if
// a write is needed belongs to the caller.
func Compute[T any](existing, desired []T, match Matcher[T]) Plan[T] {
	p := Plan[T]{Desired: desired}
	claimed := make([]bool, len(existing))

	for _, d := range desired {
		idx := -1
		for i, e := range existing {
			if !claimed[i] && match(e, d) {
				idx = i
				break
			}
		}
		if idx < 0 {
			p.ToCreate = append(p.ToCreate, d)
			continue
		}
		claimed[idx] = true
		p.ToUpdate = append(p.ToUpdate, Pair[T]{Existing: existing[idx], Desired: d})
	}

	for i, e := range existing {
		if !claimed[i] {
			p.ToDelete = append(p.ToDelete, e)
		}
	}
	return p
}

// ByID pairs records with the same positive identity. Placeholders never
// match anything.
func ByID(existing, desired ir.Record) bool {
	if desired.IsPlaceholder() {
		return false
	}
	return existing.ID() == desired.ID()
}

// ByFields returns a Matcher comparing a composite natural key. Every named
// field must be present on both sides and canonically equal. With no fields
// it falls back to ByID.
func ByFields(fields ...string) Matcher[ir.Record] {
	if len(fields) == 0 {
		return ByID
	}
	return func(existing, desired ir.Record) bool {
		for _, f := range fields {
			ev, eok := existing[f]
			dv, dok := desired[f]
			if !eok || !dok || !ir.Equal(ev, dv) {
				return false
			}
		}
		return true
	}
}
