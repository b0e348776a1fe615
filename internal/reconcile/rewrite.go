package reconcile

import (
	"fmt"

	"github.com/roach88/graphsync/internal/ir"
)

// idMap records, per collection, the identity each desired record's
// original identity resolved to: the store-assigned one for created records,
// the existing one for records matched by natural key.
type idMap map[string]map[int64]int64

// resolve pairs desired records with the state Sync returned for them.
func (m idMap) resolve(objectType string, desired, state []ir.Record) {
	for i, rec := range desired {
		orig, ok := rec.IntField(ir.IDField)
		if !ok || i >= len(state) || state[i] == nil {
			continue
		}
		real := state[i].ID()
		if real == orig {
			continue
		}
		ids, ok := m[objectType]
		if !ok {
			ids = make(map[int64]int64)
			m[objectType] = ids
		}
		ids[orig] = real
	}
}

// rewriteRefs returns recs with every reference field that names a mapped
// identity of its target collection replaced by the real identity.
// Records are copied before they are changed.
func rewriteRefs(c ir.CollectionSchema, recs []ir.Record, m idMap) ([]ir.Record, int) {
	if len(c.Refs) == 0 || len(recs) == 0 {
		return recs, 0
	}

	fields := c.RefFields()
	out := make([]ir.Record, len(recs))
	rewritten := 0
	for i, rec := range recs {
		out[i] = rec
		copied := false
		for _, field := range fields {
			ref, ok := rec.IntField(field)
			if !ok {
				continue
			}
			real, ok := m[c.Refs[field]][ref]
			if !ok || real == ref {
				continue
			}
			if !copied {
				out[i] = rec.Clone()
				copied = true
			}
			out[i][field] = ir.Int(real)
			rewritten++
		}
	}
	return out, rewritten
}

// unresolvedRef is a reference field still holding a placeholder.
type unresolvedRef struct {
	Index  int
	Field  string
	Target string
	Value  int64
}

func (u unresolvedRef) String() string {
	return fmt.Sprintf("record %d: %s=%d (-> %s)", u.Index, u.Field, u.Value, u.Target)
}

// findUnresolved lists reference fields whose value is a placeholder.
func findUnresolved(c ir.CollectionSchema, recs []ir.Record) []unresolvedRef {
	var out []unresolvedRef
	fields := c.RefFields()
	for i, rec := range recs {
		for _, field := range fields {
			ref, ok := rec.IntField(field)
			if ok && ref <= 0 {
				out = append(out, unresolvedRef{Index: i, Field: field, Target: c.Refs[field], Value: ref})
			}
		}
	}
	return out
}
