package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/reconcile"
)

// LoadGraph loads the existing state of every collection in schema for one
// scope.
//
// Collections without refs are filtered by the scope fields. Every other
// collection holds the records whose ref fields point at a record already
// loaded for the target collection, so the graph is walked parents-first in
// schema order.
func (s *Store) LoadGraph(ctx context.Context, schema *ir.GraphSchema, scope ir.Object) (reconcile.Snapshot, error) {
	snap := make(reconcile.Snapshot, len(schema.Order))
	for _, name := range schema.Order {
		c, ok := schema.Collection(name)
		if !ok {
			return nil, fmt.Errorf("load graph %s: order names unknown collection %q", schema.Name, name)
		}

		if len(c.Refs) == 0 {
			recs, err := s.Load(ctx, name, Eq(scope))
			if err != nil {
				return nil, fmt.Errorf("load graph %s: %w", schema.Name, err)
			}
			snap[name] = recs
			continue
		}

		byID := make(map[int64]ir.Record)
		for _, field := range c.RefFields() {
			parents := snap[c.Refs[field]]
			if len(parents) == 0 {
				continue
			}
			ids := make([]int64, len(parents))
			for i, p := range parents {
				ids[i] = p.ID()
			}
			recs, err := s.Load(ctx, name, In(field, ids))
			if err != nil {
				return nil, fmt.Errorf("load graph %s: %w", schema.Name, err)
			}
			for _, r := range recs {
				byID[r.ID()] = r
			}
		}

		recs := make([]ir.Record, 0, len(byID))
		for _, r := range byID {
			recs = append(recs, r)
		}
		slices.SortFunc(recs, func(a, b ir.Record) int {
			return cmp.Compare(a.ID(), b.ID())
		})
		snap[name] = recs
	}
	return snap, nil
}
