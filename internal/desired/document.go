// Package desired reads desired-graph documents.
//
// A document is YAML: an optional scope mapping, then one key per collection
// holding a list of records.
//
//	scope:
//	  eventId: 7
//	instance:
//	  - id: -1
//	    status: open
//	node:
//	  - id: -1
//	    instanceId: -1
//	    title: Review
//
// Scope fields are copied onto every record of a root collection (one with
// no references), so a document never has to repeat them.
package desired

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/reconcile"
	"github.com/roach88/graphsync/internal/store"
)

// Document is a parsed desired graph.
type Document struct {
	Scope       map[string]any              `yaml:"scope,omitempty"`
	Collections map[string][]map[string]any `yaml:",inline"`
}

// Parse decodes a YAML document. Every top-level key other than scope is a
// collection, so unknown names are reported by Snapshot against the graph.
func Parse(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse desired graph: %w", err)
	}
	return &doc, nil
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read desired graph: %w", err)
	}
	return Parse(data)
}

// ScopeObject converts the scope mapping. Scope values must be strings,
// integers, or booleans since they select stored records.
func (d *Document) ScopeObject() (ir.Object, error) {
	obj := make(ir.Object, len(d.Scope))
	for k, raw := range d.Scope {
		v, err := ir.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", k, err)
		}
		switch v.(type) {
		case ir.String, ir.Int, ir.Bool:
		default:
			return nil, fmt.Errorf("scope %s: must be a string, integer, or boolean", k)
		}
		obj[k] = v
	}
	return obj, nil
}

// ScopeKey renders scope canonically for use as a lock key.
func ScopeKey(scope ir.Object) (string, error) {
	data, err := ir.MarshalCanonical(scope)
	if err != nil {
		return "", fmt.Errorf("scope key: %w", err)
	}
	return string(data), nil
}

// Snapshot converts the document into records for g.
//
// Records without an identity get a negative placeholder no other record of
// their collection uses. Null fields are dropped, matching how the store
// keeps records.
func (d *Document) Snapshot(g *ir.GraphSchema) (reconcile.Snapshot, error) {
	scope, err := d.ScopeObject()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(d.Collections))
	for name := range d.Collections {
		names = append(names, name)
	}
	slices.Sort(names)

	snap := make(reconcile.Snapshot, len(d.Collections))
	var errs []error
	for _, name := range names {
		c, ok := g.Collection(name)
		if !ok {
			errs = append(errs, fmt.Errorf("collection %q is not part of graph %s", name, g.Name))
			continue
		}
		recs, err := convert(c, d.Collections[name], scope)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snap[name] = recs
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return snap, nil
}

func convert(c ir.CollectionSchema, raw []map[string]any, scope ir.Object) ([]ir.Record, error) {
	recs := make([]ir.Record, 0, len(raw))
	used := make(map[int64]bool)
	for i, fields := range raw {
		v, err := ir.FromGo(fields)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", c.Name, i, err)
		}
		rec := store.Normalize(v.(ir.Object))
		if id, ok := rec[ir.IDField]; ok {
			n, isInt := id.(ir.Int)
			if !isInt {
				return nil, fmt.Errorf("%s[%d]: id must be an integer", c.Name, i)
			}
			used[int64(n)] = true
		}
		recs = append(recs, rec)
	}

	next := int64(-1)
	for i, rec := range recs {
		if _, ok := rec[ir.IDField]; !ok {
			for used[next] {
				next--
			}
			rec[ir.IDField] = ir.Int(next)
			used[next] = true
		}

		if len(c.Refs) == 0 {
			for k, sv := range scope {
				if have, ok := rec[k]; ok && !ir.Equal(have, sv) {
					return nil, fmt.Errorf("%s[%d]: %s conflicts with scope", c.Name, i, k)
				}
				rec[k] = sv
			}
		}
	}
	return recs, nil
}
