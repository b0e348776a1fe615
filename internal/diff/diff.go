// Package diff compares two records of the same shape and reports the
// fields that actually changed.
//
// Compare is pure and deterministic. Values compare by canonical JSON, so
// nested arrays and objects are equal exactly when their serialized forms
// are. A key that is absent on one side differs from every present value,
// including null.
package diff

import (
	"slices"

	"github.com/roach88/graphsync/internal/ir"
)

// Result is the outcome of comparing record a (before) with record b (after).
//
// Invariant: Changed is false iff Old and New are both empty.
type Result struct {
	Changed bool

	// Old holds the differing fields as they appear in a. A field missing
	// from a is missing here too.
	Old ir.Record

	// New holds the differing fields as they appear in b. A field missing
	// from b is missing here too.
	New ir.Record

	// Fields names every differing field in canonical key order.
	Fields []string
}

// Option configures a comparison.
type Option func(*options)

type options struct {
	ignore []string
	only   []string
}

// Ignore excludes fields from comparison. The identity field is always
// ignored; use this for derived fields such as parent keys or revisions.
func Ignore(fields ...string) Option {
	return func(o *options) {
		o.ignore = append(o.ignore, fields...)
	}
}

// Only restricts comparison to the named fields. Ignore still applies on
// top of it. Calling Only with no fields is a no-op.
func Only(fields ...string) Option {
	return func(o *options) {
		o.only = append(o.only, fields...)
	}
}

// Compare reports which fields differ between a and b.
func Compare(a, b ir.Record, opts ...Option) Result {
	o := options{ignore: []string{ir.IDField}}
	for _, opt := range opts {
		opt(&o)
	}

	res := Result{Old: ir.Record{}, New: ir.Record{}}
	for _, k := range candidateFields(a, b, o) {
		av, aok := a[k]
		bv, bok := b[k]
		if aok == bok && (!aok || ir.Equal(av, bv)) {
			continue
		}
		if aok {
			res.Old[k] = av
		}
		if bok {
			res.New[k] = bv
		}
		res.Fields = append(res.Fields, k)
	}
	res.Changed = len(res.Fields) > 0
	return res
}

// candidateFields returns the union of keys (or the Only list) minus the
// ignore list, in canonical order.
func candidateFields(a, b ir.Record, o options) []string {
	union := ir.Object{}
	if len(o.only) > 0 {
		for _, k := range o.only {
			union[k] = ir.Null{}
		}
	} else {
		for k := range a {
			union[k] = ir.Null{}
		}
		for k := range b {
			union[k] = ir.Null{}
		}
	}

	keys := union.SortedKeys()
	return slices.DeleteFunc(keys, func(k string) bool {
		return slices.Contains(o.ignore, k)
	})
}
