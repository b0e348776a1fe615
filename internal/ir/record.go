package ir

import "slices"

// IDField is the identity field every record carries.
const IDField = "id"

// Record is one entity row as the engine sees it: an opaque field bag with
// an integer identity under IDField.
type Record = Object

// ID returns the record identity, or 0 when the field is missing or not an Int.
func (obj Object) ID() int64 {
	if n, ok := obj[IDField].(Int); ok {
		return int64(n)
	}
	return 0
}

// IsPlaceholder reports whether the record stands for a row that has not
// been created yet (identity <= 0 or absent).
func (obj Object) IsPlaceholder() bool {
	return obj.ID() <= 0
}

// WithID returns a shallow copy of the record with its identity replaced.
func (obj Object) WithID(id int64) Object {
	out := obj.Clone()
	out[IDField] = Int(id)
	return out
}

// Clone returns a shallow copy. Values are immutable by convention, so
// sharing nested Arrays and Objects between copies is safe.
func (obj Object) Clone() Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = v
	}
	return out
}

// Pick returns a copy holding only the named fields that are present.
func (obj Object) Pick(fields ...string) Object {
	out := make(Object, len(fields))
	for _, f := range fields {
		if v, ok := obj[f]; ok {
			out[f] = v
		}
	}
	return out
}

// Omit returns a copy without the named fields.
func (obj Object) Omit(fields ...string) Object {
	out := make(Object, len(obj))
	for k, v := range obj {
		if !slices.Contains(fields, k) {
			out[k] = v
		}
	}
	return out
}

// IntField returns the named field as an int64 and whether it was an Int.
func (obj Object) IntField(name string) (int64, bool) {
	n, ok := obj[name].(Int)
	return int64(n), ok
}

// CloneRecords copies a collection so rewrites never touch caller memory.
func CloneRecords(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out
}
