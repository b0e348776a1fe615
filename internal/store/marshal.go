package store

import (
	"database/sql"
	"fmt"

	"github.com/roach88/graphsync/internal/ir"
)

// Normalize returns rec without null-valued fields, the form records take
// once stored.
func Normalize(rec ir.Record) ir.Record {
	out := make(ir.Record, len(rec))
	for k, v := range rec {
		if _, isNull := v.(ir.Null); isNull {
			continue
		}
		out[k] = v
	}
	return out
}

// marshalFields converts a record to canonical JSON TEXT for the fields
// column. The identity is stored in its own column and is left out.
func marshalFields(rec ir.Record) (string, error) {
	data, err := ir.MarshalCanonical(Normalize(rec.Omit(ir.IDField)))
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses a fields column back into a record carrying id.
func unmarshalFields(id int64, data string) (ir.Record, error) {
	rec, err := decodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal fields of record %d: %w", id, err)
	}
	rec[ir.IDField] = ir.Int(id)
	return rec, nil
}

// marshalPayload converts an optional payload to a nullable TEXT column.
func marshalPayload(obj ir.Object) (sql.NullString, error) {
	if obj == nil {
		return sql.NullString{}, nil
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal payload: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalPayload is the inverse of marshalPayload.
func unmarshalPayload(col sql.NullString) (ir.Object, error) {
	if !col.Valid {
		return nil, nil
	}
	return decodeObject(col.String)
}

func decodeObject(data string) (ir.Object, error) {
	v, err := ir.DecodeJSON([]byte(data))
	if err != nil {
		return nil, err
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", v)
	}
	return obj, nil
}
