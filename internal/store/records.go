package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/graphsync/internal/ir"
)

// ErrNotFound is returned when a record id does not exist for its object type.
var ErrNotFound = errors.New("record not found")

// Filter selects records by field values. A record matches when, for every
// key, its field equals one of the listed values. An empty Filter matches
// every record of the type.
//
// Values may be String, Int, or Bool. The identity field filters on the id
// column.
type Filter map[string][]ir.Value

// Eq builds a Filter requiring each field to equal the given value.
func Eq(fields ir.Object) Filter {
	f := make(Filter, len(fields))
	for k, v := range fields {
		f[k] = []ir.Value{v}
	}
	return f
}

// In builds a Filter requiring field to hold one of ids.
func In(field string, ids []int64) Filter {
	vals := make([]ir.Value, len(ids))
	for i, id := range ids {
		vals[i] = ir.Int(id)
	}
	return Filter{field: vals}
}

// Load returns every record of objectType matching filter, ordered by id.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) Load(ctx context.Context, objectType string, filter Filter) ([]ir.Record, error) {
	where, args, err := filter.sql()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", objectType, err)
	}

	query := "SELECT id, fields FROM records WHERE object_type = ?" + where + " ORDER BY id ASC"
	rows, err := s.db.QueryContext(ctx, query, append([]any{objectType}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", objectType, err)
	}
	defer rows.Close()

	recs := []ir.Record{}
	for rows.Next() {
		var (
			id     int64
			fields string
		)
		if err := rows.Scan(&id, &fields); err != nil {
			return nil, fmt.Errorf("load %s: scan: %w", objectType, err)
		}
		rec, err := unmarshalFields(id, fields)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: iterate: %w", objectType, err)
	}
	return recs, nil
}

// Get returns one record and its revision. Returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, objectType string, id int64) (ir.Record, int64, error) {
	return getRecord(ctx, s.db, objectType, id)
}

// sql renders the filter as AND-ed conditions in canonical key order.
func (f Filter) sql() (string, []any, error) {
	keys := make(ir.Object, len(f))
	for k := range f {
		keys[k] = ir.Null{}
	}

	var (
		b    strings.Builder
		args []any
	)
	for _, field := range keys.SortedKeys() {
		vals := f[field]
		if len(vals) == 0 {
			// No acceptable value: nothing can match.
			b.WriteString(" AND 0")
			continue
		}

		if field == ir.IDField {
			b.WriteString(" AND id IN (")
		} else {
			if strings.ContainsAny(field, `"\`) {
				return "", nil, fmt.Errorf("filter field %q: quotes and backslashes are not supported", field)
			}
			b.WriteString(" AND json_extract(fields, ?) IN (")
			args = append(args, `$."`+field+`"`)
		}
		for i, v := range vals {
			arg, err := sqlValue(v)
			if err != nil {
				return "", nil, fmt.Errorf("filter field %q: %w", field, err)
			}
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("?")
			args = append(args, arg)
		}
		b.WriteString(")")
	}
	return b.String(), args, nil
}

// sqlValue converts a scalar to what json_extract returns for it.
func sqlValue(v ir.Value) (any, error) {
	switch v := v.(type) {
	case ir.String:
		return string(v), nil
	case ir.Int:
		return int64(v), nil
	case ir.Bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	default:
		return nil, fmt.Errorf("unsupported filter value %T", v)
	}
}

func getRecord(ctx context.Context, q querier, objectType string, id int64) (ir.Record, int64, error) {
	var (
		fields   string
		revision int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT fields, revision FROM records WHERE object_type = ? AND id = ?`,
		objectType, id,
	).Scan(&fields, &revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("%s %d: %w", objectType, id, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("get %s %d: %w", objectType, id, err)
	}
	rec, err := unmarshalFields(id, fields)
	if err != nil {
		return nil, 0, err
	}
	return rec, revision, nil
}

// deleteRecords removes every id or none: a missing id fails the call and
// the caller's transaction discards the rest.
func deleteRecords(ctx context.Context, q querier, objectType string, ids []int64) error {
	ids = slices.Compact(slices.Sorted(slices.Values(ids)))
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, objectType)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := q.ExecContext(ctx,
		`DELETE FROM records WHERE object_type = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", objectType, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s: rows affected: %w", objectType, err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("delete %s %v: %d of %d rows: %w", objectType, ids, n, len(ids), ErrNotFound)
	}
	return nil
}

// updateRecord merges fields into the stored row and bumps its revision.
// A null value removes the field.
func updateRecord(ctx context.Context, q querier, objectType string, id int64, fields ir.Record) error {
	current, revision, err := getRecord(ctx, q, objectType, id)
	if err != nil {
		return err
	}

	for k, v := range fields {
		if k == ir.IDField {
			continue
		}
		if _, isNull := v.(ir.Null); isNull {
			delete(current, k)
			continue
		}
		current[k] = v
	}

	data, err := marshalFields(current)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", objectType, id, err)
	}
	res, err := q.ExecContext(ctx,
		`UPDATE records SET fields = ?, revision = ? WHERE object_type = ? AND id = ? AND revision = ?`,
		data, revision+1, objectType, id, revision,
	)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", objectType, id, err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return fmt.Errorf("update %s %d: revision %d changed concurrently", objectType, id, revision)
	}
	return nil
}

// createRecord inserts rec and returns the stored form with its new id.
func createRecord(ctx context.Context, q querier, objectType string, rec ir.Record) (ir.Record, error) {
	data, err := marshalFields(rec)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", objectType, err)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO records (object_type, fields) VALUES (?, ?)`,
		objectType, data,
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", objectType, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("create %s: last insert id: %w", objectType, err)
	}
	return Normalize(rec).WithID(id), nil
}
