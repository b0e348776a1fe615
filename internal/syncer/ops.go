package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/graphsync/internal/ir"
)

// Ops is the persistence surface for one collection.
type Ops interface {
	// DeleteMany removes every listed row.
	DeleteMany(ctx context.Context, ids []int64) error

	// Update writes the given fields onto row id. Fields not present are
	// left alone; an explicit Null clears a field.
	Update(ctx context.Context, id int64, fields ir.Record) error

	// Create inserts a row and returns it with its store-assigned identity.
	Create(ctx context.Context, rec ir.Record) (ir.Record, error)
}

// OpsFuncs adapts three functions to Ops.
type OpsFuncs struct {
	DeleteManyFunc func(ctx context.Context, ids []int64) error
	UpdateFunc     func(ctx context.Context, id int64, fields ir.Record) error
	CreateFunc     func(ctx context.Context, rec ir.Record) (ir.Record, error)
}

// DeleteMany implements Ops.
func (f OpsFuncs) DeleteMany(ctx context.Context, ids []int64) error {
	if f.DeleteManyFunc == nil {
		return errors.New("delete not supported")
	}
	return f.DeleteManyFunc(ctx, ids)
}

// Update implements Ops.
func (f OpsFuncs) Update(ctx context.Context, id int64, fields ir.Record) error {
	if f.UpdateFunc == nil {
		return errors.New("update not supported")
	}
	return f.UpdateFunc(ctx, id, fields)
}

// Create implements Ops.
func (f OpsFuncs) Create(ctx context.Context, rec ir.Record) (ir.Record, error) {
	if f.CreateFunc == nil {
		return nil, errors.New("create not supported")
	}
	return f.CreateFunc(ctx, rec)
}

// Op names the callback that failed.
type Op string

const (
	OpDelete Op = "delete"
	OpUpdate Op = "update"
	OpCreate Op = "create"
)

// ErrNoIdentity is returned when Create hands back a record without a
// positive identity.
var ErrNoIdentity = errors.New("created record has no identity")

// OpError reports a failed persistence callback.
type OpError struct {
	ObjectType string
	Op         Op

	// IDs holds the affected identities: every id for a delete, the row id
	// for an update, the placeholder id for a create.
	IDs []int64

	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s %v: %v", e.Op, e.ObjectType, e.IDs, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
