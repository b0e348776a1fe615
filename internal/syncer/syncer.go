package syncer

import (
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/graphsync/internal/diff"
	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/plan"
)

// Collection describes how one collection is reconciled.
type Collection struct {
	ObjectType string

	// Updatable restricts diffing and updates to these fields. Empty means
	// every field except Ignore.
	Updatable []string

	// Ignore lists derived or non-authoritative fields. The identity field is
	// always ignored.
	Ignore []string

	// Creatable restricts what is written on create. Empty means every field
	// except the identity.
	Creatable []string

	// Match pairs existing and desired records. Nil means plan.ByID.
	Match plan.Matcher[ir.Record]

	// NoDeletions computes deletions but never executes or logs them.
	NoDeletions bool
}

// FromSchema builds a Collection from a compiled collection schema.
func FromSchema(c ir.CollectionSchema) Collection {
	return Collection{
		ObjectType:  c.Name,
		Updatable:   c.Updatable,
		Ignore:      c.Ignore,
		Creatable:   c.Creatable,
		Match:       plan.ByFields(c.Match...),
		NoDeletions: c.NoDeletions,
	}
}

// Result is the outcome of one Sync call.
type Result struct {
	// Changes lists every applied write: deletes, then updates, then inserts.
	Changes []ir.ChangeRecord

	// Mappings has exactly one entry per created record.
	Mappings []ir.Mapping

	// State is the desired collection in desired order with every identity
	// resolved: created records as returned by the store, matched records
	// carrying the existing identity.
	State []ir.Record

	// Planned is the size of each plan partition before diffing.
	Planned plan.Counts
}

// Syncer applies collection plans through a set of Ops.
type Syncer struct {
	ops    Ops
	logger *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// New returns a Syncer writing through ops.
func New(ops Ops, opts ...Option) *Syncer {
	s := &Syncer{ops: ops, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// item carries a record's position in its input slice through planning so
// the resolved state can be rebuilt in desired order.
type item struct {
	idx int
	rec ir.Record
}

func index(recs []ir.Record) []item {
	out := make([]item, len(recs))
	for i, r := range recs {
		out[i] = item{idx: i, rec: r}
	}
	return out
}

// Sync reconciles existing against desired for one collection.
//
// On error the returned Result holds the changes applied before the failure.
func (s *Syncer) Sync(ctx context.Context, c Collection, existing, desired []ir.Record) (*Result, error) {
	match := c.Match
	if match == nil {
		match = plan.ByID
	}
	p := plan.Compute(index(existing), index(desired), func(e, d item) bool {
		return match(e.rec, d.rec)
	})

	res := &Result{
		State:   make([]ir.Record, len(desired)),
		Planned: p.Counts(),
	}
	log := s.logger.With("object_type", c.ObjectType)
	log.Debug("collection planned",
		"delete", res.Planned.Delete, "create", res.Planned.Create, "update", res.Planned.Update)

	if err := s.applyDeletes(ctx, c, p.ToDelete, res); err != nil {
		return res, err
	}
	if err := s.applyUpdates(ctx, c, p.ToUpdate, res); err != nil {
		return res, err
	}
	if err := s.applyCreates(ctx, c, p.ToCreate, res); err != nil {
		return res, err
	}

	log.Debug("collection synced", "changes", len(res.Changes), "mappings", len(res.Mappings))
	return res, nil
}

func (s *Syncer) applyDeletes(ctx context.Context, c Collection, toDelete []item, res *Result) error {
	if c.NoDeletions || len(toDelete) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ids := make([]int64, len(toDelete))
	for i, it := range toDelete {
		ids[i] = it.rec.ID()
	}
	if err := s.ops.DeleteMany(ctx, ids); err != nil {
		return &OpError{ObjectType: c.ObjectType, Op: OpDelete, IDs: ids, Err: err}
	}

	for _, it := range toDelete {
		res.Changes = append(res.Changes, ir.ChangeRecord{
			Action:     ir.ActionDelete,
			ObjectType: c.ObjectType,
			PrimaryKey: it.rec.ID(),
			OldValues:  it.rec.Clone(),
		})
	}
	return nil
}

func (s *Syncer) applyUpdates(ctx context.Context, c Collection, pairs []plan.Pair[item], res *Result) error {
	opts := []diff.Option{diff.Ignore(c.Ignore...)}
	if len(c.Updatable) > 0 {
		opts = append(opts, diff.Only(c.Updatable...))
	}

	for _, pair := range pairs {
		id := pair.Existing.rec.ID()
		res.State[pair.Desired.idx] = pair.Desired.rec.WithID(id)

		d := diff.Compare(pair.Existing.rec, pair.Desired.rec, opts...)
		if !d.Changed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fields := updatePayload(d)
		if err := s.ops.Update(ctx, id, fields); err != nil {
			return &OpError{ObjectType: c.ObjectType, Op: OpUpdate, IDs: []int64{id}, Err: err}
		}
		res.Changes = append(res.Changes, ir.ChangeRecord{
			Action:     ir.ActionUpdate,
			ObjectType: c.ObjectType,
			PrimaryKey: id,
			OldValues:  d.Old,
			NewValues:  fields,
		})
	}
	return nil
}

// updatePayload is the diff's new values plus an explicit Null for every
// field the desired record dropped.
func updatePayload(d diff.Result) ir.Record {
	fields := d.New.Clone()
	for _, f := range d.Fields {
		if _, ok := fields[f]; !ok {
			fields[f] = ir.Null{}
		}
	}
	return fields
}

func (s *Syncer) applyCreates(ctx context.Context, c Collection, toCreate []item, res *Result) error {
	for _, it := range toCreate {
		if err := ctx.Err(); err != nil {
			return err
		}

		placeholder := it.rec.ID()
		fields := creatableFields(c, it.rec)
		created, err := s.ops.Create(ctx, fields)
		if err == nil && (created == nil || created.IsPlaceholder()) {
			err = ErrNoIdentity
		}
		if err != nil {
			return &OpError{ObjectType: c.ObjectType, Op: OpCreate, IDs: []int64{placeholder}, Err: err}
		}

		res.State[it.idx] = created
		res.Changes = append(res.Changes, ir.ChangeRecord{
			Action:     ir.ActionInsert,
			ObjectType: c.ObjectType,
			PrimaryKey: created.ID(),
			NewValues:  created.Clone(),
		})
		res.Mappings = append(res.Mappings, ir.Mapping{
			ObjectType:    c.ObjectType,
			PlaceholderID: placeholder,
			RealID:        created.ID(),
		})
	}
	return nil
}

func creatableFields(c Collection, rec ir.Record) ir.Record {
	if len(c.Creatable) == 0 {
		return rec.Omit(ir.IDField)
	}
	fields := slices.DeleteFunc(slices.Clone(c.Creatable), func(f string) bool {
		return f == ir.IDField
	})
	return rec.Pick(fields...)
}
