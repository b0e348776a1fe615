package syncer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/memstore"
	"github.com/roach88/graphsync/internal/plan"
)

func rec(id int64, kv ...any) ir.Record {
	r := ir.Record{"id": ir.Int(id)}
	for i := 0; i+1 < len(kv); i += 2 {
		v, err := ir.FromGo(kv[i+1])
		if err != nil {
			panic(err)
		}
		r[kv[i].(string)] = v
	}
	return r
}

func seededDB(t *testing.T, table string, rows ...ir.Record) *memstore.DB {
	t.Helper()
	db := memstore.New(memstore.WithStartID(100))
	require.NoError(t, db.Seed(table, rows...))
	return db
}

// Scenario: existing [{1,A}], desired [{1,A},{-1,B}].
func TestSync_CreatesPlaceholderAndSkipsUnchanged(t *testing.T) {
	db := seededDB(t, "song", rec(1, "name", "A"))
	s := New(db.Table("song"))

	res, err := s.Sync(context.Background(), Collection{ObjectType: "song"},
		[]ir.Record{rec(1, "name", "A")},
		[]ir.Record{rec(1, "name", "A"), rec(-1, "name", "B")})
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ir.ActionInsert, res.Changes[0].Action)
	assert.Equal(t, ir.String("B"), res.Changes[0].NewValues["name"])

	require.Len(t, res.Mappings, 1)
	assert.Equal(t, ir.Mapping{ObjectType: "song", PlaceholderID: -1, RealID: 100}, res.Mappings[0])
	assert.Equal(t, res.Changes[0].PrimaryKey, res.Mappings[0].RealID)

	calls := db.Calls()
	require.Len(t, calls, 1, "unchanged pair issues no write")
	assert.Equal(t, "create", calls[0].Op)
	assert.NotContains(t, calls[0].Fields, "id", "placeholder identity is never written")

	assert.Equal(t, []ir.Record{rec(1, "name", "A"), rec(100, "name", "B")}, res.State)
}

// Scenario: assignees keyed by userId; client ids are always 0.
func TestSync_NaturalKeyMatch(t *testing.T) {
	db := seededDB(t, "assignee", rec(1, "userId", 5), rec(2, "userId", 6))
	s := New(db.Table("assignee"))

	res, err := s.Sync(context.Background(),
		Collection{ObjectType: "assignee", Match: plan.ByFields("userId")},
		[]ir.Record{rec(1, "userId", 5), rec(2, "userId", 6)},
		[]ir.Record{rec(0, "userId", 6)})
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ir.ChangeRecord{
		Action:     ir.ActionDelete,
		ObjectType: "assignee",
		PrimaryKey: 1,
		OldValues:  rec(1, "userId", 5),
	}, res.Changes[0])
	assert.Empty(t, res.Mappings)
	assert.Equal(t, []ir.Record{rec(2, "userId", 6)}, res.State, "matched record adopts existing id")
	assert.Equal(t, plan.Counts{Delete: 1, Update: 1}, res.Planned)
}

func TestSync_UpdateWritesOnlyChangedFields(t *testing.T) {
	db := seededDB(t, "node", rec(1, "title", "old", "position", 1, "revision", 3))
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(),
		Collection{ObjectType: "node", Ignore: []string{"revision"}},
		[]ir.Record{rec(1, "title", "old", "position", 1, "revision", 3)},
		[]ir.Record{rec(1, "title", "new", "position", 1, "revision", 9)})
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ir.ChangeRecord{
		Action:     ir.ActionUpdate,
		ObjectType: "node",
		PrimaryKey: 1,
		OldValues:  ir.Record{"title": ir.String("old")},
		NewValues:  ir.Record{"title": ir.String("new")},
	}, res.Changes[0])

	calls := db.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ir.Record{"title": ir.String("new")}, calls[0].Fields)
}

func TestSync_UpdatableRestrictsDiff(t *testing.T) {
	db := seededDB(t, "node", rec(1, "title", "a", "computed", "x"))
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(),
		Collection{ObjectType: "node", Updatable: []string{"title"}},
		[]ir.Record{rec(1, "title", "a", "computed", "x")},
		[]ir.Record{rec(1, "title", "a", "computed", "y")})
	require.NoError(t, err)

	assert.Empty(t, res.Changes)
	assert.Empty(t, db.Calls())
}

func TestSync_DroppedUpdatableFieldIsClearedWithNull(t *testing.T) {
	db := seededDB(t, "node", rec(1, "title", "a", "notes", "n"))
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(),
		Collection{ObjectType: "node", Updatable: []string{"title", "notes"}},
		[]ir.Record{rec(1, "title", "a", "notes", "n")},
		[]ir.Record{rec(1, "title", "a")})
	require.NoError(t, err)

	require.Len(t, res.Changes, 1)
	assert.Equal(t, ir.Record{"notes": ir.String("n")}, res.Changes[0].OldValues)
	assert.Equal(t, ir.Record{"notes": ir.Null{}}, res.Changes[0].NewValues)

	row, _ := db.Table("node").Get(1)
	assert.NotContains(t, row, "notes")
}

func TestSync_DeletesInOneCall(t *testing.T) {
	db := seededDB(t, "node", rec(1), rec(2), rec(3))
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(), Collection{ObjectType: "node"},
		[]ir.Record{rec(1), rec(2), rec(3)}, nil)
	require.NoError(t, err)

	calls := db.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "delete_many", calls[0].Op)
	assert.Equal(t, []int64{1, 2, 3}, calls[0].IDs)
	assert.Len(t, res.Changes, 3)
	assert.Empty(t, res.State)
}

func TestSync_NoDeletionsSkipsDeletes(t *testing.T) {
	db := seededDB(t, "node", rec(1), rec(2))
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(), Collection{ObjectType: "node", NoDeletions: true},
		[]ir.Record{rec(1), rec(2)}, []ir.Record{rec(2)})
	require.NoError(t, err)

	assert.Empty(t, res.Changes, "deletions are neither executed nor logged")
	assert.Empty(t, db.Calls())
	assert.Equal(t, 1, res.Planned.Delete, "the plan still computes them")
	assert.Len(t, db.Table("node").Rows(), 2)
}

func TestSync_CreatableStripsFields(t *testing.T) {
	db := memstore.New()
	s := New(db.Table("node"))

	_, err := s.Sync(context.Background(),
		Collection{ObjectType: "node", Creatable: []string{"id", "title"}},
		nil, []ir.Record{rec(-3, "title", "t", "status", "computed")})
	require.NoError(t, err)

	calls := db.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, ir.Record{"title": ir.String("t")}, calls[0].Fields)
}

func TestSync_OrderIsDeleteUpdateCreate(t *testing.T) {
	db := seededDB(t, "node", rec(1, "v", 1), rec(2, "v", 1))
	s := New(db.Table("node"))

	_, err := s.Sync(context.Background(), Collection{ObjectType: "node"},
		[]ir.Record{rec(1, "v", 1), rec(2, "v", 1)},
		[]ir.Record{rec(-1, "v", 0), rec(2, "v", 2)})
	require.NoError(t, err)

	var ops []string
	for _, c := range db.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{"delete_many", "update", "create"}, ops)
}

func TestSync_Idempotent(t *testing.T) {
	db := seededDB(t, "node", rec(1, "title", "a"), rec(2, "title", "b"))
	s := New(db.Table("node"))
	ctx := context.Background()
	c := Collection{ObjectType: "node"}

	first, err := s.Sync(ctx, c, db.Table("node").Rows(),
		[]ir.Record{rec(2, "title", "B"), rec(-1, "title", "c"), rec(-2, "title", "d")})
	require.NoError(t, err)
	require.NotEmpty(t, first.Changes)

	db.ResetCalls()
	second, err := s.Sync(ctx, c, db.Table("node").Rows(), first.State)
	require.NoError(t, err)

	assert.Empty(t, second.Changes)
	assert.Empty(t, second.Mappings)
	assert.Empty(t, db.Calls())
}

func TestSync_MappingPerCreate(t *testing.T) {
	db := seededDB(t, "node", rec(1), rec(2))
	s := New(db.Table("node"))

	desired := []ir.Record{rec(1), rec(-1), rec(-2), rec(0), rec(77)}
	res, err := s.Sync(context.Background(), Collection{ObjectType: "node"},
		[]ir.Record{rec(1), rec(2)}, desired)
	require.NoError(t, err)

	require.Len(t, res.Mappings, res.Planned.Create)
	placeholders := make([]int64, len(res.Mappings))
	for i, m := range res.Mappings {
		placeholders[i] = m.PlaceholderID
		assert.Positive(t, m.RealID)
	}
	assert.Equal(t, []int64{-1, -2, 0, 77}, placeholders, "unknown positive ids are created too")
}

func TestSync_CallbackFailureAborts(t *testing.T) {
	db := seededDB(t, "node", rec(1, "v", 1))
	boom := errors.New("disk full")
	db.FailOn("node", "update", 1, boom)
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(), Collection{ObjectType: "node"},
		[]ir.Record{rec(1, "v", 1)},
		[]ir.Record{rec(1, "v", 2), rec(-1, "v", 3)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var opErr *OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, OpUpdate, opErr.Op)
	assert.Equal(t, "node", opErr.ObjectType)
	assert.Equal(t, []int64{1}, opErr.IDs)

	assert.Empty(t, res.Mappings, "creates after the failure never run")
	for _, c := range db.Calls() {
		assert.NotEqual(t, "create", c.Op)
	}
}

func TestSync_PartialWritesAreNotRolledBack(t *testing.T) {
	db := memstore.New()
	db.FailOn("node", "create", 2, errors.New("constraint"))
	s := New(db.Table("node"))

	res, err := s.Sync(context.Background(), Collection{ObjectType: "node"},
		nil, []ir.Record{rec(-1), rec(-2), rec(-3)})
	require.Error(t, err)

	assert.Len(t, res.Changes, 1)
	assert.Len(t, db.Table("node").Rows(), 1)
}

func TestSync_CreateWithoutIdentity(t *testing.T) {
	ops := OpsFuncs{CreateFunc: func(_ context.Context, r ir.Record) (ir.Record, error) {
		return r, nil
	}}
	_, err := New(ops).Sync(context.Background(), Collection{ObjectType: "node"}, nil, []ir.Record{rec(-1)})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestSync_CanceledContext(t *testing.T) {
	db := memstore.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(db.Table("node")).Sync(ctx, Collection{ObjectType: "node"}, nil, []ir.Record{rec(-1)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, db.Calls())
}

func TestSync_DoesNotMutateInputs(t *testing.T) {
	db := seededDB(t, "node", rec(1, "v", 1))
	existing := []ir.Record{rec(1, "v", 1)}
	desired := []ir.Record{rec(1, "v", 2), rec(-1, "v", 3)}

	_, err := New(db.Table("node")).Sync(context.Background(), Collection{ObjectType: "node"}, existing, desired)
	require.NoError(t, err)

	assert.Equal(t, []ir.Record{rec(1, "v", 1)}, existing)
	assert.Equal(t, []ir.Record{rec(1, "v", 2), rec(-1, "v", 3)}, desired)
}

func TestFromSchema(t *testing.T) {
	c := FromSchema(ir.CollectionSchema{
		Name:        "assignee",
		Updatable:   []string{"role"},
		Match:       []string{"userId"},
		NoDeletions: true,
	})

	assert.Equal(t, "assignee", c.ObjectType)
	assert.True(t, c.NoDeletions)
	assert.True(t, c.Match(rec(1, "userId", 3), rec(0, "userId", 3)))
}

func TestOpsFuncs_Unsupported(t *testing.T) {
	var ops OpsFuncs
	ctx := context.Background()
	assert.Error(t, ops.DeleteMany(ctx, []int64{1}))
	assert.Error(t, ops.Update(ctx, 1, ir.Record{}))
	_, err := ops.Create(ctx, ir.Record{})
	assert.Error(t, err)
}
