package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/reconcile"
)

func TestOps_CreateAssignsIdentity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ops := s.Ops("node")

	a, err := ops.Create(ctx, ir.Record{"title": ir.String("Intro"), "notes": ir.Null{}})
	require.NoError(t, err)
	b, err := ops.Create(ctx, ir.Record{"id": ir.Int(-1), "title": ir.String("Outro")})
	require.NoError(t, err)

	assert.Equal(t, int64(1), a.ID())
	assert.Equal(t, int64(2), b.ID(), "placeholder id is replaced")
	assert.Equal(t, ir.Record{"id": ir.Int(1), "title": ir.String("Intro")}, a, "null fields are not stored")

	got, rev, err := s.Get(ctx, "node", 2)
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.Equal(t, int64(1), rev)
}

func TestOps_IdentitySharedAcrossTypes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	a, err := s.Ops("instance").Create(ctx, ir.Record{})
	require.NoError(t, err)
	b, err := s.Ops("node").Create(ctx, ir.Record{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestOps_UpdateMergesAndBumpsRevision(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ops := s.Ops("node")

	created, err := ops.Create(ctx, ir.Record{"title": ir.String("a"), "notes": ir.String("n"), "pos": ir.Int(1)})
	require.NoError(t, err)

	err = ops.Update(ctx, created.ID(), ir.Record{"id": ir.Int(999), "title": ir.String("b"), "notes": ir.Null{}})
	require.NoError(t, err)

	got, rev, err := s.Get(ctx, "node", created.ID())
	require.NoError(t, err)
	assert.Equal(t, ir.Record{"id": ir.Int(created.ID()), "title": ir.String("b"), "pos": ir.Int(1)}, got)
	assert.Equal(t, int64(2), rev)
}

func TestOps_UpdateMissing(t *testing.T) {
	s := createTestStore(t)
	err := s.Ops("node").Update(context.Background(), 42, ir.Record{"title": ir.String("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOps_UpdateWrongType(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	created, err := s.Ops("node").Create(ctx, ir.Record{})
	require.NoError(t, err)

	err = s.Ops("assignee").Update(ctx, created.ID(), ir.Record{"x": ir.Int(1)})
	assert.ErrorIs(t, err, ErrNotFound, "ids are scoped by object type")
}

func TestOps_DeleteManyAllOrNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ops := s.Ops("node")

	for i := 0; i < 3; i++ {
		_, err := ops.Create(ctx, ir.Record{"n": ir.Int(int64(i))})
		require.NoError(t, err)
	}

	err := ops.DeleteMany(ctx, []int64{1, 99})
	assert.ErrorIs(t, err, ErrNotFound)
	all, err := s.Load(ctx, "node", nil)
	require.NoError(t, err)
	assert.Len(t, all, 3, "failed delete removes nothing")

	require.NoError(t, ops.DeleteMany(ctx, []int64{1, 3}))
	all, err = s.Load(ctx, "node", nil)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].ID())

	assert.NoError(t, ops.DeleteMany(ctx, nil))
}

func TestLoad_Filters(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ops := s.Ops("assignee")

	rows := []ir.Record{
		{"nodeId": ir.Int(10), "userId": ir.Int(5), "role": ir.String("owner"), "active": ir.Bool(true)},
		{"nodeId": ir.Int(10), "userId": ir.Int(6), "role": ir.String("viewer"), "active": ir.Bool(false)},
		{"nodeId": ir.Int(11), "userId": ir.Int(5), "role": ir.String("owner"), "active": ir.Bool(true)},
	}
	for _, r := range rows {
		_, err := ops.Create(ctx, r)
		require.NoError(t, err)
	}
	_, err := s.Ops("node").Create(ctx, ir.Record{"nodeId": ir.Int(10)})
	require.NoError(t, err)

	ids := func(recs []ir.Record) []int64 {
		out := make([]int64, len(recs))
		for i, r := range recs {
			out[i] = r.ID()
		}
		return out
	}

	tests := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all of type", nil, []int64{1, 2, 3}},
		{"int field", Eq(ir.Object{"nodeId": ir.Int(10)}), []int64{1, 2}},
		{"string field", Eq(ir.Object{"role": ir.String("owner")}), []int64{1, 3}},
		{"bool field", Eq(ir.Object{"active": ir.Bool(false)}), []int64{2}},
		{"two fields", Eq(ir.Object{"nodeId": ir.Int(10), "userId": ir.Int(5)}), []int64{1}},
		{"in list", In("nodeId", []int64{11, 12}), []int64{3}},
		{"id column", In(ir.IDField, []int64{3, 1}), []int64{1, 3}},
		{"empty in", In("nodeId", nil), []int64{}},
		{"missing field", Eq(ir.Object{"nope": ir.Int(1)}), []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := s.Load(ctx, "assignee", tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(recs))
		})
	}

	_, err = s.Load(ctx, "assignee", Eq(ir.Object{"meta": ir.Object{}}))
	assert.Error(t, err, "object filter values are unsupported")
	_, err = s.Load(ctx, "assignee", Eq(ir.Object{`a"b`: ir.Int(1)}))
	assert.Error(t, err)
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(sess reconcile.Session) error {
		if _, err := sess.Ops("node").Create(ctx, ir.Record{"title": ir.String("a")}); err != nil {
			return err
		}
		if err := sess.AppendChanges(ctx, []ir.AuditEntry{createTestEntry("p1", ir.ActionInsert, 1)}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	recs, err := s.Load(ctx, "node", nil)
	require.NoError(t, err)
	assert.Empty(t, recs, "record write rolled back")

	entries, err := s.ReadChanges(ctx, ChangeFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "audit write rolled back")
}

func TestAtomic_Commits(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	var created ir.Record
	err := s.Atomic(ctx, func(sess reconcile.Session) error {
		var err error
		created, err = sess.Ops("node").Create(ctx, ir.Record{"title": ir.String("a")})
		if err != nil {
			return err
		}
		return sess.Ops("node").Update(ctx, created.ID(), ir.Record{"title": ir.String("b")})
	})
	require.NoError(t, err)

	got, _, err := s.Get(ctx, "node", created.ID())
	require.NoError(t, err)
	assert.Equal(t, ir.String("b"), got["title"])
}

func TestSession_BestEffortKeepsEarlierWrites(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sess := s.Session(ctx)

	_, err := sess.Ops("node").Create(ctx, ir.Record{"title": ir.String("a")})
	require.NoError(t, err)
	err = sess.Ops("node").Update(ctx, 77, ir.Record{"title": ir.String("b")})
	require.Error(t, err)

	recs, err := s.Load(ctx, "node", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 1, "first write committed on its own")
}

func TestNormalize(t *testing.T) {
	in := ir.Record{"a": ir.Null{}, "b": ir.Int(1), "c": ir.Array{ir.Null{}}}
	assert.Equal(t, ir.Record{"b": ir.Int(1), "c": ir.Array{ir.Null{}}}, Normalize(in))
	assert.Contains(t, in, "a", "input is not modified")
}
