package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graphsync/internal/audit"
	"github.com/roach88/graphsync/internal/guard"
	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/memstore"
	"github.com/roach88/graphsync/internal/testutil"
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

func workflowSchema() *ir.GraphSchema {
	return &ir.GraphSchema{
		Name: "workflow",
		Collections: []ir.CollectionSchema{
			{Name: "instance", Singleton: true, Match: []string{"eventId"}},
			{Name: "node", Refs: map[string]string{"instanceId": "instance"}},
			{Name: "assignee", Match: []string{"nodeId", "userId"}, Refs: map[string]string{"nodeId": "node"}},
			{Name: "dependency", Refs: map[string]string{"nodeId": "node", "dependsOnNodeId": "node"}},
		},
		Order: []string{"instance", "node", "assignee", "dependency"},
	}
}

func newReconciler(db *memstore.DB, opts ...Option) *Reconciler {
	opts = append([]Option{
		WithPassIDs(NewFixedGenerator("pass-1", "pass-2", "pass-3")),
		WithClock(testutil.NewStepClock().Now),
	}, opts...)
	return New(NewMemoryBackend(db), opts...)
}

func request(existing, desired Snapshot) Request {
	return Request{
		Schema:   workflowSchema(),
		Scope:    "event:7",
		Existing: existing,
		Desired:  desired,
		Context:  "insertOrUpdateWorkflowDef",
		Actor:    "user:5",
	}
}

func newGraph() Snapshot {
	return Snapshot{
		"instance": {rec(-1, "eventId", 7)},
		"node": {
			rec(-1, "instanceId", -1, "title", "a"),
			rec(-2, "instanceId", -1, "title", "b"),
		},
		"assignee":   {rec(0, "nodeId", -1, "userId", 5)},
		"dependency": {rec(-1, "nodeId", -2, "dependsOnNodeId", -1)},
	}
}

func TestApply_CreatesGraphAndRewritesReferences(t *testing.T) {
	db := memstore.New(memstore.WithStartID(100))
	r := newReconciler(db)

	out, err := r.Apply(context.Background(), request(nil, newGraph()))
	require.NoError(t, err)

	assert.Equal(t, "pass-1", out.PassID)
	assert.Equal(t, []ir.Record{rec(100, "eventId", 7)}, db.Table("instance").Rows())
	assert.Equal(t, []ir.Record{
		rec(101, "instanceId", 100, "title", "a"),
		rec(102, "instanceId", 100, "title", "b"),
	}, db.Table("node").Rows())
	assert.Equal(t, []ir.Record{rec(103, "nodeId", 101, "userId", 5)}, db.Table("assignee").Rows())
	assert.Equal(t, []ir.Record{rec(104, "nodeId", 102, "dependsOnNodeId", 101)}, db.Table("dependency").Rows())

	assert.Equal(t, db.Table("dependency").Rows(), out.State["dependency"], "state carries resolved references")

	require.Len(t, out.Mappings, 5)
	real, ok := out.RealID("node", -2)
	require.True(t, ok)
	assert.Equal(t, int64(102), real)
	_, ok = out.RealID("node", -9)
	assert.False(t, ok)

	require.Len(t, out.Changes, 5)
	for _, c := range out.Changes {
		assert.Equal(t, ir.ActionInsert, c.Action)
	}

	entries := db.Entries()
	require.Len(t, entries, 5, "one change log batch for the whole pass")
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
		assert.Equal(t, "pass-1", e.PassID)
		assert.Equal(t, "insertOrUpdateWorkflowDef", e.Context)
		assert.Equal(t, "user:5", e.Actor)
		assert.Equal(t, testutil.Epoch, e.RecordedAt, "one timestamp per pass")
	}
	assert.Equal(t, entries, out.Entries, "outcome entries carry assigned sequence numbers")
}

func TestApply_SecondPassIsIdempotent(t *testing.T) {
	db := memstore.New(memstore.WithStartID(100))
	r := newReconciler(db)
	ctx := context.Background()

	first, err := r.Apply(ctx, request(nil, newGraph()))
	require.NoError(t, err)
	db.ResetCalls()

	second, err := r.Apply(ctx, request(first.State.Clone(), first.State.Clone()))
	require.NoError(t, err)

	assert.Empty(t, second.Changes)
	assert.Empty(t, second.Mappings)
	assert.Empty(t, second.Entries)
	assert.Empty(t, db.Calls(), "no writes on an unchanged graph")
	assert.Len(t, db.Entries(), 5, "nothing appended to the change log")
}

func TestApply_UpdatesAndDeletes(t *testing.T) {
	db := memstore.New()
	existing := Snapshot{
		"instance": {rec(1, "eventId", 7)},
		"node":     {rec(2, "instanceId", 1, "title", "a"), rec(3, "instanceId", 1, "title", "b")},
		"assignee": {rec(4, "nodeId", 2, "userId", 5), rec(5, "nodeId", 2, "userId", 6)},
	}
	for name, recs := range existing {
		require.NoError(t, db.Seed(name, recs...))
	}
	require.NoError(t, db.Seed("dependency", rec(6, "nodeId", 3, "dependsOnNodeId", 2)))

	desired := Snapshot{
		"instance": {rec(1, "eventId", 7)},
		"node":     {rec(2, "instanceId", 1, "title", "A")},
		"assignee": {rec(0, "nodeId", 2, "userId", 6)},
	}

	out, err := newReconciler(db).Apply(context.Background(), request(existing, desired))
	require.NoError(t, err)

	require.Len(t, out.Changes, 3)
	assert.Equal(t, ir.ChangeRecord{
		Action: ir.ActionDelete, ObjectType: "node", PrimaryKey: 3,
		OldValues: rec(3, "instanceId", 1, "title", "b"),
	}, out.Changes[0])
	assert.Equal(t, ir.ChangeRecord{
		Action: ir.ActionUpdate, ObjectType: "node", PrimaryKey: 2,
		OldValues: ir.Object{"title": ir.String("a")},
		NewValues: ir.Object{"title": ir.String("A")},
	}, out.Changes[1])
	assert.Equal(t, ir.ActionDelete, out.Changes[2].Action)
	assert.Equal(t, int64(4), out.Changes[2].PrimaryKey)

	assert.Equal(t, []ir.Record{rec(5, "nodeId", 2, "userId", 6)}, out.State["assignee"])
	assert.NotContains(t, out.State, "dependency", "collections missing from the desired graph are skipped")
	assert.Len(t, db.Table("dependency").Rows(), 1)
}

func TestApply_SingletonViolation(t *testing.T) {
	db := memstore.New()
	desired := Snapshot{"instance": {rec(-1, "eventId", 7), rec(-2, "eventId", 7)}}

	out, err := newReconciler(db).Apply(context.Background(), request(nil, desired))
	require.Error(t, err)
	assert.Nil(t, out)
	assert.True(t, IsSingletonError(err))
	assert.ErrorIs(t, err, ErrSingletonViolation)
	assert.Empty(t, db.Calls(), "rejected before any write")
}

func TestApply_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Request)
		target error
	}{
		{"nil schema", func(r *Request) { r.Schema = nil }, nil},
		{"blank actor", func(r *Request) { r.Actor = " " }, nil},
		{"blank context", func(r *Request) { r.Context = "" }, nil},
		{"unknown desired collection", func(r *Request) { r.Desired["song"] = nil }, nil},
		{"unknown existing collection", func(r *Request) { r.Existing = Snapshot{"song": {rec(1)}} }, nil},
		{"existing placeholder", func(r *Request) { r.Existing = Snapshot{"node": {rec(-1)}} }, nil},
		{"bad policy", func(r *Request) { r.Policy = audit.Policy{Mode: "gzip"} }, nil},
		{"ambiguous placeholder", func(r *Request) {
			r.Desired["node"] = []ir.Record{rec(-1, "title", "a"), rec(-1, "title", "b")}
		}, ErrAmbiguousPlaceholder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := memstore.New()
			req := request(nil, newGraph())
			tt.mutate(&req)

			_, err := newReconciler(db).Apply(context.Background(), req)
			require.Error(t, err)

			var pe *PassError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, CodeInvalidRequest, pe.Code)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			assert.Empty(t, db.Calls())
		})
	}
}

func TestApply_PlaceholderZeroIsNotAmbiguousOutsideRefTargets(t *testing.T) {
	db := memstore.New()
	desired := newGraph()
	desired["assignee"] = []ir.Record{
		rec(0, "nodeId", -1, "userId", 5),
		rec(0, "nodeId", -1, "userId", 6),
	}

	out, err := newReconciler(db).Apply(context.Background(), request(nil, desired))
	require.NoError(t, err)
	assert.Len(t, out.State["assignee"], 2)
}

func TestApply_StrictReferences(t *testing.T) {
	desired := Snapshot{"node": {rec(-1, "instanceId", -9, "title", "orphan")}}

	t.Run("strict fails before writing", func(t *testing.T) {
		db := memstore.New()
		_, err := newReconciler(db, WithStrictReferences(true)).Apply(context.Background(), request(nil, desired))
		require.Error(t, err)
		assert.True(t, IsUnresolvedReference(err))
		assert.ErrorIs(t, err, ErrUnresolvedReference)
		assert.Contains(t, err.Error(), "instanceId=-9")
		assert.Empty(t, db.Calls())
	})

	t.Run("lenient persists as given", func(t *testing.T) {
		db := memstore.New()
		out, err := newReconciler(db).Apply(context.Background(), request(nil, desired))
		require.NoError(t, err)
		assert.Equal(t, ir.Int(-9), out.State["node"][0]["instanceId"])
	})
}

func TestApply_BestEffortRecordsPartialPass(t *testing.T) {
	db := memstore.New(memstore.WithStartID(100))
	boom := errors.New("disk full")
	db.FailOn("assignee", "create", 1, boom)

	out, err := newReconciler(db).Apply(context.Background(), request(nil, newGraph()))
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, boom)

	var pe *PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "assignee", pe.Collection)
	assert.Equal(t, "pass-1", pe.PassID)

	require.NotNil(t, out)
	assert.Len(t, out.Changes, 3, "instance and both nodes were applied")
	assert.Len(t, db.Entries(), 3, "applied writes reach the change log")
	assert.Empty(t, db.Table("dependency").Rows(), "deeper levels never ran")
}

func TestApply_SuppressedPayloads(t *testing.T) {
	db := memstore.New()
	req := request(nil, newGraph())
	req.Policy = audit.Policy{Mode: audit.PayloadSuppress}

	_, err := newReconciler(db).Apply(context.Background(), req)
	require.NoError(t, err)

	require.NotEmpty(t, db.Entries())
	for _, e := range db.Entries() {
		assert.Nil(t, e.NewValues)
		assert.Nil(t, e.OldValues)
		assert.Empty(t, e.Actor)
		assert.Equal(t, "insertOrUpdateWorkflowDef", e.Context)
		assert.True(t, e.Redacted)
		assert.Positive(t, e.PrimaryKey)
	}
}

func TestApply_GuardSerializesSameScope(t *testing.T) {
	g := guard.New()
	release, err := g.Lock(context.Background(), "workflow/event:7")
	require.NoError(t, err)
	defer release()

	r := newReconciler(memstore.New(), WithGuard(g))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Apply(ctx, request(nil, newGraph()))
	require.Error(t, err)
	var pe *PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeLockFailed, pe.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other := request(nil, newGraph())
	other.Scope = "event:8"
	_, err = r.Apply(context.Background(), other)
	assert.NoError(t, err, "different scope does not wait")
}

func TestApply_LockTimeout(t *testing.T) {
	g := guard.New()
	release, err := g.Lock(context.Background(), "workflow/event:7")
	require.NoError(t, err)

	db := memstore.New()
	_, err = newReconciler(db, WithGuard(g), WithLockTimeout(20*time.Millisecond)).
		Apply(context.Background(), request(nil, newGraph()))
	var pe *PassError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeLockFailed, pe.Code)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, db.Calls(), "nothing is written while waiting")
	release()

	out, err := newReconciler(db, WithGuard(g), WithLockTimeout(time.Nanosecond)).
		Apply(context.Background(), request(nil, newGraph()))
	require.NoError(t, err, "the timeout does not bound the pass once the lock is held")
	assert.Len(t, out.Changes, 5)
	assert.Zero(t, g.Len())
}

func TestApply_ReleasesGuard(t *testing.T) {
	g := guard.New()
	r := newReconciler(memstore.New(), WithGuard(g))

	_, err := r.Apply(context.Background(), request(nil, newGraph()))
	require.NoError(t, err)
	assert.Zero(t, g.Len())

	req := request(nil, Snapshot{"instance": {rec(-1), rec(-2)}})
	_, err = r.Apply(context.Background(), req)
	require.Error(t, err)
	assert.Zero(t, g.Len())
}

func TestPlan_DoesNotTouchBackend(t *testing.T) {
	db := memstore.New()
	existing := Snapshot{
		"instance": {rec(1, "eventId", 7)},
		"node":     {rec(5, "instanceId", 1, "title", "a")},
	}
	for name, recs := range existing {
		require.NoError(t, db.Seed(name, recs...))
	}
	desired := Snapshot{
		"instance": {rec(1, "eventId", 7)},
		"node":     {rec(5, "instanceId", 1, "title", "a"), rec(-1, "instanceId", 1, "title", "b")},
		"assignee": {rec(0, "nodeId", -1, "userId", 5)},
	}

	out, err := newReconciler(db).Plan(context.Background(), request(existing, desired))
	require.NoError(t, err)

	assert.Equal(t, DryRunPassID, out.PassID)
	require.Len(t, out.Mappings, 2)
	assert.Equal(t, ir.Mapping{ObjectType: "node", PlaceholderID: -1, RealID: 6}, out.Mappings[0])
	assert.Equal(t, ir.Int(6), out.State["assignee"][0]["nodeId"])
	assert.Equal(t, 1, out.Planned["node"].Update)
	assert.Equal(t, 1, out.Planned["node"].Create)

	require.Len(t, out.Entries, 2)
	assert.Zero(t, out.Entries[0].Seq, "dry-run entries are never sequenced")
	assert.Equal(t, DryRunPassID, out.Entries[0].PassID)

	assert.Empty(t, db.Calls())
	assert.Empty(t, db.Entries())
	assert.Len(t, db.Table("node").Rows(), 1)
}

func TestApply_RewritesReferencesToMatchedParent(t *testing.T) {
	db := memstore.New(memstore.WithStartID(100))
	require.NoError(t, db.Seed("instance", rec(1, "eventId", 7)))
	existing := Snapshot{"instance": {rec(1, "eventId", 7)}}
	desired := Snapshot{
		"instance": {rec(-1, "eventId", 7)},
		"node":     {rec(-1, "instanceId", -1, "title", "a")},
	}

	out, err := newReconciler(db, WithStrictReferences(true)).Apply(context.Background(), request(existing, desired))
	require.NoError(t, err)

	assert.Equal(t, []ir.Record{rec(100, "instanceId", 1, "title", "a")}, db.Table("node").Rows(),
		"placeholder of a parent matched by natural key resolves to the existing id")
	require.Len(t, out.Mappings, 1, "only creates produce mappings")
	assert.Equal(t, "node", out.Mappings[0].ObjectType)
}
