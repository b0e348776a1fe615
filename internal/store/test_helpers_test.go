package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/graphsync/internal/ir"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEntry returns an unsequenced entry for pass.
func createTestEntry(pass string, action ir.ChangeAction, pk int64) ir.AuditEntry {
	e := ir.AuditEntry{
		PassID:     pass,
		Action:     action,
		ObjectType: "node",
		PrimaryKey: pk,
		Context:    "insertOrUpdateWorkflowDef",
		Actor:      "user:5",
		RecordedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	switch action {
	case ir.ActionInsert:
		e.NewValues = ir.Object{"id": ir.Int(pk), "title": ir.String("t")}
	case ir.ActionDelete:
		e.OldValues = ir.Object{"id": ir.Int(pk), "title": ir.String("t")}
	case ir.ActionUpdate:
		e.OldValues = ir.Object{"title": ir.String("t")}
		e.NewValues = ir.Object{"title": ir.String("u")}
	}
	return e
}
