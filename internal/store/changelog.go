package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/graphsync/internal/ir"
)

// appendChanges writes one pass's entries, assigning seq and the hash chain.
// entries are updated in place only once every row is written.
func appendChanges(ctx context.Context, q querier, entries []ir.AuditEntry) error {
	passID := entries[0].PassID
	for _, e := range entries[1:] {
		if e.PassID != passID {
			return fmt.Errorf("append changes: batch mixes passes %q and %q", passID, e.PassID)
		}
	}

	var (
		lastSeq  int64
		lastHash string
	)
	err := q.QueryRowContext(ctx,
		`SELECT seq, hash FROM change_log ORDER BY seq DESC LIMIT 1`,
	).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("append changes: read chain head: %w", err)
	}

	written := make([]ir.AuditEntry, len(entries))
	for i, e := range entries {
		e.Seq = lastSeq + 1 + int64(i)
		e.RecordedAt = e.RecordedAt.UTC()
		e.PrevHash = lastHash
		e.Hash, err = ir.EntryHash(lastHash, e)
		if err != nil {
			return fmt.Errorf("append changes: seq %d: %w", e.Seq, err)
		}
		if err := insertEntry(ctx, q, e); err != nil {
			return fmt.Errorf("append changes: seq %d: %w", e.Seq, err)
		}
		lastHash = e.Hash
		written[i] = e
	}

	first := written[0]
	_, err = q.ExecContext(ctx, `
		INSERT INTO passes (pass_id, context, actor, recorded_at, first_seq, entry_count)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		first.PassID,
		first.Context,
		first.Actor,
		formatTime(first.RecordedAt),
		first.Seq,
		len(written),
	)
	if err != nil {
		return fmt.Errorf("append changes: record pass %s: %w", first.PassID, err)
	}

	copy(entries, written)
	return nil
}

func insertEntry(ctx context.Context, q querier, e ir.AuditEntry) error {
	oldJSON, err := marshalPayload(e.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalPayload(e.NewValues)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO change_log
		(seq, pass_id, action, object_type, primary_key, old_values, new_values,
		 context, actor, recorded_at, redacted, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Seq,
		e.PassID,
		string(e.Action),
		e.ObjectType,
		e.PrimaryKey,
		oldJSON,
		newJSON,
		e.Context,
		e.Actor,
		formatTime(e.RecordedAt),
		e.Redacted,
		e.PrevHash,
		e.Hash,
	)
	return err
}

// ChangeFilter narrows ReadChanges. Zero fields do not filter.
type ChangeFilter struct {
	PassID     string
	ObjectType string
	PrimaryKey int64
	AfterSeq   int64
	Limit      int
}

// ReadChanges returns change log entries matching filter in seq order.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadChanges(ctx context.Context, filter ChangeFilter) ([]ir.AuditEntry, error) {
	var (
		conds = []string{"seq > ?"}
		args  = []any{filter.AfterSeq}
	)
	if filter.PassID != "" {
		conds = append(conds, "pass_id = ?")
		args = append(args, filter.PassID)
	}
	if filter.ObjectType != "" {
		conds = append(conds, "object_type = ?")
		args = append(args, filter.ObjectType)
	}
	if filter.PrimaryKey != 0 {
		conds = append(conds, "primary_key = ?")
		args = append(args, filter.PrimaryKey)
	}

	query := `
		SELECT seq, pass_id, action, object_type, primary_key, old_values, new_values,
		       context, actor, recorded_at, redacted, prev_hash, hash
		FROM change_log
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY seq ASC`
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read changes: %w", err)
	}
	defer rows.Close()

	entries := []ir.AuditEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read changes: iterate: %w", err)
	}
	return entries, nil
}

func scanEntry(rows *sql.Rows) (ir.AuditEntry, error) {
	var (
		e          ir.AuditEntry
		action     string
		oldJSON    sql.NullString
		newJSON    sql.NullString
		recordedAt string
	)
	err := rows.Scan(
		&e.Seq,
		&e.PassID,
		&action,
		&e.ObjectType,
		&e.PrimaryKey,
		&oldJSON,
		&newJSON,
		&e.Context,
		&e.Actor,
		&recordedAt,
		&e.Redacted,
		&e.PrevHash,
		&e.Hash,
	)
	if err != nil {
		return ir.AuditEntry{}, fmt.Errorf("scan change: %w", err)
	}

	e.Action = ir.ChangeAction(action)
	if e.OldValues, err = unmarshalPayload(oldJSON); err != nil {
		return ir.AuditEntry{}, fmt.Errorf("scan change %d: old values: %w", e.Seq, err)
	}
	if e.NewValues, err = unmarshalPayload(newJSON); err != nil {
		return ir.AuditEntry{}, fmt.Errorf("scan change %d: new values: %w", e.Seq, err)
	}
	if e.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
		return ir.AuditEntry{}, fmt.Errorf("scan change %d: recorded_at: %w", e.Seq, err)
	}
	return e, nil
}

// PassSummary is one row of the passes table.
type PassSummary struct {
	PassID     string    `json:"pass_id"`
	Context    string    `json:"context"`
	Actor      string    `json:"actor"`
	RecordedAt time.Time `json:"recorded_at"`
	FirstSeq   int64     `json:"first_seq"`
	Entries    int       `json:"entries"`
}

// ReadPasses returns pass summaries oldest first. limit <= 0 means all.
func (s *Store) ReadPasses(ctx context.Context, limit int) ([]PassSummary, error) {
	query := `
		SELECT pass_id, context, actor, recorded_at, first_seq, entry_count
		FROM passes
		ORDER BY first_seq ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read passes: %w", err)
	}
	defer rows.Close()

	passes := []PassSummary{}
	for rows.Next() {
		var (
			p          PassSummary
			recordedAt string
		)
		if err := rows.Scan(&p.PassID, &p.Context, &p.Actor, &recordedAt, &p.FirstSeq, &p.Entries); err != nil {
			return nil, fmt.Errorf("read passes: scan: %w", err)
		}
		if p.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("read passes: recorded_at: %w", err)
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read passes: iterate: %w", err)
	}
	return passes, nil
}

// ChainError reports the first change log entry that fails verification.
type ChainError struct {
	Seq    int64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("change log broken at seq %d: %s", e.Seq, e.Reason)
}

// ChainReport summarizes a successful verification.
type ChainReport struct {
	Entries int    `json:"entries"`
	Head    string `json:"head"`
}

// VerifyChain recomputes every entry hash in seq order. It returns a
// *ChainError for the first gap, broken link, or altered entry.
func (s *Store) VerifyChain(ctx context.Context) (ChainReport, error) {
	entries, err := s.ReadChanges(ctx, ChangeFilter{})
	if err != nil {
		return ChainReport{}, err
	}

	var report ChainReport
	for i, e := range entries {
		if want := int64(i) + 1; e.Seq != want {
			return report, &ChainError{Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", want)}
		}
		if e.PrevHash != report.Head {
			return report, &ChainError{Seq: e.Seq, Reason: "prev_hash does not match preceding entry"}
		}
		h, err := ir.EntryHash(e.PrevHash, e)
		if err != nil {
			return report, fmt.Errorf("verify chain: seq %d: %w", e.Seq, err)
		}
		if h != e.Hash {
			return report, &ChainError{Seq: e.Seq, Reason: "hash does not match contents"}
		}
		report.Entries++
		report.Head = e.Hash
	}
	return report, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
