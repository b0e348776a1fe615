package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes the change log to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Log      []ir.AuditEntry
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Log) > 0 {
		fmt.Fprintf(&buf, "\nChange log:\n")
		for _, entry := range e.Log {
			fmt.Fprintf(&buf, "  [%d] %s %s %d (%s)\n",
				entry.Seq, entry.Action, entry.ObjectType, entry.PrimaryKey, entry.PassID)
		}
	}
	return buf.String()
}

// changeLabel is the "action object_type" form change_order compares.
func changeLabel(e ir.AuditEntry) string {
	return string(e.Action) + " " + e.ObjectType
}

// assertChangeCount checks how many entries match the assertion's filters.
func assertChangeCount(log []ir.AuditEntry, a Assertion) error {
	n := 0
	for _, e := range log {
		if a.PassID != "" && e.PassID != a.PassID {
			continue
		}
		if a.Action != "" && string(e.Action) != a.Action {
			continue
		}
		if a.ObjectType != "" && e.ObjectType != a.ObjectType {
			continue
		}
		n++
	}
	if n != *a.Count {
		return &AssertionError{
			Type:     AssertChangeCount,
			Expected: fmt.Sprintf("%d entries (pass=%q action=%q object_type=%q)", *a.Count, a.PassID, a.Action, a.ObjectType),
			Actual:   fmt.Sprintf("%d entries", n),
			Log:      log,
		}
	}
	return nil
}

// assertChangeOrder checks that the listed changes appear in the log in
// order. Other entries may appear between them.
func assertChangeOrder(log []ir.AuditEntry, a Assertion) error {
	next := 0
	for _, e := range log {
		if next < len(a.Changes) && changeLabel(e) == a.Changes[next] {
			next++
		}
	}
	if next == len(a.Changes) {
		return nil
	}

	actual := make([]string, len(log))
	for i, e := range log {
		actual[i] = changeLabel(e)
	}
	return &AssertionError{
		Type:     AssertChangeOrder,
		Expected: strings.Join(a.Changes, ", "),
		Actual:   fmt.Sprintf("%s (missing %q)", strings.Join(actual, ", "), a.Changes[next]),
		Log:      log,
	}
}

// assertFinalState loads the matching records and checks count and fields.
func assertFinalState(ctx context.Context, st *store.Store, a Assertion) error {
	where, err := toObject(a.Where)
	if err != nil {
		return fmt.Errorf("final_state %s: where: %w", a.Collection, err)
	}
	expect, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("final_state %s: expect: %w", a.Collection, err)
	}

	recs, err := st.Load(ctx, a.Collection, store.Eq(where))
	if err != nil {
		return fmt.Errorf("final_state %s: %w", a.Collection, err)
	}

	if a.Count != nil && len(recs) != *a.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d %s records where %s", *a.Count, a.Collection, formatObject(where)),
			Actual:   fmt.Sprintf("%d records", len(recs)),
		}
	}
	if len(expect) == 0 {
		return nil
	}
	if len(recs) == 0 {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s records where %s", a.Collection, formatObject(where)),
			Actual:   "no records",
		}
	}
	for _, rec := range recs {
		if !containsFields(rec, expect) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: formatObject(expect),
				Actual:   formatObject(rec),
			}
		}
	}
	return nil
}

// containsFields reports whether rec carries every expected field value.
func containsFields(rec, expect ir.Object) bool {
	for k, want := range expect {
		have, ok := rec[k]
		if !ok || !ir.Equal(have, want) {
			return false
		}
	}
	return true
}

func toObject(m map[string]any) (ir.Object, error) {
	if len(m) == 0 {
		return ir.Object{}, nil
	}
	v, err := ir.FromGo(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.Object), nil
}

func formatObject(obj ir.Object) string {
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(ctx context.Context, st *store.Store, result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertChangeCount:
			err = assertChangeCount(result.Log, assertion)
		case AssertChangeOrder:
			err = assertChangeOrder(result.Log, assertion)
		case AssertFinalState:
			err = assertFinalState(ctx, st, assertion)
		case AssertChainValid:
			if _, verr := st.VerifyChain(ctx); verr != nil {
				err = &AssertionError{Type: AssertChainValid, Expected: "intact hash chain", Actual: verr.Error()}
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
