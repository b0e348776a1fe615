package harness

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/graphsync/internal/ir"
)

// Snapshot renders a scenario result as golden-file bytes: one canonical
// JSON line per pass, then one per change log entry.
//
// Hashes are left out so the file stays readable; chain integrity is
// covered by the chain_valid assertion.
func Snapshot(result *Result) ([]byte, error) {
	var buf bytes.Buffer
	write := func(obj ir.Object) error {
		data, err := ir.MarshalCanonical(obj)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
		return nil
	}

	for _, p := range result.Passes {
		obj := ir.Object{
			"name":     ir.String(p.Name),
			"pass_id":  ir.String(p.PassID),
			"changes":  ir.Int(p.Changes),
			"mappings": ir.Int(p.Mappings),
		}
		if p.ErrorCode != "" {
			obj["error"] = ir.String(p.ErrorCode)
		}
		if err := write(obj); err != nil {
			return nil, err
		}
	}

	for _, e := range result.Log {
		if err := write(entryObject(e)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func entryObject(e ir.AuditEntry) ir.Object {
	obj := ir.Object{
		"seq":         ir.Int(e.Seq),
		"pass_id":     ir.String(e.PassID),
		"action":      ir.String(string(e.Action)),
		"object_type": ir.String(e.ObjectType),
		"primary_key": ir.Int(e.PrimaryKey),
		"context":     ir.String(e.Context),
		"actor":       ir.String(e.Actor),
		"recorded_at": ir.String(e.RecordedAt.UTC().Format(time.RFC3339Nano)),
	}
	if e.OldValues != nil {
		obj["old_values"] = e.OldValues
	}
	if e.NewValues != nil {
		obj["new_values"] = e.NewValues
	}
	if e.Redacted {
		obj["redacted"] = ir.Bool(true)
	}
	return obj
}

// RunWithGolden executes a scenario, fails the test on any failed
// expectation, and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already computed result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
