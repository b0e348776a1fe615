package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/graphsync/internal/audit"
	"github.com/roach88/graphsync/internal/compiler"
	"github.com/roach88/graphsync/internal/desired"
	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/reconcile"
	"github.com/roach88/graphsync/internal/store"
	"github.com/roach88/graphsync/internal/testutil"
)

// Harness executes one scenario against one store.
type Harness struct {
	store  *store.Store
	schema *ir.GraphSchema
	recon  *reconcile.Reconciler
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Compile the inline schema
//  2. Create a fresh in-memory database
//  3. Apply every pass in order, checking its expect clause
//  4. Read back the change log and evaluate assertions
//
// An error is returned only when the scenario cannot run at all; failed
// expectations are reported through Result.
func Run(scenario *Scenario) (*Result, error) {
	schema, err := CompileSchema(scenario.Schema, scenario.Graph)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	ids := make([]string, len(scenario.Passes))
	for i := range ids {
		ids[i] = fmt.Sprintf("pass-%d", i+1)
	}

	h := &Harness{
		store:  st,
		schema: schema,
		recon: reconcile.New(st,
			reconcile.WithPassIDs(reconcile.NewFixedGenerator(ids...)),
			reconcile.WithClock(testutil.NewStepClock().Now),
			reconcile.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			reconcile.WithStrictReferences(scenario.StrictReferences),
		),
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Passes {
		if err := h.executePass(ctx, scenario, step, result); err != nil {
			return nil, fmt.Errorf("pass %d (%s): %w", i+1, step.Name, err)
		}
	}

	log, err := st.ReadChanges(ctx, store.ChangeFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read change log: %w", err)
	}
	result.Log = log

	for _, msg := range EvaluateAssertions(ctx, st, result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// CompileSchema compiles CUE source and returns the named graph.
func CompileSchema(src, graph string) (*ir.GraphSchema, error) {
	v := cuecontext.New().CompileString(src, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	gv := v.LookupPath(cue.MakePath(cue.Str("graph"), cue.Str(graph)))
	if !gv.Exists() {
		return nil, fmt.Errorf("schema does not declare graph %q", graph)
	}
	g, err := compiler.CompileGraph(gv)
	if err != nil {
		return nil, fmt.Errorf("failed to compile graph %s: %w", graph, err)
	}
	return g, nil
}

// executePass applies one desired document and checks the expect clause.
func (h *Harness) executePass(ctx context.Context, scenario *Scenario, step PassStep, result *Result) error {
	scope, err := step.Desired.ScopeObject()
	if err != nil {
		return err
	}
	scopeKey, err := desired.ScopeKey(scope)
	if err != nil {
		return err
	}
	want, err := step.Desired.Snapshot(h.schema)
	if err != nil {
		return err
	}
	existing, err := h.store.LoadGraph(ctx, h.schema, scope)
	if err != nil {
		return err
	}

	req := reconcile.Request{
		Schema:          h.schema,
		Scope:           scopeKey,
		Existing:        existing,
		Desired:         want,
		Context:         scenario.Context,
		Actor:           scenario.Actor,
		WithTransaction: step.Transaction,
		Policy:          passPolicy(step),
	}

	out, applyErr := h.recon.Apply(ctx, req)
	pr := PassResult{Name: step.Name}
	if out != nil {
		pr.PassID = out.PassID
		pr.Changes = len(out.Changes)
		pr.Mappings = len(out.Mappings)
	}
	if applyErr != nil {
		var pe *reconcile.PassError
		if !errors.As(applyErr, &pe) {
			return applyErr
		}
		pr.PassID = pe.PassID
		pr.ErrorCode = string(pe.Code)
	}
	result.Passes = append(result.Passes, pr)

	checkExpect(step, pr, applyErr, result)
	return nil
}

func checkExpect(step PassStep, pr PassResult, applyErr error, result *Result) {
	expect := step.Expect
	if expect == nil {
		expect = &ExpectClause{}
	}

	switch {
	case expect.Error == "" && applyErr != nil:
		result.AddError(fmt.Sprintf("pass %s: unexpected error: %v", step.Name, applyErr))
		return
	case expect.Error != "" && pr.ErrorCode != expect.Error:
		result.AddError(fmt.Sprintf("pass %s: expected error %s, got %q", step.Name, expect.Error, pr.ErrorCode))
		return
	}

	if expect.Changes != nil && *expect.Changes != pr.Changes {
		result.AddError(fmt.Sprintf("pass %s: expected %d changes, got %d", step.Name, *expect.Changes, pr.Changes))
	}
	if expect.Mappings != nil && *expect.Mappings != pr.Mappings {
		result.AddError(fmt.Sprintf("pass %s: expected %d mappings, got %d", step.Name, *expect.Mappings, pr.Mappings))
	}
}

func passPolicy(step PassStep) audit.Policy {
	if step.Payload == "" {
		return audit.Policy{}
	}
	p := audit.Policy{Mode: audit.Mode(step.Payload), MaxPayloadBytes: step.MaxPayload}
	if p.Mode == audit.PayloadTruncate && p.MaxPayloadBytes == 0 {
		p.MaxPayloadBytes = audit.DefaultMaxPayloadBytes
	}
	return p
}
