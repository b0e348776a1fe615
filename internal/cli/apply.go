package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/graphsync/internal/audit"
	"github.com/roach88/graphsync/internal/desired"
	"github.com/roach88/graphsync/internal/guard"
	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/plan"
	"github.com/roach88/graphsync/internal/reconcile"
	"github.com/roach88/graphsync/internal/store"
)

// PassOptions holds flags shared by plan and apply.
type PassOptions struct {
	*RootOptions
	Schema      string
	Graph       string
	Database    string
	Desired     string
	Actor       string
	Context     string
	NoTx        bool
	Payload     string
	MaxPayload  int
	Strict      bool
	LockTimeout time.Duration

	// PassIDs overrides the pass id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	PassIDs reconcile.PassIDGenerator

	// Now overrides the change log clock (for testing).
	Now func() time.Time

	// Guard overrides the scope lock table (for testing).
	Guard *guard.Keyed
}

// PassReport is the command output for one pass.
type PassReport struct {
	PassID   string                 `json:"pass_id"`
	Graph    string                 `json:"graph"`
	Scope    string                 `json:"scope"`
	DryRun   bool                   `json:"dry_run,omitempty"`
	Changes  []ir.ChangeRecord      `json:"changes"`
	Mappings []ir.Mapping           `json:"mappings"`
	Planned  map[string]plan.Counts `json:"planned"`
	Entries  int                    `json:"entries"`
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile the stored graph against a desired document",
		Long: `Run one reconciliation pass and record it in the change log.

The desired document is YAML: an optional scope mapping plus one list of
records per collection. A collection left out of the document is not
touched; an empty list deletes everything stored for it in scope. Records
without an id, or with id 0 or below, are created and their references
rewritten to the assigned identities.

Exit codes:
  0 - Pass applied
  1 - Pass failed (singleton violation, unresolved reference, write error)
  2 - Command error (unreadable schema, document, or database)

Examples:
  graphsync apply --schema ./schemas --db ./graph.db --desired workflow.yaml \
      --actor user:5 --context insertOrUpdateWorkflowDef
  graphsync apply --schema ./schemas --graph workflow --db ./graph.db \
      --desired workflow.yaml --actor cron --context nightly --no-tx --payload suppress`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(opts, cmd, false)
		},
	}

	addPassFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.NoTx, "no-tx", false, "apply level by level without a transaction")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "change log payload mode (full|suppress|truncate)")
	cmd.Flags().IntVar(&opts.MaxPayload, "max-payload", audit.DefaultMaxPayloadBytes, "payload size limit in bytes under truncate")
	cmd.Flags().DurationVar(&opts.LockTimeout, "lock-timeout", 30*time.Second, "how long to wait for a concurrent pass on the same scope")

	return cmd
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PassOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would change without writing",
		Long: `Compute a reconciliation pass against a copy of the stored graph.

Nothing is written to the database or the change log. Identities shown for
created records are the ones the copy assigned and may differ from the
ones a later apply assigns.

Example:
  graphsync plan --schema ./schemas --db ./graph.db --desired workflow.yaml \
      --actor user:5 --context insertOrUpdateWorkflowDef`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(opts, cmd, true)
		},
	}

	addPassFlags(cmd, opts)
	return cmd
}

func addPassFlags(cmd *cobra.Command, opts *PassOptions) {
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "directory of CUE graph schemas (required)")
	cmd.Flags().StringVar(&opts.Graph, "graph", "", "graph to reconcile (defaults to the only graph)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Desired, "desired", "", "desired document YAML (required)")
	cmd.Flags().StringVar(&opts.Actor, "actor", "", "actor recorded in the change log (required)")
	cmd.Flags().StringVar(&opts.Context, "context", "", "context label recorded in the change log (required)")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a reference cannot be resolved")
	for _, name := range []string{"schema", "db", "desired", "actor", "context"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

func runPass(opts *PassOptions, cmd *cobra.Command, dryRun bool) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	loadResult, loadErrors := LoadSchemas(opts.Schema, LoadModeFailFast)
	if len(loadErrors) > 0 {
		return outputLoadError(formatter, loadErrors[0])
	}
	schema, err := loadResult.Graph(opts.Graph)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	doc, err := desired.Load(opts.Desired)
	if err != nil {
		return commandError(formatter, ErrCodeDocument, err)
	}
	scope, err := doc.ScopeObject()
	if err != nil {
		return commandError(formatter, ErrCodeDocument, err)
	}
	scopeKey, err := desired.ScopeKey(scope)
	if err != nil {
		return commandError(formatter, ErrCodeDocument, err)
	}
	want, err := doc.Snapshot(schema)
	if err != nil {
		return commandError(formatter, ErrCodeDocument, err)
	}
	policy, err := opts.policy()
	if err != nil {
		return commandError(formatter, ErrCodeGeneric, err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	existing, err := st.LoadGraph(ctx, schema, scope)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	formatter.VerboseLog("Loaded graph %s for scope %s", schema.Name, scopeKey)

	req := reconcile.Request{
		Schema:          schema,
		Scope:           scopeKey,
		Existing:        existing,
		Desired:         want,
		Context:         opts.Context,
		Actor:           opts.Actor,
		WithTransaction: !opts.NoTx,
		Policy:          policy,
	}
	recon := reconcile.New(st, opts.reconcilerOptions(logger)...)

	var out *reconcile.Outcome
	if dryRun {
		out, err = recon.Plan(ctx, req)
	} else {
		out, err = recon.Apply(ctx, req)
	}

	report := newPassReport(schema.Name, scopeKey, dryRun, out)
	if err != nil {
		return outputPassError(formatter, report, err)
	}
	return outputPassReport(formatter, report)
}

func (o *PassOptions) policy() (audit.Policy, error) {
	if o.Payload == "" {
		return audit.Policy{}, nil
	}
	mode, err := audit.ParseMode(o.Payload)
	if err != nil {
		return audit.Policy{}, err
	}
	p := audit.Policy{Mode: mode}
	if mode == audit.PayloadTruncate {
		p.MaxPayloadBytes = o.MaxPayload
	}
	return p, p.Validate()
}

func (o *PassOptions) reconcilerOptions(logger *slog.Logger) []reconcile.Option {
	opts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithStrictReferences(o.Strict),
		reconcile.WithLockTimeout(o.LockTimeout),
	}
	if o.Guard != nil {
		opts = append(opts, reconcile.WithGuard(o.Guard))
	}
	if o.PassIDs != nil {
		opts = append(opts, reconcile.WithPassIDs(o.PassIDs))
	}
	if o.Now != nil {
		opts = append(opts, reconcile.WithClock(o.Now))
	}
	return opts
}

func newPassReport(graph, scope string, dryRun bool, out *reconcile.Outcome) PassReport {
	report := PassReport{
		Graph:    graph,
		Scope:    scope,
		DryRun:   dryRun,
		Changes:  []ir.ChangeRecord{},
		Mappings: []ir.Mapping{},
		Planned:  map[string]plan.Counts{},
	}
	if out == nil {
		return report
	}
	report.PassID = out.PassID
	if out.Changes != nil {
		report.Changes = out.Changes
	}
	if out.Mappings != nil {
		report.Mappings = out.Mappings
	}
	if out.Planned != nil {
		report.Planned = out.Planned
	}
	report.Entries = len(out.Entries)
	return report
}

// commandError reports a failure before any pass ran.
func commandError(formatter *OutputFormatter, code string, err error) error {
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}

func outputPassError(formatter *OutputFormatter, report PassReport, err error) error {
	code := string(reconcile.CodePersistence)
	var pe *reconcile.PassError
	if errors.As(err, &pe) {
		code = string(pe.Code)
		report.PassID = pe.PassID
	}

	if formatter.Format == "json" {
		if encErr := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   report,
			Error:  &CLIError{Code: code, Message: err.Error()},
			PassID: report.PassID,
		}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(formatter.Writer, "✗ Pass %s failed [%s]: %v\n", report.PassID, code, err)
		if len(report.Changes) > 0 {
			fmt.Fprintf(formatter.Writer, "  %d change(s) were applied before the failure:\n", len(report.Changes))
			writeChanges(formatter.Writer, report.Changes)
		}
	}
	return WrapExitError(ExitFailure, "pass failed", err)
}

func outputPassReport(formatter *OutputFormatter, report PassReport) error {
	if formatter.Format == "json" {
		return formatter.Encode(CLIResponse{Status: "ok", Data: report, PassID: report.PassID})
	}

	w := formatter.Writer
	if report.DryRun {
		fmt.Fprintf(w, "Plan for graph %s, scope %s\n", report.Graph, report.Scope)
	} else {
		fmt.Fprintf(w, "✓ Pass %s applied to graph %s, scope %s\n", report.PassID, report.Graph, report.Scope)
	}
	for _, name := range slices.Sorted(maps.Keys(report.Planned)) {
		c := report.Planned[name]
		fmt.Fprintf(w, "  %-16s delete %d, update %d, create %d\n", name, c.Delete, c.Update, c.Create)
	}
	if len(report.Changes) == 0 {
		fmt.Fprintln(w, "No changes.")
		return nil
	}
	writeChanges(w, report.Changes)
	fmt.Fprintf(w, "%d change(s), %d created record(s)\n", len(report.Changes), len(report.Mappings))
	return nil
}

func writeChanges(w io.Writer, changes []ir.ChangeRecord) {
	for _, c := range changes {
		fmt.Fprintf(w, "  %-6s %s %d\n", c.Action, c.ObjectType, c.PrimaryKey)
	}
}
