package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/graphsync/internal/ir"
	"github.com/roach88/graphsync/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Database   string
	PassID     string
	ObjectType string
	PrimaryKey int64
	AfterSeq   int64
	Limit      int
	Passes     bool
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the change log",
		Long: `Show change log entries in sequence order, or one line per pass.

Filters combine. With --verbose, text output includes each entry's old and
new values.

Examples:
  graphsync log --db ./graph.db
  graphsync log --db ./graph.db --pass 0190a4c2-... --type node
  graphsync log --db ./graph.db --type node --key 42
  graphsync log --db ./graph.db --passes --limit 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.PassID, "pass", "", "only entries of this pass")
	cmd.Flags().StringVar(&opts.ObjectType, "type", "", "only entries of this object type")
	cmd.Flags().Int64Var(&opts.PrimaryKey, "key", 0, "only entries for this primary key")
	cmd.Flags().Int64Var(&opts.AfterSeq, "after", 0, "only entries after this sequence number")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 means all)")
	cmd.Flags().BoolVar(&opts.Passes, "passes", false, "list passes instead of entries")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runLog(opts *LogOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openExisting(opts.Database)
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.Passes {
		passes, err := st.ReadPasses(ctx, opts.Limit)
		if err != nil {
			return commandError(formatter, ErrCodeDatabase, err)
		}
		if opts.Format == "json" {
			return formatter.Success(passes)
		}
		if len(passes) == 0 {
			fmt.Fprintln(formatter.Writer, "No passes recorded.")
			return nil
		}
		for _, p := range passes {
			fmt.Fprintf(formatter.Writer, "%s  %s  %d entries from seq %d  (%s, %s)\n",
				p.RecordedAt.Format(time.RFC3339), p.PassID, p.Entries, p.FirstSeq, p.Actor, p.Context)
		}
		return nil
	}

	entries, err := st.ReadChanges(ctx, store.ChangeFilter{
		PassID:     opts.PassID,
		ObjectType: opts.ObjectType,
		PrimaryKey: opts.PrimaryKey,
		AfterSeq:   opts.AfterSeq,
		Limit:      opts.Limit,
	})
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}
	if opts.Format == "json" {
		return formatter.Success(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No entries.")
		return nil
	}
	for _, e := range entries {
		writeEntry(formatter, e)
	}
	return nil
}

func writeEntry(formatter *OutputFormatter, e ir.AuditEntry) {
	w := formatter.Writer
	redacted := ""
	if e.Redacted {
		redacted = " [redacted]"
	}
	fmt.Fprintf(w, "[%d] %s  %s  %-6s %s %d  (%s, %s)%s\n",
		e.Seq, e.RecordedAt.Format(time.RFC3339), e.PassID, e.Action, e.ObjectType, e.PrimaryKey,
		e.Actor, e.Context, redacted)
	if !formatter.Verbose {
		return
	}
	if e.OldValues != nil {
		fmt.Fprintf(w, "      old: %s\n", canonical(e.OldValues))
	}
	if e.NewValues != nil {
		fmt.Fprintf(w, "      new: %s\n", canonical(e.NewValues))
	}
}

func canonical(obj ir.Object) string {
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", obj)
	}
	return string(data)
}

// openExisting opens a database that must already exist. store.Open would
// otherwise create an empty one.
func openExisting(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path)
}
