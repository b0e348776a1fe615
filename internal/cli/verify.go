package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/graphsync/internal/store"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Database string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the change log hash chain",
		Long: `Recompute every change log entry hash in sequence order.

Exit codes:
  0 - Chain intact
  1 - A sequence gap, broken link, or altered entry was found
  2 - Command error (database not found, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runVerify(opts *VerifyOptions, cmd *cobra.Command) error {
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

	report, err := st.VerifyChain(ctx)
	var chainErr *store.ChainError
	if errors.As(err, &chainErr) {
		_ = formatter.Error(ErrCodeChainBroken, chainErr.Error(), map[string]any{
			"seq":      chainErr.Seq,
			"verified": report.Entries,
		})
		return WrapExitError(ExitFailure, "change log verification failed", err)
	}
	if err != nil {
		return commandError(formatter, ErrCodeDatabase, err)
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	if report.Entries == 0 {
		fmt.Fprintln(formatter.Writer, "✓ Change log is empty")
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✓ Change log intact: %d entries, head %s\n", report.Entries, report.Head)
	return nil
}
