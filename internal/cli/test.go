package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/graphsync/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string // glob over scenario file names without extension
	Golden string
}

// ScenarioResult is one scenario's verdict.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the verdict of a whole run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(s ScenarioResult) {
	r.Scenarios = append(r.Scenarios, s)
	r.Total++
	if s.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run reconciliation scenarios",
		Long: `Run scenario files through the harness.

Each scenario declares its graph schema inline and applies a sequence of
desired documents to a fresh in-memory store. Pass expectations and
assertions are checked, and the resulting change log is compared with the
scenario's golden file when one exists.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  graphsync test ./scenarios
  graphsync test ./scenarios --filter "create-*"
  graphsync test ./scenarios --golden ./golden --update
  graphsync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only scenarios whose file name matches this glob")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "golden file directory (default <scenarios-dir>/golden)")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return NewExitError(ExitCommandError, "scenarios directory not found: "+dir)
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	r := &scenarioRunner{opts: opts, golden: opts.Golden}
	if r.golden == "" {
		r.golden = filepath.Join(dir, "golden")
	}
	if opts.Format != "json" {
		r.progress = cmd.OutOrStdout()
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	for _, f := range files {
		result.add(r.run(f))
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: result}
		if result.Failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScenarioFail, Message: failedMessage(result)}
		}
		if err := formatter.Encode(resp); err != nil {
			return err
		}
	} else {
		printTestSummary(cmd.OutOrStdout(), result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, failedMessage(result))
	}
	return nil
}

func failedMessage(r TestResult) string {
	return fmt.Sprintf("%d scenario(s) failed", r.Failed)
}

func printTestSummary(w io.Writer, r TestResult) {
	if r.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
	if r.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}

// findScenarioFiles lists .yaml and .yml files under dir in lexical order.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// scenarioRunner runs scenario files and checks them against golden files.
// progress, when set, receives one line per scenario.
type scenarioRunner struct {
	opts     *TestOptions
	golden   string
	progress io.Writer
}

func (r *scenarioRunner) report(s ScenarioResult, note string) ScenarioResult {
	if r.progress == nil {
		return s
	}
	if s.Pass {
		fmt.Fprintf(r.progress, "✓ %s%s\n", s.Name, note)
		return s
	}
	fmt.Fprintf(r.progress, "✗ %s\n", s.Name)
	for _, e := range s.Errors {
		fmt.Fprintf(r.progress, "  %s\n", e)
	}
	return s
}

func (r *scenarioRunner) fail(name string, errs ...string) ScenarioResult {
	return r.report(ScenarioResult{Name: name, Errors: errs}, "")
}

func (r *scenarioRunner) run(file string) ScenarioResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return r.fail(filepath.Base(file), fmt.Sprintf("failed to load scenario: %v", err))
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return r.fail(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}
	snapshot, err := harness.Snapshot(result)
	if err != nil {
		return r.fail(scenario.Name, fmt.Sprintf("failed to render snapshot: %v", err))
	}
	path := filepath.Join(r.golden, scenario.Name+".golden")

	if r.opts.Update {
		if err := writeGoldenFile(path, snapshot); err != nil {
			return r.fail(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		if !result.Pass {
			return r.fail(scenario.Name, result.Errors...)
		}
		return r.report(ScenarioResult{Name: scenario.Name, Pass: true}, " (golden updated)")
	}

	errs := slices.Clone(result.Errors)
	want, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// assertions alone decide
	case err != nil:
		errs = append(errs, fmt.Sprintf("failed to read golden file: %v", err))
	case !bytes.Equal(want, snapshot):
		errs = append(errs, "change log does not match golden file (run with --update to regenerate)")
	}
	if len(errs) > 0 {
		return r.fail(scenario.Name, errs...)
	}
	return r.report(ScenarioResult{Name: scenario.Name, Pass: true}, "")
}

func writeGoldenFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}
