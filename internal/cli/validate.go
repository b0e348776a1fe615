package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool            `json:"valid"`
	Graphs []GraphSummary  `json:"graphs,omitempty"`
	Errors []ValidateIssue `json:"errors,omitempty"`
}

// GraphSummary describes one compiled graph.
type GraphSummary struct {
	Name  string   `json:"name"`
	Order []string `json:"order"`
}

// ValidateIssue is one schema problem.
type ValidateIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema-dir>",
		Short: "Validate graph schemas",
		Long: `Compile and validate the CUE graph schemas in a directory.

Reports every problem found: unknown keys, bad field types, refs to
unknown collections, self references, reference cycles, and field list
conflicts. On success prints each graph's parents-first order.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, schemaDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loadResult, loadErrors := LoadSchemas(schemaDir, LoadModeCollectAll)
	if loadResult == nil {
		return outputLoadError(formatter, loadErrors[0])
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, schemaDir)

	if len(loadErrors) > 0 {
		issues := make([]ValidateIssue, 0, len(loadErrors))
		for _, err := range loadErrors {
			issues = append(issues, toIssue(err))
		}
		return outputValidationErrors(formatter, issues)
	}

	result := ValidationResult{Valid: true}
	for _, g := range loadResult.Graphs {
		formatter.VerboseLog("Validated graph: %s", g.Name)
		result.Graphs = append(result.Graphs, GraphSummary{Name: g.Name, Order: g.Order})
	}
	return outputValidateSuccess(formatter, result)
}

func toIssue(err error) ValidateIssue {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		line := 0
		if loadErr.Pos.IsValid() {
			line = loadErr.Pos.Line()
		}
		return ValidateIssue{Code: loadErr.Code, Message: loadErr.Message, Line: line}
	}
	return ValidateIssue{Code: ErrCodeGeneric, Message: err.Error()}
}

// outputLoadError reports a failure to load schemas at all.
func outputLoadError(formatter *OutputFormatter, err error) error {
	issue := toIssue(err)
	_ = formatter.Error(issue.Code, issue.Message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", issue.Code, issue.Message))
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, g := range result.Graphs {
		fmt.Fprintf(formatter.Writer, "graph %s: %v\n", g.Name, g.Order)
	}
	fmt.Fprintln(formatter.Writer, "✓ All schemas valid")
	return nil
}

// outputValidationErrors outputs every schema problem found.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidateIssue) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if formatter.Format == "json" {
		if err := formatter.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
		}); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", issue.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return failure
}
