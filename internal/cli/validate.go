package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/compiler"
	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool             `json:"valid"`
	SourceID string           `json:"source_id,omitempty"`
	Hash     string           `json:"hash,omitempty"`
	Issues   []compiler.Issue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <definition-file>",
		Short: "Compile a definition without deploying it",
		Long: `Compile a workflow definition and report its issues.

Errors (unknown kinds, dangling transitions, missing start activities,
invalid conditions) block deployment. Warnings (loops, unreachable
activities) are reported but do not.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	src, err := loadDefinition(formatter, path)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Loaded %s (%d top-level activities)", path, len(src.Activities))

	_, issues := compiler.Compile(src, engine.DefaultRegistry())
	result := ValidationResult{
		Valid:    !compiler.HasErrors(issues),
		SourceID: src.SourceID,
		Issues:   issues,
	}
	if result.Valid {
		if result.Hash, err = ir.WorkflowHash(src); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeLoad, err)
		}
	}

	if formatter.isJSON() {
		response := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			errs := compiler.Errors(issues)
			response.Status = "error"
			response.Error = &CLIError{Code: errs[0].Code, Message: errs[0].Message}
		}
		if err := formatter.encode(response); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if result.Valid {
			fmt.Fprintf(w, "%s %s is valid (hash %s)\n", color.GreenString("✓"), path, result.Hash)
		} else {
			fmt.Fprintf(w, "%s %s is invalid\n", color.RedString("✗"), path)
		}
		printIssues(w, issues)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(compiler.Errors(issues))))
	}
	return nil
}

// printIssues lists issues, errors in red and warnings in yellow.
func printIssues(w io.Writer, issues []compiler.Issue) {
	for _, issue := range issues {
		severity := color.YellowString(string(issue.Severity))
		if issue.Severity == compiler.SeverityError {
			severity = color.RedString(string(issue.Severity))
		}
		path := issue.Path
		if path == "" {
			path = "workflow"
		}
		fmt.Fprintf(w, "  %s %s %s: %s\n", issue.Code, severity, path, issue.Message)
	}
}
