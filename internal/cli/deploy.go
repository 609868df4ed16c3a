package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/compiler"
)

// DeployResult is the outcome of a deployment.
type DeployResult struct {
	ID       string           `json:"id"`
	SourceID string           `json:"source_id,omitempty"`
	Hash     string           `json:"hash"`
	Issues   []compiler.Issue `json:"issues,omitempty"`
}

// NewDeployCommand creates the deploy command.
func NewDeployCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <definition-file>",
		Short: "Deploy a definition",
		Long: `Compile a workflow definition and store it under a new id.

Deploying the same file twice creates two definitions; starting by
--source picks the latest one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runDeploy(opts *RootOptions, path string, cmd *cobra.Command) (err error) {
	formatter := newFormatter(opts, cmd)

	src, err := loadDefinition(formatter, path)
	if err != nil {
		return err
	}

	rt, err := openRuntime(opts, cmd)
	if err != nil {
		return err
	}
	defer closeRuntime(rt, &err)

	d, err := rt.engine.Deploy(context.Background(), src)
	if err != nil {
		return engineFailure(formatter, err)
	}
	if d.HasErrors() {
		if formatter.isJSON() {
			_ = formatter.Error(ErrCodeRejected, d.Err().Error(), d.Issues)
		} else {
			fmt.Fprintf(formatter.Writer, "Deployment of %s rejected\n", path)
			printIssues(formatter.Writer, d.Issues)
		}
		return WrapExitError(ExitFailure, ErrCodeRejected, d.Err())
	}

	result := DeployResult{ID: d.ID, SourceID: src.SourceID, Hash: d.Hash, Issues: d.Issues}
	if formatter.isJSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "Deployed %s as %s\n", path, d.ID)
	fmt.Fprintf(formatter.Writer, "  source %s\n  hash   %s\n", src.SourceID, d.Hash)
	printIssues(formatter.Writer, d.Issues)
	return nil
}

// closeRuntime closes rt and keeps the first error.
func closeRuntime(rt *runtime, err *error) {
	if cerr := rt.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
