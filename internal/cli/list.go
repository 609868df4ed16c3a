package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

// DeleteResult reports how many entries a delete removed.
type DeleteResult struct {
	Deleted int `json:"deleted"`
}

// InstancesOptions holds flags for the instances command.
type InstancesOptions struct {
	*RootOptions
	Workflow string
	Activity string
	Open     bool
	Ended    bool
	Limit    int
	Delete   bool
}

// NewInstancesCommand creates the instances command.
func NewInstancesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstancesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "instances [id...]",
		Short: "List workflow instances",
		Long: `List workflow instances matching the filters, or delete them with --delete.

Examples:
  weave instances --open
  weave instances --workflow 0190c7a4-... --activity review
  weave instances --ended --delete`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstances(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Workflow, "workflow", "", "only instances of this definition id")
	cmd.Flags().StringVar(&opts.Activity, "activity", "", "only instances with this activity open")
	cmd.Flags().BoolVar(&opts.Open, "open", false, "only instances that have not ended")
	cmd.Flags().BoolVar(&opts.Ended, "ended", false, "only instances that have ended")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of instances (0 = all)")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the matching instances")
	cmd.MarkFlagsMutuallyExclusive("open", "ended")

	return cmd
}

func runInstances(opts *InstancesOptions, ids []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	q := ir.InstanceQuery{
		IDs:        ids,
		WorkflowID: opts.Workflow,
		ActivityID: opts.Activity,
		Limit:      opts.Limit,
	}
	if opts.Open || opts.Ended {
		ended := opts.Ended
		q.Ended = &ended
	}

	return withEngine(opts.RootOptions, cmd, func(eng *engine.Engine) error {
		ctx := context.Background()
		if opts.Delete {
			n, err := eng.DeleteInstances(ctx, q)
			if err != nil {
				return engineFailure(formatter, err)
			}
			return printDeleted(formatter, n, "instance")
		}

		instances, err := eng.FindInstances(ctx, q)
		if err != nil {
			return engineFailure(formatter, err)
		}
		if formatter.isJSON() {
			if instances == nil {
				instances = []*ir.WorkflowInstance{}
			}
			return formatter.Success(instances)
		}
		if len(instances) == 0 {
			fmt.Fprintln(formatter.Writer, "No instances found.")
			return nil
		}

		table := NewTable("ID", "WORKFLOW", "STARTED", "ENDED", "OPEN")
		for _, wi := range instances {
			var open []string
			for _, ai := range wi.OpenActivityInstances() {
				open = append(open, ai.ActivityID+"#"+ai.ID)
			}
			table.AddRow(wi.ID, wi.WorkflowID, wi.Start.Format(time.RFC3339), strconv.FormatBool(wi.IsEnded()), strings.Join(open, ","))
		}
		table.Render(formatter.Writer)
		return nil
	})
}

// WorkflowsOptions holds flags for the workflows command.
type WorkflowsOptions struct {
	*RootOptions
	Source string
	Name   string
	Limit  int
	Delete bool
}

// NewWorkflowsCommand creates the workflows command.
func NewWorkflowsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "workflows [id]",
		Short: "List deployed definitions",
		Long: `List deployed definitions matching the filters, or delete them with --delete.

Deleting a definition leaves its instances in place.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflows(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Source, "source", "", "only definitions with this source id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only definitions with this name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of definitions (0 = all)")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the matching definitions")

	return cmd
}

func runWorkflows(opts *WorkflowsOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	q := ir.WorkflowQuery{SourceID: opts.Source, Name: opts.Name, Limit: opts.Limit}
	if len(args) == 1 {
		q.ID = args[0]
	}

	return withEngine(opts.RootOptions, cmd, func(eng *engine.Engine) error {
		ctx := context.Background()
		if opts.Delete {
			n, err := eng.DeleteWorkflows(ctx, q)
			if err != nil {
				return engineFailure(formatter, err)
			}
			return printDeleted(formatter, n, "workflow")
		}

		workflows, err := eng.FindWorkflows(ctx, q)
		if err != nil {
			return engineFailure(formatter, err)
		}
		if formatter.isJSON() {
			if workflows == nil {
				workflows = []*ir.WorkflowSource{}
			}
			return formatter.Success(workflows)
		}
		if len(workflows) == 0 {
			fmt.Fprintln(formatter.Writer, "No workflows found.")
			return nil
		}

		table := NewTable("ID", "SOURCE", "NAME", "CREATED")
		for _, w := range workflows {
			table.AddRow(w.ID, w.SourceID, w.Name, w.CreateTime.Format(time.RFC3339))
		}
		table.Render(formatter.Writer)
		return nil
	})
}

func printDeleted(formatter *OutputFormatter, n int, noun string) error {
	if formatter.isJSON() {
		return formatter.Success(DeleteResult{Deleted: n})
	}
	if n != 1 {
		noun += "s"
	}
	fmt.Fprintf(formatter.Writer, "Deleted %d %s\n", n, noun)
	return nil
}
