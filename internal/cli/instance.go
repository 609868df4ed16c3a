package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

// StartOptions holds flags for the start command.
type StartOptions struct {
	*RootOptions
	Workflow   string
	Source     string
	InstanceID string
	Data       string
	Activities []string
}

// NewStartCommand creates the start command.
func NewStartCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StartOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a workflow instance",
		Long: `Start an instance of a deployed definition.

The definition is --workflow, or the latest deployment of --source.
--data becomes the initial instance variables.

Example:
  weave start --source greeting --data '{"name":"ann"}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Workflow, "workflow", "", "deployed definition id")
	cmd.Flags().StringVar(&opts.Source, "source", "", "definition source id (latest deployment)")
	cmd.Flags().StringVar(&opts.InstanceID, "id", "", "instance id to use instead of a generated one")
	cmd.Flags().StringVar(&opts.Data, "data", "", "initial variables as a JSON object")
	cmd.Flags().StringSliceVar(&opts.Activities, "activity", nil, "start only these start activities")
	cmd.MarkFlagsOneRequired("workflow", "source")
	cmd.MarkFlagsMutuallyExclusive("workflow", "source")

	return cmd
}

func runStart(opts *StartOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	data, err := parseData(opts.Data)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUsage, err)
	}

	return withEngine(opts.RootOptions, cmd, func(eng *engine.Engine) error {
		wi, err := eng.Start(context.Background(), ir.Trigger{
			WorkflowID:       opts.Workflow,
			SourceID:         opts.Source,
			InstanceID:       opts.InstanceID,
			Data:             data,
			StartActivityIDs: opts.Activities,
		})
		if err != nil {
			return engineFailure(formatter, err)
		}
		return printInstance(formatter, wi)
	})
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "send <instance> <activity-instance>",
		Short: "Send a message to a waiting activity instance",
		Long: `Send a message to a waiting activity instance and continue execution.

Example:
  weave send 0190c7a4-... 2 --data '{"reply":"hello"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			vars, err := parseData(data)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeUsage, err)
			}
			return withEngine(rootOpts, cmd, func(eng *engine.Engine) error {
				wi, err := eng.Send(context.Background(), ir.Message{
					InstanceID:         args[0],
					ActivityInstanceID: args[1],
					Data:               vars,
				})
				if err != nil {
					return engineFailure(formatter, err)
				}
				return printInstance(formatter, wi)
			})
		},
	}

	cmd.Flags().StringVar(&data, "data", "", "message data as a JSON object")
	return cmd
}

// NewCancelCommand creates the cancel command.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <instance>",
		Short: "Cancel a workflow instance",
		Long: `Cancel every open activity instance and end the workflow instance.

Cancelling an ended instance changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withEngine(rootOpts, cmd, func(eng *engine.Engine) error {
				wi, err := eng.Cancel(context.Background(), args[0])
				if err != nil {
					return engineFailure(formatter, err)
				}
				return printInstance(formatter, wi)
			})
		},
	}
}

// NewMoveCommand creates the move command.
func NewMoveCommand(rootOpts *RootOptions) *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "move <instance> <activity>",
		Short: "Move execution to another activity",
		Long: `Cancel the open activity instance and start the given top-level activity.

Without --from the instance must have exactly one open activity
instance.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withEngine(rootOpts, cmd, func(eng *engine.Engine) error {
				wi, err := eng.Move(context.Background(), args[0], from, args[1])
				if err != nil {
					return engineFailure(formatter, err)
				}
				return printInstance(formatter, wi)
			})
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "activity instance to move away from")
	return cmd
}

// withEngine opens the runtime, runs fn and closes the runtime. A close
// failure is reported only when fn succeeded.
func withEngine(opts *RootOptions, cmd *cobra.Command, fn func(*engine.Engine) error) (err error) {
	rt, err := openRuntime(opts, cmd)
	if err != nil {
		return err
	}
	defer closeRuntime(rt, &err)
	return fn(rt.engine)
}

// printInstance writes a workflow instance summary followed by its
// activity instance tree.
func printInstance(formatter *OutputFormatter, wi *ir.WorkflowInstance) error {
	if formatter.isJSON() {
		return formatter.Success(wi)
	}

	w := formatter.Writer
	state := color.YellowString("running")
	if wi.IsEnded() {
		state = color.GreenString("ended")
	}
	fmt.Fprintf(w, "Instance %s (%s)\n", wi.ID, state)
	fmt.Fprintf(w, "  workflow  %s\n", wi.WorkflowID)
	if len(wi.Variables) > 0 {
		fmt.Fprintf(w, "  variables %s\n", formatValue(map[string]any(wi.Variables)))
	}
	fmt.Fprintln(w)

	printActivityInstances(w, wi)
	return nil
}

func printActivityInstances(w io.Writer, wi *ir.WorkflowInstance) {
	table := NewTable("ID", "ACTIVITY", "STATE")
	var add func(list []*ir.ActivityInstance, depth int)
	add = func(list []*ir.ActivityInstance, depth int) {
		for _, ai := range list {
			table.AddRow(ai.ID, strings.Repeat("  ", depth)+ai.ActivityID, string(ai.State))
			add(ai.ActivityInstances, depth+1)
		}
	}
	add(wi.ActivityInstances, 0)
	table.Render(w)
}
