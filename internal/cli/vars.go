package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

// NewVarsCommand creates the vars command with its get and set
// subcommands.
func NewVarsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vars",
		Short: "Read or write instance variables",
		Long: `Read or write the variables of a workflow instance.

Without --scope the root scope is used. With --scope the variables
bound on that activity instance are read and written.`,
	}

	cmd.AddCommand(newVarsGetCommand(rootOpts))
	cmd.AddCommand(newVarsSetCommand(rootOpts))
	return cmd
}

func newVarsGetCommand(rootOpts *RootOptions) *cobra.Command {
	var scope string

	cmd := &cobra.Command{
		Use:   "get <instance>",
		Short: "Print the variables of a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			return withEngine(rootOpts, cmd, func(eng *engine.Engine) error {
				vars, err := eng.GetVariables(context.Background(), args[0], scope)
				if err != nil {
					return engineFailure(formatter, err)
				}
				return printVariables(formatter, vars)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "activity instance whose scope is read")
	return cmd
}

func newVarsSetCommand(rootOpts *RootOptions) *cobra.Command {
	var scope, data string

	cmd := &cobra.Command{
		Use:   "set <instance>",
		Short: "Merge variables into a scope",
		Long: `Merge variables into a scope and print the resulting scope variables.

Example:
  weave vars set 0190c7a4-... --data '{"approved":true}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			vars, err := parseData(data)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeUsage, err)
			}
			if len(vars) == 0 {
				return formatter.Fail(ExitCommandError, ErrCodeUsage, errors.New("--data must set at least one variable"))
			}
			return withEngine(rootOpts, cmd, func(eng *engine.Engine) error {
				ctx := context.Background()
				if err := eng.SetVariables(ctx, args[0], scope, vars); err != nil {
					return engineFailure(formatter, err)
				}
				updated, err := eng.GetVariables(ctx, args[0], scope)
				if err != nil {
					return engineFailure(formatter, err)
				}
				return printVariables(formatter, updated)
			})
		},
	}

	cmd.Flags().StringVar(&scope, "scope", "", "activity instance whose scope is written")
	cmd.Flags().StringVar(&data, "data", "", "variables as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// printVariables writes one "name = value" line per variable, sorted by
// name, or the map itself in JSON format.
func printVariables(formatter *OutputFormatter, vars ir.VariableMap) error {
	if formatter.isJSON() {
		if vars == nil {
			vars = ir.VariableMap{}
		}
		return formatter.Success(vars)
	}

	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(formatter.Writer, "%s = %s\n", name, formatValue(vars[name]))
	}
	return nil
}

// formatValue renders a variable value as compact JSON.
func formatValue(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
