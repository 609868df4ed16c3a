package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weave/internal/ir"
)

// VersionInfo is the JSON payload of the version command.
type VersionInfo struct {
	Version       string `json:"version"`
	FormatVersion string `json:"format_version"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := newFormatter(rootOpts, cmd)
			if formatter.isJSON() {
				return formatter.Success(VersionInfo{Version: ir.EngineVersion, FormatVersion: ir.FormatVersion})
			}
			fmt.Fprintf(formatter.Writer, "weave %s (format %s)\n", ir.EngineVersion, ir.FormatVersion)
			return nil
		},
	}
}
