package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/eresion/internal/ir"
)

// VersionInfo is printed by the version command.
type VersionInfo struct {
	Engine   string `json:"engine"`
	Snapshot int    `json:"snapshot_format"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print engine and snapshot format versions",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := VersionInfo{Engine: ir.EngineVersion, Snapshot: ir.SnapshotVersion}
			formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return formatter.Success(info,
				fmt.Sprintf("eresion %s (snapshot format v%d)", info.Engine, info.Snapshot))
		},
	}
}
