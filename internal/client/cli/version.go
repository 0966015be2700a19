package cli

import (
	"github.com/dmitrijs2005/homesync/internal/buildinfo"
	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Format == "json" {
				return opts.printer(cmd.OutOrStdout()).json(map[string]string{"version": buildinfo.Version()})
			}
			buildinfo.PrintBuildData(cmd.OutOrStdout())
			return nil
		},
	}
}
