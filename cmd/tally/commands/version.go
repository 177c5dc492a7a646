package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/tally/display"
	"github.com/teranos/tally/version"
)

// VersionCmd represents the version command
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show tally version information",
	Long:  `Display version, build time, commit hash, and platform information for the tally binary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()

		if display.ShouldOutputJSON(cmd) {
			return display.Write(cmd.OutOrStdout(), display.FormatJSON, info, nil)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		fmt.Fprintf(cmd.OutOrStdout(), "Platform: %s\n", info.Platform)
		fmt.Fprintf(cmd.OutOrStdout(), "Go: %s\n", info.GoVersion)
		return nil
	},
}
