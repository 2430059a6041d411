package cmd

import (
	"fmt"

	"github.com/endorses/notibridge/internal/pkg/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Args:  cobra.NoArgs,
	// version needs no configuration
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "notibridge "+version.GetFullVersion())
		fmt.Fprintln(cmd.OutOrStdout(), "user agent: "+version.UserAgent())
	},
}
