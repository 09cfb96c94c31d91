package cli

import (
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cadenced",
		Short: "Low-latency processing graph daemon",
		Long:  "cadenced schedules a graph of processing nodes in driver partitions:\neach driver's clock triggers a cycle and dependency counters cascade the\nwork through the graph.",
	}

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("cadenced " + Version + "\n")

	rootCmd.AddCommand(NewRunCmd())

	return rootCmd
}
