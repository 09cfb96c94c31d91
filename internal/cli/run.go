package cli

import (
	"github.com/spf13/cobra"

	"cadence/internal/cadence"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the daemon",
		Long:  "Load the configuration, start the graph, the control API and the\nmetrics exporter, then block until a shutdown signal arrives.",
		Run: func(cmd *cobra.Command, args []string) {
			cadence.NewApp().Start()
		},
	}
}
