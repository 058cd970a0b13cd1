package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "craftworker",
	Short: "craftworker merges podcast parts into finished crafts.",
	Long: `craftworker accepts transcoding jobs over a websocket channel, fetches the referenced
audio clips, crossfades them into one file and hands the result to object storage and the catalog.
Running it without a subcommand starts the worker.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
