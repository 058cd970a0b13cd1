package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"craftworker/config"
	"craftworker/core/audio"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>...",
	Short: "Print audio durations and the crossfaded total",
	Long: `Measure each file with ffprobe and print the length a merge of all of them would have,
accounting for the overlap of every crossfade.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		analyzer := audio.NewAnalyzer(cfg.FFprobePath, cfg.SupportedCodecs)

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		total, perFile, err := analyzer.TotalDuration(ctx, args)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for i, path := range args {
			fmt.Fprintf(out, "%10.3fs  %s\n", perFile[i], path)
		}
		merged := total - audio.CrossfadeSeconds*float64(len(args)-1)
		fmt.Fprintf(out, "%10.3fs  total\n", total)
		fmt.Fprintf(out, "%10.3fs  merged (%d crossfades of %.0fs)\n", merged, len(args)-1, audio.CrossfadeSeconds)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
