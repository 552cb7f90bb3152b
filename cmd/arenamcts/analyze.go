package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brensch/arenamcts/store"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [parquet-dir]",
	Short: "Summarise self-play Parquet output with DuckDB",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := cfg.ParquetDir
		if len(args) == 1 {
			dir = args[0]
		}
		files, err := store.BatchFiles(dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no batch files in %s", dir)
		}

		summaries, err := store.Summarize(cmd.Context(), dir)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "GAME\tGAMES\tROWS\tAVG PLIES\tP0 WIN\tP1 WIN\tDRAW")
		for _, s := range summaries {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.3f\t%.3f\t%.3f\n",
				s.Game, s.Games, s.Rows, s.AvgPlies, s.Player0, s.Player1, s.DrawShare)
		}
		return tw.Flush()
	},
}
