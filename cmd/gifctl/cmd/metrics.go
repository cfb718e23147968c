package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gifmill/internal/repositories"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Summarise recorded jobs per tool and status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		since, err := cmd.Flags().GetDuration("since")
		if err != nil {
			return err
		}
		store, err := repositories.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := store.Summary(cmd.Context(), time.Now().Add(-since))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			cmd.Println("no jobs recorded")
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOOL\tSTATUS\tCOUNT\tAVG MS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f\n", r.Tool, r.Status, r.Count, r.AvgProcessingMS)
		}
		return tw.Flush()
	},
}

func init() {
	metricsCmd.Flags().Duration("since", 24*time.Hour, "window to summarise")
	rootCmd.AddCommand(metricsCmd)
}
