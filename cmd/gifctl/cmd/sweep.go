package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"gifmill/internal/sweeper"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale upload directories once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		maxAge, err := cmd.Flags().GetDuration("max-age")
		if err != nil {
			return err
		}
		if maxAge <= 0 {
			maxAge = cfg.TempFileMaxAge
		}
		res := sweeper.New(cfg.UploadRoot(), maxAge, cfg.TempFileCleanupInterval, log).Sweep(time.Now())
		cmd.Printf("scanned %d, removed %d, failed %d\n", res.Scanned, res.Removed, res.Failed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Duration("max-age", 0, "remove entries older than this (default TEMP_FILE_MAX_AGE)")
	rootCmd.AddCommand(sweepCmd)
}
