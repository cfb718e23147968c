package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"gifmill/internal/repositories"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply metrics store migrations",
	Long:  `Apply the embedded migrations for the configured METRICS_DRIVER. Postgres uses versioned migrations; SQLite applies its idempotent schema on open.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch cfg.MetricsDriver {
		case "postgres":
			if err := repositories.MigratePostgres(cfg.DatabaseURL); err != nil {
				return err
			}
		case "sqlite":
			store, err := repositories.OpenSQLite(cfg.SQLitePath)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return err
			}
		case "none", "":
			cmd.Println("metrics driver is none, nothing to migrate")
			return nil
		default:
			return fmt.Errorf("unknown metrics driver: %s", cfg.MetricsDriver)
		}
		cmd.Printf("%s schema is up to date\n", cfg.MetricsDriver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
