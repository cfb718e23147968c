package cmd

import (
	"github.com/spf13/cobra"

	"gifmill/internal/config"
	"gifmill/internal/pkg/logger"
)

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gifctl",
	Short: "gifctl is the operator tool for a gifmill deployment",
	Long: `gifctl runs maintenance tasks against the same configuration the api and
worker use (.env, CONFIG_FILE and the environment).

Common workflows:

  Apply metrics schema migrations:
    gifctl migrate

  Remove stale upload directories now:
    gifctl sweep --max-age 2h

  Inspect a task:
    gifctl status <task-id>

  Summarise processed jobs:
    gifctl metrics --since 24h

  Mint a Google Drive refresh token:
    gifctl drive-auth`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		log = logger.New(logger.Config{
			Level:       cfg.LogLevel,
			Format:      "text",
			ServiceName: "gifctl",
		})
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}
