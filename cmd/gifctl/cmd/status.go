package cmd

import (
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"gifmill/internal/jobs"
	"gifmill/internal/status"
)

var statusCmd = &cobra.Command{
	Use:   "status [task_id]",
	Short: "Show the resolved status of a task",
	Long:  `Resolve a task the same way GET /api/task-status does, following deferred results, and print the JSON payload.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		resolver := status.NewResolver(jobs.NewStore(rdb, cfg.ResultTTL), log)
		st, err := resolver.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
