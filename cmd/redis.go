package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"craftworker/cache"
	"craftworker/config"
)

var redisJobID string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Check the Redis connection",
	Long:  `Connect to Redis, run a set/get/delete round trip and optionally print the stored state of a job.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Redis: %s:%s, DB: %d\n", cfg.RedisHost, cfg.RedisPort, cfg.RedisDB)

		client, err := cache.ConnectRedis(cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if err := cache.CheckRedis(ctx, client); err != nil {
			return err
		}
		fmt.Fprintln(out, "Redis round trip OK")

		if redisJobID == "" {
			return nil
		}
		snap, ok, err := cache.NewRedisJobState(client).Load(ctx, redisJobID)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(out, "No state stored for job %s\n", redisJobID)
			return nil
		}
		fmt.Fprintf(out, "Job %s: %s (files: %d, craft: %s, error: %s, updated: %s)\n",
			snap.JobID, snap.State, snap.FileCount, snap.CraftID, snap.ErrorName, snap.UpdatedAt.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().StringVarP(&redisJobID, "job", "j", "", "print the stored state of this job")
}
