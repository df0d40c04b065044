package main

import (
	"context"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and drive the background index worker",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Enqueue a full-text rebuild, or a single-memory reindex with --memory-id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		memoryID, _ := cmd.Flags().GetString("memory-id")
		reason, _ := cmd.Flags().GetString("reason")
		wait, _ := cmd.Flags().GetBool("wait")
		timeout, _ := cmd.Flags().GetInt("timeout-seconds")
		sleep, _ := cmd.Flags().GetBool("sleep-consolidation")

		out, err := c.RebuildIndex(context.Background(), memoryID, reason, wait, timeout, sleep)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the index worker's queue depth, active jobs and recent history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		out, err := c.IndexStatus(context.Background())
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var indexRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a failed index job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		reason, _ := cmd.Flags().GetString("reason")
		out, err := c.RetryIndexJob(context.Background(), args[0], reason)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	indexCmd.AddCommand(indexRebuildCmd)
	indexCmd.AddCommand(indexStatusCmd)
	indexCmd.AddCommand(indexRetryCmd)

	indexRebuildCmd.Flags().String("memory-id", "", "Reindex only this memory instead of a full rebuild")
	indexRebuildCmd.Flags().String("reason", "manual", "Reason recorded against the job")
	indexRebuildCmd.Flags().Bool("wait", false, "Block until the job finishes or times out")
	indexRebuildCmd.Flags().Int("timeout-seconds", 0, "Wait timeout in seconds (only with --wait)")
	indexRebuildCmd.Flags().Bool("sleep-consolidation", false, "Run sleep consolidation instead of a reindex")

	indexRetryCmd.Flags().String("reason", "manual retry", "Reason recorded against the retry")
}
