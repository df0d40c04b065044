package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/memorypalace/core/pkg/client"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Two-phase review for deleting or keeping low-vitality memories",
}

var cleanupPrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Prepare a cleanup review, returning a confirmation token",
	Long: `Prepare submits the memories the reviewer chose to delete or keep,
each pinned to the state_hash it was reviewed at. The server returns a
review ID and confirmation phrase that must be echoed back to
"cleanup confirm" before anything is actually deleted.

Examples:
  memory-palace cleanup prepare --action delete --reviewer alice \
    --select mem_123:abcdef --select mem_456:012345`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		action, _ := cmd.Flags().GetString("action")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		raw, _ := cmd.Flags().GetStringArray("select")

		selections := make([]client.CleanupSelection, 0, len(raw))
		for _, s := range raw {
			memoryID, stateHash, ok := strings.Cut(s, ":")
			if !ok {
				return fmt.Errorf("--select %q must be memory_id:state_hash", s)
			}
			selections = append(selections, client.CleanupSelection{MemoryID: memoryID, StateHash: stateHash})
		}

		out, err := c.PrepareCleanup(context.Background(), action, reviewer, selections)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var cleanupConfirmCmd = &cobra.Command{
	Use:   "confirm <review-id> <token>",
	Short: "Confirm a prepared cleanup review and apply it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		phrase, _ := cmd.Flags().GetString("phrase")
		out, err := c.ConfirmCleanup(context.Background(), args[0], args[1], phrase)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	cleanupCmd.AddCommand(cleanupPrepareCmd)
	cleanupCmd.AddCommand(cleanupConfirmCmd)

	cleanupPrepareCmd.Flags().String("action", "delete", "delete or keep")
	cleanupPrepareCmd.Flags().String("reviewer", "", "Reviewer identity recorded on the review")
	cleanupPrepareCmd.Flags().StringArray("select", nil, "memory_id:state_hash pair, repeatable")
	_ = cleanupPrepareCmd.MarkFlagRequired("reviewer")

	cleanupConfirmCmd.Flags().String("phrase", "", "Confirmation phrase echoed back from prepare")
	_ = cleanupConfirmCmd.MarkFlagRequired("phrase")
}
