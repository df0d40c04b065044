package main

import (
	"context"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memory by keyword, semantic similarity, or hybrid of both",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		mode, _ := cmd.Flags().GetString("mode")
		maxResults, _ := cmd.Flags().GetInt("max-results")

		out, err := c.SearchMemory(context.Background(), args[0], mode, maxResults)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

func init() {
	searchCmd.Flags().String("mode", "", "Search mode: keyword, semantic, or hybrid (defaults to server config)")
	searchCmd.Flags().Int("max-results", 0, "Maximum results to return (defaults to server config)")
}
