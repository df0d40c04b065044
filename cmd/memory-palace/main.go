// Command memory-palace runs the memory core's HTTP control plane and
// offers a CLI for driving it. Adapted from the teacher's cmd/warren
// two-file split (main.go for the root command + persistent flags,
// apply.go for one resource subcommand): here there is one long-lived
// "serve" subcommand instead of a cluster/manager/worker tree, plus
// thin subcommands per tool-surface operation that speak through
// pkg/client instead of dialing gRPC directly.
package main

import (
	"fmt"
	"os"

	"github.com/memorypalace/core/pkg/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memory-palace",
	Short: "Memory Palace - persistent, auditable long-term memory core for AI agents",
	Long: `Memory Palace stores agent long-term memory as an addressable,
versioned tree, screens new and changed content through a write-guard
ladder while holding the write lane, and keeps a snapshot ledger so any
change can be rolled back.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"memory-palace version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:7777", "Memory core server address (for client subcommands)")
	rootCmd.PersistentFlags().String("api-key", "", "API key presented on write calls (or set MEMORY_PALACE_CLIENT_API_KEY)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
