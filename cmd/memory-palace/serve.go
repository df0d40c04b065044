package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/memorypalace/core/pkg/config"
	"github.com/memorypalace/core/pkg/core"
	"github.com/memorypalace/core/pkg/httpapi"
	"github.com/memorypalace/core/pkg/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the memory core and its HTTP control plane",
	Long: `Serve starts the memory store, write guard, write lane, index
worker and governance loop, then exposes them over the HTTP control
plane described in the configuration reference.

Examples:
  # Start with defaults, reading configuration from environment variables
  memory-palace serve

  # Start against a config file overlay, listening on a custom port
  memory-palace serve --config ./memory-palace.yaml --addr :9090`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Optional YAML config file; environment variables override its values")
	serveCmd.Flags().String("addr", ":7777", "HTTP listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	addr, _ := cmd.Flags().GetString("addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Printf("Memory Palace %s\n", Version)
	fmt.Printf("  data dir:        %s\n", cfg.DataDir)
	fmt.Printf("  listen address:  %s\n", addr)
	fmt.Printf("  embedding:       %s\n", cfg.EmbeddingBackend)

	c, err := core.New(cfg)
	if err != nil {
		return fmt.Errorf("build core: %w", err)
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.Start(ctx)

	server := httpapi.New(c)
	log.WithComponent("cmd").Info().Str("addr", addr).Msg("starting HTTP control plane")

	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	fmt.Println("Memory Palace stopped")
	return nil
}
