package main

import (
	"os"

	"github.com/memorypalace/core/pkg/client"
	"github.com/spf13/cobra"
)

// newClient builds a pkg/client.Client from the root command's persistent
// --server/--api-key flags, falling back to MEMORY_PALACE_CLIENT_API_KEY
// when --api-key is left empty (so scripts don't have to put the key on
// the command line).
func newClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("MEMORY_PALACE_CLIENT_API_KEY")
	}
	return client.New(server, apiKey)
}
