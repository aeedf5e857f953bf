package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mcpecho",
	Short: "mcpecho is an MCP echo server with per-session state",
	Long: `mcpecho serves a small set of MCP tools over streamable HTTP or stdio.
In stateful mode every client gets a server-minted session whose key/value
state survives across requests; in stateless mode state lives for one request.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML or JSON config file (default mcpecho.yaml if present)")
}
