package main

import (
	"fmt"

	"github.com/aretw0/mcpecho"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mcpecho",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "mcpecho version %s\n", mcpecho.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
