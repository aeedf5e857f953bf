package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/mcpecho/internal/cli"
	"github.com/aretw0/mcpecho/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect sessions on a running server",
	Long:  `List, inspect, and remove sessions through the admin API of a running mcpecho server.`,
}

var sessionsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all active sessions",
	Run: func(cmd *cobra.Command, args []string) {
		list, err := adminClient(cmd).List(cmd.Context())
		if err != nil {
			cli.Fatal("listing sessions: %v", err)
		}
		output(cmd, list, func() string { return cli.RenderSessionList(list) })
	},
}

var sessionsInspectCmd = &cobra.Command{
	Use:   "inspect <session-id>",
	Short: "Inspect the state of a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pattern, _ := cmd.Flags().GetString("pattern")
		detail, err := adminClient(cmd).Get(cmd.Context(), args[0], pattern)
		if err != nil {
			cli.Fatal("loading session '%s': %v", args[0], err)
		}
		output(cmd, detail, func() string { return cli.RenderSessionDetail(detail) })
	},
}

var sessionsRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client := adminClient(cmd)
		hasError := false

		for _, sessionID := range args {
			if err := client.Remove(cmd.Context(), sessionID); err != nil {
				fmt.Fprintf(os.Stderr, "Error removing '%s': %v\n", sessionID, err)
				hasError = true
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed session '%s'\n", sessionID)
			}
		}

		if hasError {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.PersistentFlags().String("server", "http://localhost:3000", "Base URL of the running server")
	sessionsCmd.PersistentFlags().Bool("json", false, "Print raw JSON instead of a table")
	sessionsInspectCmd.Flags().String("pattern", "", "Only show state keys matching this glob")

	sessionsCmd.AddCommand(sessionsLsCmd)
	sessionsCmd.AddCommand(sessionsInspectCmd)
	sessionsCmd.AddCommand(sessionsRmCmd)
}

func adminClient(cmd *cobra.Command) *cli.AdminClient {
	server, _ := cmd.Flags().GetString("server")
	return cli.NewAdminClient(server, nil)
}

// output prints v as JSON when requested or when stdout is not a terminal,
// and as rendered markdown otherwise.
func output(cmd *cobra.Command, v any, markdown func() string) {
	w := cmd.OutOrStdout()
	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON || !cli.IsTerminal(os.Stdout) {
		writeJSON(w, v)
		return
	}

	rendered, err := tui.NewRenderer()(markdown())
	if err != nil {
		fmt.Fprint(w, markdown())
		return
	}
	fmt.Fprint(w, rendered)
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		cli.Fatal("encoding output: %v", err)
	}
}
