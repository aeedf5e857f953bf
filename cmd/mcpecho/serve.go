package main

import (
	"github.com/aretw0/mcpecho"
	"github.com/aretw0/mcpecho/internal/cli"
	"github.com/aretw0/mcpecho/internal/config"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Starts the MCP server on the configured transport.
The http transport also exposes /health, /metrics, /openapi.yaml and the
read-only admin API under /admin/sessions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		logger, err := cli.NewLogger(cfg.Log)
		if err != nil {
			return err
		}

		app, err := cli.NewApp(cfg, mcpecho.Version, logger)
		if err != nil {
			return err
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		err = app.Run(ctx)
		if sig := ctx.Signal(); sig != nil {
			logger.Info("Received signal, server stopped", "signal", sig.String())
		}
		return cli.HandleExecutionError(err)
	},
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	if flags.Changed("transport") {
		cfg.Server.Transport, _ = flags.GetString("transport")
	}
	if flags.Changed("stateless") {
		cfg.Server.Stateless, _ = flags.GetBool("stateless")
	}
	if flags.Changed("base-path") {
		cfg.Server.BasePath, _ = flags.GetString("base-path")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("metrics") {
		cfg.Metrics.Enabled, _ = flags.GetBool("metrics")
	}
	if flags.Changed("stats-schedule") {
		cfg.Stats.Schedule, _ = flags.GetString("stats-schedule")
	}

	return cfg, cfg.Validate()
}

func init() {
	rootCmd.AddCommand(serveCmd)

	defaults := config.Default()
	serveCmd.Flags().String("addr", defaults.Server.Addr, "Listen address for the http transport")
	serveCmd.Flags().String("transport", defaults.Server.Transport, "Transport: http or stdio")
	serveCmd.Flags().Bool("stateless", defaults.Server.Stateless, "Keep state per request only")
	serveCmd.Flags().String("base-path", defaults.Server.BasePath, "HTTP path of the MCP endpoint")
	serveCmd.Flags().String("log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	serveCmd.Flags().String("log-format", defaults.Log.Format, "Log format: text or json")
	serveCmd.Flags().Bool("metrics", defaults.Metrics.Enabled, "Expose Prometheus metrics at /metrics")
	serveCmd.Flags().String("stats-schedule", defaults.Stats.Schedule, "Cron schedule for logging session stats (empty disables)")
}
