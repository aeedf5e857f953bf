package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/mcpecho/internal/config"
	"github.com/aretw0/mcpecho/internal/presentation/tui"
	httpadapter "github.com/aretw0/mcpecho/pkg/adapters/http"
	mcpadapter "github.com/aretw0/mcpecho/pkg/adapters/mcp"
	"github.com/aretw0/mcpecho/pkg/adapters/memory"
	"github.com/aretw0/mcpecho/pkg/observability"
	"github.com/aretw0/mcpecho/pkg/session"
	"github.com/aretw0/mcpecho/pkg/state"
	"golang.org/x/sync/errgroup"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// App is the wired server: registry, state adapter, MCP server and the
// optional metrics and stats reporter.
type App struct {
	Config   config.Config
	Version  string
	Logger   *slog.Logger
	Registry *session.Registry
	Metrics  *observability.Metrics
	MCP      *mcpadapter.Server
	Reporter *observability.Reporter
}

// NewApp wires the components described by cfg.
func NewApp(cfg config.Config, version string, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Version: version, Logger: logger}

	regOpts := []session.Option{session.WithLogger(logger)}
	adapterOpts := []state.Option{state.WithLogger(logger)}
	mcpOpts := []mcpadapter.Option{
		mcpadapter.WithLogger(logger),
		mcpadapter.WithStatelessMode(cfg.Server.Stateless),
		mcpadapter.WithVersion(version),
	}

	if cfg.Metrics.Enabled {
		app.Metrics = observability.NewMetrics()
		regOpts = append(regOpts, session.WithObserver(app.Metrics))
		adapterOpts = append(adapterOpts, state.WithRecorder(app.Metrics))
		mcpOpts = append(mcpOpts, mcpadapter.WithToolRecorder(app.Metrics))
	}

	app.Registry = session.NewRegistry(memory.NewStore(), regOpts...)
	adapter := state.NewAdapter(app.Registry, adapterOpts...)
	app.MCP = mcpadapter.NewServer(app.Registry, adapter, mcpOpts...)

	if cfg.Stats.Schedule != "" {
		r, err := observability.NewReporter(app.Registry, cfg.Stats.Schedule,
			observability.WithReporterLogger(logger))
		if err != nil {
			return nil, err
		}
		app.Reporter = r
	}

	if _, err := httpadapter.GetSwagger(); err != nil {
		return nil, err
	}
	return app, nil
}

// Handler returns the HTTP handler for the http transport.
func (a *App) Handler() http.Handler {
	opts := []httpadapter.Option{
		httpadapter.WithLogger(a.Logger),
		httpadapter.WithVersion(a.Version),
		httpadapter.WithMCP(a.Config.Server.BasePath, a.MCP.Handler(a.Config.Server.BasePath)),
	}
	if a.Metrics != nil {
		opts = append(opts, httpadapter.WithMetrics(a.Metrics.Handler()))
	}
	return httpadapter.NewHandler(a.Registry, opts...)
}

// Run serves the configured transport until ctx is cancelled or the
// transport stops.
func (a *App) Run(ctx context.Context) error {
	var ln net.Listener
	switch a.Config.Server.Transport {
	case config.TransportStdio:
	case config.TransportHTTP:
		var err error
		ln, err = net.Listen("tcp", a.Config.Server.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Addr, err)
		}
	default:
		return fmt.Errorf("unknown transport %q", a.Config.Server.Transport)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if a.Reporter != nil {
		g.Go(func() error { return a.Reporter.Run(ctx) })
	}

	if ln != nil {
		a.serveHTTP(ctx, g, ln)
	} else {
		g.Go(func() error {
			defer cancel()
			a.Logger.Info("MCP Server listening (stdio)", "stateless", a.Config.Server.Stateless)
			return HandleExecutionError(a.MCP.ServeStdio(ctx))
		})
	}

	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group, ln net.Listener) {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if IsTerminal(os.Stderr) {
		tui.PrintBanner(os.Stderr, a.Version, fmt.Sprintf("MCP on http://%s%s", ln.Addr(), a.Config.Server.BasePath))
	}

	g.Go(func() error {
		a.Logger.Info("MCP Server listening (streamable HTTP)",
			"address", ln.Addr().String(),
			"path", a.Config.Server.BasePath,
			"stateless", a.Config.Server.Stateless,
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		a.Logger.Info("Shutting down server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
}
