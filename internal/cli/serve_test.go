package cli_test

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/mcpecho/internal/cli"
	"github.com/aretw0/mcpecho/internal/config"
	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewApp(t *testing.T) {
	cfg := config.Default()
	cfg.Stats.Schedule = "@every 1h"

	app, err := cli.NewApp(cfg, "test", logging.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, app.Metrics)
	assert.NotNil(t, app.Reporter)
	assert.NotNil(t, app.Handler())

	cfg.Metrics.Enabled = false
	cfg.Stats.Schedule = ""
	app, err = cli.NewApp(cfg, "test", logging.NewNop())
	require.NoError(t, err)
	assert.Nil(t, app.Metrics)
	assert.Nil(t, app.Reporter)
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Stats.Schedule = "@every 1h"

	app, err := cli.NewApp(cfg, "test", logging.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestApp_RunListenError(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "256.0.0.1:99999"

	app, err := cli.NewApp(cfg, "test", logging.NewNop())
	require.NoError(t, err)
	assert.Error(t, app.Run(context.Background()))
}

func TestHandleExecutionError(t *testing.T) {
	assert.NoError(t, cli.HandleExecutionError(nil))
	assert.NoError(t, cli.HandleExecutionError(context.Canceled))
	assert.Error(t, cli.HandleExecutionError(assert.AnError))
}
