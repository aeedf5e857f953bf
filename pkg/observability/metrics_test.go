package observability_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aretw0/mcpecho/pkg/adapters/memory"
	"github.com/aretw0/mcpecho/pkg/observability"
	"github.com/aretw0/mcpecho/pkg/session"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RegistryObserver(t *testing.T) {
	m := observability.NewMetrics()
	reg := session.NewRegistry(memory.NewStore(), session.WithObserver(m))
	ctx := context.Background()

	a, err := reg.Create(ctx)
	require.NoError(t, err)
	_, err = reg.Create(ctx)
	require.NoError(t, err)

	removed, err := reg.Remove(ctx, a)
	require.NoError(t, err)
	require.True(t, removed)

	// Idempotent removal must not be counted twice
	_, err = reg.Remove(ctx, a)
	require.NoError(t, err)

	names := gatheredNames(t, m)
	assert.Contains(t, names, "mcpecho_sessions_active")
	assert.Contains(t, names, "go_goroutines")

	body := scrape(t, m)
	assert.Contains(t, body, "mcpecho_sessions_created_total 2")
	assert.Contains(t, body, "mcpecho_sessions_removed_total 1")
	assert.Contains(t, body, "mcpecho_sessions_active 1")
}

func TestMetrics_StateRecorder(t *testing.T) {
	m := observability.NewMetrics()
	reg := session.NewRegistry(memory.NewStore())
	adapter := state.NewAdapter(reg, state.WithRecorder(m))

	id, err := reg.Create(context.Background())
	require.NoError(t, err)

	// No snapshot attached: the fallback scope serves the call
	ctx := state.NewContext(context.Background(), state.NewRequest(state.WithSessionID(id)))
	require.NoError(t, adapter.Set(ctx, "k", "v"))
	adapter.Get(ctx, "k", nil)

	body := scrape(t, m)
	assert.Contains(t, body, `mcpecho_state_operations_total{op="set",scope="fallback"} 1`)
	assert.Contains(t, body, `mcpecho_state_operations_total{op="get",scope="fallback"} 1`)
	assert.Contains(t, body, "mcpecho_state_fallback_total 2")
}

func TestMetrics_ToolCall(t *testing.T) {
	m := observability.NewMetrics()
	m.ToolCall("echo", false, 10*time.Millisecond)
	m.ToolCall("echo", true, 5*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `mcpecho_tool_calls_total{outcome="ok",tool="echo"} 1`)
	assert.Contains(t, body, `mcpecho_tool_calls_total{outcome="error",tool="echo"} 1`)
	assert.Contains(t, body, `mcpecho_tool_duration_seconds_count{tool="echo"} 2`)
}

func gatheredNames(t *testing.T, m *observability.Metrics) []string {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	return names
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}
