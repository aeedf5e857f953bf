package mcp_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mcpadapter "github.com/aretw0/mcpecho/pkg/adapters/mcp"
	"github.com/aretw0/mcpecho/pkg/adapters/memory"
	"github.com/aretw0/mcpecho/pkg/session"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type toolLog struct {
	mu    sync.Mutex
	calls map[string]int
	fails int
}

func (l *toolLog) ToolCall(tool string, failed bool, _ time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[tool]++
	if failed {
		l.fails++
	}
}

func newServer(t *testing.T, opts ...mcpadapter.Option) (*mcpadapter.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(memory.NewStore())
	adapter := state.NewAdapter(reg)
	return mcpadapter.NewServer(reg, adapter, opts...), reg
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return tc.Text
}

func call(t *testing.T, s *mcpadapter.Server, client, tool string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := s.Call(context.Background(), client, tool, args)
	require.NoError(t, err)
	return res
}

func callJSON(t *testing.T, s *mcpadapter.Server, client, tool string, args map[string]any) map[string]any {
	t.Helper()
	res := call(t, s, client, tool, args)
	require.False(t, res.IsError, text(t, res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &out))
	return out
}

func TestServer_EchoAndReplay(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "No previous echo found", text(t, call(t, s, id, "replayLastEcho", nil)))

	assert.Equal(t, "Hello", text(t, call(t, s, id, "echo", map[string]any{"message": "Hello"})))
	assert.Equal(t, "Hello", text(t, call(t, s, id, "replayLastEcho", nil)))

	sess, err := reg.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Hello", sess.State[mcpadapter.KeyLastEcho])
	assert.Equal(t, []any{"Hello"}, sess.State[mcpadapter.KeyEchoHistory])
	assert.Equal(t, 3, sess.RequestCount)
}

func TestServer_EchoRequiresMessage(t *testing.T) {
	s, _ := newServer(t)
	res := call(t, s, "", "echo", map[string]any{})
	assert.True(t, res.IsError)

	res = call(t, s, "", "echo", map[string]any{"message": 42})
	assert.True(t, res.IsError, "non-string message must be rejected")
}

func TestServer_StateManipulator(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)

	out := callJSON(t, s, id, "stateManipulator", map[string]any{"action": "set", "key": "color", "value": "red"})
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "snapshot", out["scope"])

	out = callJSON(t, s, id, "stateManipulator", map[string]any{"action": "get", "key": "color"})
	assert.Equal(t, true, out["found"])
	assert.Equal(t, "red", out["value"])

	callJSON(t, s, id, "stateManipulator", map[string]any{"action": "set", "key": "colour", "value": "blue"})
	callJSON(t, s, id, "stateManipulator", map[string]any{"action": "set", "key": "size", "value": "xl"})

	out = callJSON(t, s, id, "stateManipulator", map[string]any{"action": "list", "pattern": "colo*"})
	assert.Equal(t, []any{"color", "colour"}, out["keys"])

	out = callJSON(t, s, id, "stateManipulator", map[string]any{"action": "delete", "key": "size"})
	assert.Equal(t, true, out["deleted"])
	out = callJSON(t, s, id, "stateManipulator", map[string]any{"action": "delete", "key": "size"})
	assert.Equal(t, false, out["deleted"])

	out = callJSON(t, s, id, "stateManipulator", map[string]any{"action": "clear"})
	assert.Equal(t, float64(2), out["cleared"])

	out = callJSON(t, s, id, "stateManipulator", map[string]any{"action": "get", "key": "color"})
	assert.Equal(t, false, out["found"])
}

func TestServer_StateManipulatorErrors(t *testing.T) {
	s, _ := newServer(t)

	assert.True(t, call(t, s, "", "stateManipulator", map[string]any{"action": "explode"}).IsError)
	assert.True(t, call(t, s, "", "stateManipulator", map[string]any{"action": "set"}).IsError)
	assert.True(t, call(t, s, "", "stateManipulator", map[string]any{"action": "list", "pattern": "bad\x07"}).IsError)
}

func TestServer_StateInspector(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)

	call(t, s, id, "echo", map[string]any{"message": "Hi"})
	callJSON(t, s, id, "stateManipulator", map[string]any{"action": "set", "key": "test", "value": "value"})

	out := callJSON(t, s, id, "stateInspector", map[string]any{"key_pattern": "*"})
	states := out["states"].(map[string]any)
	assert.Contains(t, states, mcpadapter.KeyLastEcho)
	assert.Contains(t, states, mcpadapter.KeyEchoHistory)
	assert.Equal(t, "value", states["test"])
	assert.Equal(t, float64(3), out["count"])
	assert.Positive(t, out["total_size"])

	out = callJSON(t, s, id, "stateInspector", map[string]any{"key_pattern": "last_*"})
	assert.Equal(t, float64(1), out["count"])

	assert.True(t, call(t, s, id, "stateInspector", map[string]any{"key_pattern": "\xff"}).IsError)
}

func TestServer_SessionsAreIsolated(t *testing.T) {
	s, reg := newServer(t)
	a, err := reg.Create(context.Background())
	require.NoError(t, err)
	b, err := reg.Create(context.Background())
	require.NoError(t, err)

	call(t, s, a, "echo", map[string]any{"message": "from A"})
	call(t, s, b, "echo", map[string]any{"message": "from B"})

	assert.Equal(t, "from A", text(t, call(t, s, a, "replayLastEcho", nil)))
	assert.Equal(t, "from B", text(t, call(t, s, b, "replayLastEcho", nil)))
}

func TestServer_StatelessMode(t *testing.T) {
	s, reg := newServer(t, mcpadapter.WithStatelessMode(true))

	assert.Equal(t, "Hello", text(t, call(t, s, "client-1", "echo", map[string]any{"message": "Hello"})))
	assert.Equal(t, "No previous echo found", text(t, call(t, s, "client-1", "replayLastEcho", nil)))

	out := callJSON(t, s, "client-1", "modeDetector", nil)
	assert.Equal(t, "stateless", out["mode"])
	assert.Equal(t, "request", out["scope"])
	assert.Equal(t, state.RequestNamespace, out["scope_prefix"])

	out = callJSON(t, s, "client-1", "stateInspector", nil)
	assert.Equal(t, float64(0), out["count"])

	assert.True(t, call(t, s, "client-1", "sessionHistory", nil).IsError)
	assert.Zero(t, reg.Len(context.Background()))
}

func TestServer_SessionTools(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Boundary().RecordInitialize(context.Background(), id, "2025-06-18", "test", "1.0.0"))

	call(t, s, id, "echo", map[string]any{"message": "Hello"})

	info := callJSON(t, s, id, "sessionInfo", nil)
	assert.Equal(t, id, info["session_id"])
	assert.Equal(t, "stateful", info["mode"])
	assert.Equal(t, true, info["initialized"])
	assert.Equal(t, float64(2), info["request_count"])
	assert.Equal(t, float64(1), info["active_sessions"])

	hist := callJSON(t, s, id, "sessionHistory", nil)
	assert.Equal(t, float64(3), hist["count"])
	entries := hist["history"].([]any)
	assert.Equal(t, "echo", entries[0].(map[string]any)["tool"])

	exp := callJSON(t, s, id, "sessionTransfer", map[string]any{"action": "export"})
	assert.Equal(t, id, exp["session_id"])
	assert.Equal(t, "Hello", exp["state"].(map[string]any)[mcpadapter.KeyLastEcho])

	assert.True(t, call(t, s, id, "sessionTransfer", map[string]any{"action": "import"}).IsError)

	mode := callJSON(t, s, id, "modeDetector", nil)
	assert.Equal(t, "stateful", mode["mode"])
	assert.Equal(t, "snapshot", mode["scope"])
	assert.Equal(t, "", mode["scope_prefix"])
	assert.Equal(t, id, mode["session_id"])
}

func TestServer_SessionTransferCopy(t *testing.T) {
	s, reg := newServer(t)
	ctx := context.Background()
	src, err := reg.Create(ctx)
	require.NoError(t, err)
	dst, err := reg.Create(ctx)
	require.NoError(t, err)

	call(t, s, src, "echo", map[string]any{"message": "Hello"})
	callJSON(t, s, dst, "stateManipulator", map[string]any{"action": "set", "key": "stale", "value": "x"})

	out := callJSON(t, s, src, "sessionTransfer", map[string]any{
		"action":            "copy",
		"target_session_id": dst,
		"replace":           true,
	})
	assert.Equal(t, float64(2), out["copied"])
	assert.Equal(t, float64(1), out["cleared"])

	sess, err := reg.Get(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, "Hello", sess.State[mcpadapter.KeyLastEcho])
	assert.NotContains(t, sess.State, "stale")

	assert.True(t, call(t, s, src, "sessionTransfer", map[string]any{"action": "copy"}).IsError)
	assert.True(t, call(t, s, src, "sessionTransfer", map[string]any{"action": "copy", "target_session_id": src}).IsError)
	assert.True(t, call(t, s, src, "sessionTransfer", map[string]any{"action": "copy", "target_session_id": "sess_nope"}).IsError)
	assert.False(t, reg.Exists(ctx, "sess_nope"))
}

func TestServer_StateBenchmark(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)

	out := callJSON(t, s, id, "stateBenchmark", map[string]any{"operations": float64(25)})
	assert.Equal(t, float64(25), out["operations"])
	assert.Equal(t, true, out["verified"])
	assert.Equal(t, "snapshot", out["scope"])

	sess, err := reg.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, sess.State, "benchmark keys are cleaned up")

	out = callJSON(t, s, id, "stateBenchmark", nil)
	assert.Equal(t, float64(10), out["operations"])

	assert.True(t, call(t, s, id, "stateBenchmark", map[string]any{"operations": float64(5000)}).IsError)
}

func TestServer_StateValidator(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)
	call(t, s, id, "echo", map[string]any{"message": "Hello"})

	out := callJSON(t, s, id, "stateValidator", nil)
	assert.Equal(t, true, out["valid"], out)
	assert.Equal(t, float64(2), out["keys"])
	assert.Equal(t, id, out["session_id"])

	stateless, _ := newServer(t, mcpadapter.WithStatelessMode(true))
	out = callJSON(t, stateless, "", "stateValidator", nil)
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "stateless", out["mode"])
}

func TestServer_SessionLifecycle(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)

	out := callJSON(t, s, id, "sessionLifecycle", nil)
	assert.Equal(t, "uninitialized", out["phase"])
	assert.Len(t, out["events"], 1)

	require.NoError(t, s.Boundary().RecordInitialize(context.Background(), id, "2025-06-18", "test", "1.0.0"))
	out = callJSON(t, s, id, "sessionLifecycle", nil)
	assert.Equal(t, "initialized", out["phase"])
	assert.Equal(t, float64(2), out["request_count"])
	events := out["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, "initialized", events[1].(map[string]any)["event"])

	stateless, _ := newServer(t, mcpadapter.WithStatelessMode(true))
	assert.True(t, call(t, stateless, "", "sessionLifecycle", nil).IsError)
}

func TestServer_SessionCompare(t *testing.T) {
	s, reg := newServer(t)
	ctx := context.Background()
	a, err := reg.Create(ctx)
	require.NoError(t, err)
	b, err := reg.Create(ctx)
	require.NoError(t, err)
	c, err := reg.Create(ctx)
	require.NoError(t, err)

	call(t, s, a, "echo", map[string]any{"message": "same"})
	call(t, s, b, "echo", map[string]any{"message": "same"})
	call(t, s, c, "echo", map[string]any{"message": "different"})

	out := callJSON(t, s, a, "sessionCompare", map[string]any{"session_id": b})
	assert.Equal(t, "same", out["value"])
	compared := out["compared"].([]any)
	require.Len(t, compared, 1)
	assert.Equal(t, true, compared[0].(map[string]any)["same"])

	out = callJSON(t, s, a, "sessionCompare", nil)
	assert.Equal(t, float64(2), out["count"])
	same := map[string]bool{}
	for _, raw := range out["compared"].([]any) {
		entry := raw.(map[string]any)
		same[entry["session_id"].(string)] = entry["same"].(bool)
	}
	assert.Equal(t, map[string]bool{b: true, c: false}, same)

	out = callJSON(t, s, a, "sessionCompare", map[string]any{"key": "absent"})
	assert.Equal(t, false, out["found"])

	assert.True(t, call(t, s, a, "sessionCompare", map[string]any{"session_id": "sess_nope"}).IsError)
	assert.False(t, reg.Exists(ctx, "sess_nope"))
}

func TestServer_RequestTracer(t *testing.T) {
	s, reg := newServer(t)
	id, err := reg.Create(context.Background())
	require.NoError(t, err)
	call(t, s, id, "echo", map[string]any{"message": "Hello"})

	out := callJSON(t, s, id, "requestTracer", nil)
	assert.NotEmpty(t, out["request_id"])
	assert.Equal(t, id, out["session_id"])
	assert.Equal(t, "requestTracer", out["tool"])
	assert.Equal(t, float64(2), out["request_number"])
	recent := out["recent_requests"].([]any)
	require.Len(t, recent, 1)
	assert.Equal(t, "echo", recent[0].(map[string]any)["tool"])
}

func TestServer_HealthProbeAndRecorder(t *testing.T) {
	rec := &toolLog{}
	s, _ := newServer(t, mcpadapter.WithToolRecorder(rec), mcpadapter.WithVersion("1.2.3"))

	out := callJSON(t, s, "", "healthProbe", nil)
	assert.Equal(t, "healthy", out["status"])
	assert.Equal(t, "1.2.3", out["version"])
	assert.Equal(t, float64(1), out["sessions"])

	call(t, s, "", "echo", map[string]any{})
	assert.Equal(t, 1, rec.calls["healthProbe"])
	assert.Equal(t, 1, rec.fails)
}

func TestServer_UnknownTool(t *testing.T) {
	s, _ := newServer(t)
	_, err := s.Call(context.Background(), "", "nope", nil)
	assert.Error(t, err)
}
