package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mitchellh/mapstructure"
)

// State keys written by the echo tools.
const (
	KeyLastEcho    = "last_echo"
	KeyEchoHistory = "echo_history"
)

// maxEchoHistory caps the echo_history list.
const maxEchoHistory = 10

type echoArgs struct {
	Message string `mapstructure:"message"`
}

type manipulatorArgs struct {
	Action  string `mapstructure:"action"`
	Key     string `mapstructure:"key"`
	Value   any    `mapstructure:"value"`
	Pattern string `mapstructure:"pattern"`
}

type inspectorArgs struct {
	KeyPattern string `mapstructure:"key_pattern"`
}

type transferArgs struct {
	Action          string `mapstructure:"action"`
	TargetSessionID string `mapstructure:"target_session_id"`
	Replace         bool   `mapstructure:"replace"`
}

func decodeArgs(request mcp.CallToolRequest, out any) error {
	if err := mapstructure.Decode(request.GetArguments(), out); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	// Echo
	s.addTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo a message back and remember it in the session."),
		mcp.WithString("message", mcp.Required(), mcp.Description("Message to echo")),
	), s.handleEcho)

	s.addTool(mcp.NewTool("replayLastEcho",
		mcp.WithDescription("Replay the last message echoed in this session."),
	), s.handleReplayLastEcho)

	// State
	s.addTool(mcp.NewTool("stateManipulator",
		mcp.WithDescription("Set, get, delete, clear or list session state."),
		mcp.WithString("action", mcp.Required(),
			mcp.Description("One of set, get, delete, clear, list"),
			mcp.Enum("set", "get", "delete", "clear", "list"),
		),
		mcp.WithString("key", mcp.Description("State key (set, get, delete)")),
		mcp.WithString("value", mcp.Description("Value to store (set)")),
		mcp.WithString("pattern", mcp.Description("Glob pattern for list, '*' matches any run of characters")),
	), s.handleStateManipulator)

	s.addTool(mcp.NewTool("stateInspector",
		mcp.WithDescription("Show session state entries whose keys match a pattern."),
		mcp.WithString("key_pattern", mcp.Description("Glob pattern, defaults to '*'")),
	), s.handleStateInspector)

	// Session
	s.addTool(mcp.NewTool("sessionInfo",
		mcp.WithDescription("Describe the current session."),
	), s.handleSessionInfo)

	s.addTool(mcp.NewTool("sessionHistory",
		mcp.WithDescription("List the requests recorded for the current session."),
	), s.handleSessionHistory)

	s.addTool(mcp.NewTool("sessionTransfer",
		mcp.WithDescription("Export the current session's state or copy it into another session."),
		mcp.WithString("action", mcp.Required(), mcp.Description("export or copy"), mcp.Enum("export", "copy")),
		mcp.WithString("target_session_id", mcp.Description("Destination session (copy)")),
		mcp.WithBoolean("replace", mcp.Description("Clear the destination before copying (copy)")),
	), s.handleSessionTransfer)

	s.registerDiagnostics()

	// System
	s.addTool(mcp.NewTool("modeDetector",
		mcp.WithDescription("Report whether the server runs stateful or stateless and which scope state uses."),
	), s.handleModeDetector)

	s.addTool(mcp.NewTool("healthProbe",
		mcp.WithDescription("Report server health."),
	), s.handleHealthProbe)
}

func (s *Server) mode() string {
	if s.stateless {
		return "stateless"
	}
	return "stateful"
}

func (s *Server) handleEcho(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args echoArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}

	if err := s.adapter.Set(ctx, KeyLastEcho, args.Message); err != nil {
		return nil, fmt.Errorf("failed to store echo: %w", err)
	}

	history, _ := s.adapter.Get(ctx, KeyEchoHistory, []any{}).([]any)
	history = append(history, args.Message)
	if len(history) > maxEchoHistory {
		history = history[len(history)-maxEchoHistory:]
	}
	if err := s.adapter.Set(ctx, KeyEchoHistory, history); err != nil {
		return nil, fmt.Errorf("failed to store echo history: %w", err)
	}

	return mcp.NewToolResultText(args.Message), nil
}

func (s *Server) handleReplayLastEcho(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	last, ok := s.adapter.Get(ctx, KeyLastEcho, nil).(string)
	if !ok {
		return mcp.NewToolResultText("No previous echo found"), nil
	}
	return mcp.NewToolResultText(last), nil
}

// absent distinguishes a missing key from a stored nil.
type absent struct{}

func (s *Server) handleStateManipulator(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args manipulatorArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	needsKey := args.Action == "set" || args.Action == "get" || args.Action == "delete"
	if needsKey && args.Key == "" {
		return mcp.NewToolResultError(fmt.Sprintf("key is required for %s", args.Action)), nil
	}

	out := map[string]any{
		"success": true,
		"action":  args.Action,
		"mode":    s.mode(),
		"scope":   s.adapter.ScopeName(ctx),
	}

	switch args.Action {
	case "set":
		if err := s.adapter.Set(ctx, args.Key, args.Value); err != nil {
			return nil, err
		}
		out["key"] = args.Key
		out["value"] = args.Value
	case "get":
		v := s.adapter.Get(ctx, args.Key, absent{})
		_, missing := v.(absent)
		out["key"] = args.Key
		out["found"] = !missing
		if !missing {
			out["value"] = v
		}
	case "delete":
		deleted, err := s.adapter.Delete(ctx, args.Key)
		if err != nil {
			return nil, err
		}
		out["key"] = args.Key
		out["deleted"] = deleted
	case "clear":
		n, err := s.adapter.Clear(ctx, "")
		if err != nil {
			return nil, err
		}
		out["cleared"] = n
	case "list":
		keys, err := s.adapter.ListKeys(ctx, args.Pattern)
		if errors.Is(err, domain.ErrInvalidPattern) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err != nil {
			return nil, err
		}
		out["keys"] = keys
		out["count"] = len(keys)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", args.Action)), nil
	}

	return jsonResult(out)
}

func (s *Server) handleStateInspector(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args inspectorArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.KeyPattern == "" {
		args.KeyPattern = "*"
	}

	keys, err := s.adapter.ListKeys(ctx, args.KeyPattern)
	if errors.Is(err, domain.ErrInvalidPattern) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	states := make(map[string]any, len(keys))
	totalSize := 0
	for _, k := range keys {
		v := s.adapter.Get(ctx, k, nil)
		states[k] = v
		if b, err := json.Marshal(v); err == nil {
			totalSize += len(b)
		}
	}

	return jsonResult(map[string]any{
		"pattern":    args.KeyPattern,
		"mode":       s.mode(),
		"scope":      s.adapter.ScopeName(ctx),
		"states":     states,
		"count":      len(keys),
		"total_size": totalSize,
	})
}

// currentSession returns the snapshot attached by the boundary, if any.
func currentSession(ctx context.Context) (*domain.Session, bool) {
	req, ok := state.FromContext(ctx)
	if !ok || !req.HasSnapshot() {
		return nil, false
	}
	return req.Snapshot(), true
}

func (s *Server) handleSessionInfo(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := currentSession(ctx)
	if !ok {
		return jsonResult(map[string]any{
			"mode":       s.mode(),
			"session_id": nil,
			"message":    "No session state is kept in stateless mode",
		})
	}

	now := time.Now()
	return jsonResult(map[string]any{
		"mode":             s.mode(),
		"session_id":       sess.ID,
		"created_at":       sess.CreatedAt,
		"last_activity":    sess.LastActivity,
		"age_seconds":      sess.Age(now).Seconds(),
		"request_count":    sess.RequestCount,
		"initialized":      sess.Initialized,
		"protocol_version": sess.ProtocolVersion,
		"client_info":      sess.ClientInfo,
		"state_keys":       len(sess.State),
		"active_sessions":  s.registry.Len(ctx),
	})
}

func (s *Server) handleSessionHistory(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := currentSession(ctx)
	if !ok {
		return mcp.NewToolResultError("session history is not available in stateless mode"), nil
	}

	history, _ := sess.Metadata[domain.MetaHistory].([]domain.HistoryEntry)
	lifecycle, _ := sess.Metadata[domain.MetaLifecycle].([]domain.LifecycleEvent)
	return jsonResult(map[string]any{
		"session_id": sess.ID,
		"count":      len(history),
		"history":    history,
		"lifecycle":  lifecycle,
	})
}

func (s *Server) handleSessionTransfer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args transferArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Action != "export" && args.Action != "copy" {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported action %q, use export or copy", args.Action)), nil
	}

	sess, ok := currentSession(ctx)
	if !ok {
		return mcp.NewToolResultError("nothing to transfer in stateless mode"), nil
	}

	if args.Action == "copy" {
		return s.copySession(ctx, sess, args)
	}

	return jsonResult(map[string]any{
		"session_id":  sess.ID,
		"exported_at": time.Now(),
		"state":       sess.State,
		"metadata": map[string]any{
			"created_at":       sess.CreatedAt,
			"request_count":    sess.RequestCount,
			"protocol_version": sess.ProtocolVersion,
			"client_info":      sess.ClientInfo,
		},
	})
}

// copySession writes every key of the current session into the target one.
func (s *Server) copySession(ctx context.Context, sess *domain.Session, args transferArgs) (*mcp.CallToolResult, error) {
	target := args.TargetSessionID
	switch {
	case target == "":
		return mcp.NewToolResultError("target_session_id is required for copy"), nil
	case target == sess.ID:
		return mcp.NewToolResultError("cannot copy a session onto itself"), nil
	case !s.registry.Exists(ctx, target):
		return mcp.NewToolResultError(fmt.Sprintf("session %s not found", target)), nil
	}

	cleared := 0
	if args.Replace {
		n, err := s.adapter.Clear(ctx, target)
		if err != nil {
			return nil, err
		}
		cleared = n
	}

	keys, err := s.adapter.ListKeys(ctx, "*")
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		err := s.adapter.SetForSession(ctx, target, k, s.adapter.Get(ctx, k, nil))
		if errors.Is(err, domain.ErrSessionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("session %s not found", target)), nil
		}
		if err != nil {
			return nil, err
		}
	}

	return jsonResult(map[string]any{
		"session_id":        sess.ID,
		"target_session_id": target,
		"copied":            len(keys),
		"cleared":           cleared,
		"keys":              keys,
	})
}

func (s *Server) handleModeDetector(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out := map[string]any{
		"mode":         s.mode(),
		"scope":        s.adapter.ScopeName(ctx),
		"scope_prefix": s.adapter.ScopePrefix(ctx),
	}
	if req, ok := state.FromContext(ctx); ok {
		out["session_id"] = req.SessionID()
	}
	return jsonResult(out)
}

func (s *Server) handleHealthProbe(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{
		"status":         "healthy",
		"server":         ServerName,
		"version":        s.version,
		"mode":           s.mode(),
		"uptime_seconds": time.Since(s.started).Seconds(),
		"sessions":       s.registry.Len(ctx),
		"bindings":       s.boundary.Bindings(),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
	})
}
