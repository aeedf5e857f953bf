package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	defaultBenchmarkOps = 10
	maxBenchmarkOps     = 1000

	// maxCompared bounds how many sessions sessionCompare reports.
	maxCompared = 20

	// tracedHistory is how many earlier requests requestTracer includes.
	tracedHistory = 5

	benchmarkKeyPrefix = "benchmark:"
)

type benchmarkArgs struct {
	Operations int `mapstructure:"operations"`
}

type compareArgs struct {
	SessionID string `mapstructure:"session_id"`
	Key       string `mapstructure:"key"`
}

func (s *Server) registerDiagnostics() {
	s.addTool(mcp.NewTool("stateBenchmark",
		mcp.WithDescription("Time set, get and delete round trips through the state adapter."),
		mcp.WithNumber("operations", mcp.Description("Number of keys to write, read and delete (1-1000, default 10)")),
	), s.handleStateBenchmark)

	s.addTool(mcp.NewTool("stateValidator",
		mcp.WithDescription("Check that the request snapshot agrees with the registry record."),
	), s.handleStateValidator)

	s.addTool(mcp.NewTool("sessionLifecycle",
		mcp.WithDescription("Show lifecycle events and timing of the current session."),
	), s.handleSessionLifecycle)

	s.addTool(mcp.NewTool("sessionCompare",
		mcp.WithDescription("Compare one state key between the current session and others."),
		mcp.WithString("session_id", mcp.Description("Session to compare with; all other sessions when empty")),
		mcp.WithString("key", mcp.Description("State key to compare, defaults to last_echo")),
	), s.handleSessionCompare)

	s.addTool(mcp.NewTool("requestTracer",
		mcp.WithDescription("Trace how the current request was bound to a session and storage scope."),
	), s.handleRequestTracer)
}

func (s *Server) handleStateBenchmark(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args benchmarkArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Operations == 0 {
		args.Operations = defaultBenchmarkOps
	}
	if args.Operations < 1 || args.Operations > maxBenchmarkOps {
		return mcp.NewToolResultError(fmt.Sprintf("operations must be between 1 and %d", maxBenchmarkOps)), nil
	}

	key := func(i int) string { return fmt.Sprintf("%s%d", benchmarkKeyPrefix, i) }

	start := time.Now()
	for i := 0; i < args.Operations; i++ {
		if err := s.adapter.Set(ctx, key(i), i); err != nil {
			return nil, fmt.Errorf("benchmark set: %w", err)
		}
	}
	setElapsed := time.Since(start)

	start = time.Now()
	mismatches := 0
	for i := 0; i < args.Operations; i++ {
		if v := s.adapter.Get(ctx, key(i), nil); v != i {
			mismatches++
		}
	}
	getElapsed := time.Since(start)

	start = time.Now()
	for i := 0; i < args.Operations; i++ {
		if _, err := s.adapter.Delete(ctx, key(i)); err != nil {
			return nil, fmt.Errorf("benchmark delete: %w", err)
		}
	}
	deleteElapsed := time.Since(start)

	total := setElapsed + getElapsed + deleteElapsed
	opsPerSecond := 0.0
	if total > 0 {
		opsPerSecond = float64(3*args.Operations) / total.Seconds()
	}

	return jsonResult(map[string]any{
		"operations":      args.Operations,
		"mode":            s.mode(),
		"scope":           s.adapter.ScopeName(ctx),
		"set_seconds":     setElapsed.Seconds(),
		"get_seconds":     getElapsed.Seconds(),
		"delete_seconds":  deleteElapsed.Seconds(),
		"total_seconds":   total.Seconds(),
		"ops_per_second":  opsPerSecond,
		"verified":        mismatches == 0,
		"read_mismatches": mismatches,
	})
}

func (s *Server) handleStateValidator(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := s.adapter.ListKeys(ctx, "*")
	if err != nil {
		return nil, err
	}

	var unserializable []string
	for _, k := range keys {
		if _, err := json.Marshal(s.adapter.Get(ctx, k, nil)); err != nil {
			unserializable = append(unserializable, k)
		}
	}

	out := map[string]any{
		"mode":           s.mode(),
		"scope":          s.adapter.ScopeName(ctx),
		"keys":           len(keys),
		"unserializable": unserializable,
	}

	snap, ok := currentSession(ctx)
	if !ok {
		out["valid"] = len(unserializable) == 0
		out["message"] = "No session record to compare against in stateless mode"
		return jsonResult(out)
	}

	record, err := s.registry.Get(ctx, snap.ID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		out["session_id"] = snap.ID
		out["valid"] = false
		out["issues"] = []string{"session is no longer in the registry"}
		return jsonResult(out)
	}
	if err != nil {
		return nil, err
	}

	var missingInRegistry, missingInSnapshot, mismatched []string
	for _, k := range keys {
		rv, found := record.State[k]
		switch {
		case !found:
			missingInRegistry = append(missingInRegistry, k)
		case !reflect.DeepEqual(rv, s.adapter.Get(ctx, k, nil)):
			mismatched = append(mismatched, k)
		}
	}
	for k := range record.State {
		if !slices.Contains(keys, k) {
			missingInSnapshot = append(missingInSnapshot, k)
		}
	}
	slices.Sort(missingInSnapshot)

	var issues []string
	if record.RequestCount < 1 {
		issues = append(issues, "request count not recorded")
	}
	if record.LastActivity.Before(record.CreatedAt) {
		issues = append(issues, "last activity precedes creation")
	}

	out["session_id"] = snap.ID
	out["missing_in_registry"] = missingInRegistry
	out["missing_in_snapshot"] = missingInSnapshot
	out["mismatched"] = mismatched
	out["issues"] = issues
	out["valid"] = len(unserializable) == 0 && len(missingInRegistry) == 0 &&
		len(missingInSnapshot) == 0 && len(mismatched) == 0 && len(issues) == 0
	return jsonResult(out)
}

func (s *Server) handleSessionLifecycle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, ok := currentSession(ctx)
	if !ok {
		return mcp.NewToolResultError("session lifecycle is not available in stateless mode"), nil
	}

	phase := "uninitialized"
	if sess.Initialized {
		phase = "initialized"
	}

	now := time.Now()
	events, _ := sess.Metadata[domain.MetaLifecycle].([]domain.LifecycleEvent)
	return jsonResult(map[string]any{
		"session_id":    sess.ID,
		"phase":         phase,
		"created_at":    sess.CreatedAt,
		"last_activity": sess.LastActivity,
		"age_seconds":   sess.Age(now).Seconds(),
		"idle_seconds":  sess.Idle(now).Seconds(),
		"request_count": sess.RequestCount,
		"events":        events,
	})
}

type comparison struct {
	SessionID string `json:"session_id"`
	Found     bool   `json:"found"`
	Value     any    `json:"value,omitempty"`
	Same      bool   `json:"same"`
}

func (s *Server) handleSessionCompare(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args compareArgs
	if err := decodeArgs(request, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if args.Key == "" {
		args.Key = KeyLastEcho
	}

	sess, ok := currentSession(ctx)
	if !ok {
		return mcp.NewToolResultError("sessions cannot be compared in stateless mode"), nil
	}

	var targets []string
	if args.SessionID != "" {
		if !s.registry.Exists(ctx, args.SessionID) {
			return mcp.NewToolResultError(fmt.Sprintf("session %s not found", args.SessionID)), nil
		}
		targets = []string{args.SessionID}
	} else {
		all, err := s.registry.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, other := range all {
			if other.ID != sess.ID {
				targets = append(targets, other.ID)
			}
		}
		slices.Sort(targets)
	}
	truncated := len(targets) > maxCompared
	if truncated {
		targets = targets[:maxCompared]
	}

	current := s.adapter.Get(ctx, args.Key, absent{})
	_, currentMissing := current.(absent)

	compared := make([]comparison, 0, len(targets))
	for _, id := range targets {
		v := s.adapter.GetForSession(ctx, id, args.Key, absent{})
		c := comparison{SessionID: id}
		if _, missing := v.(absent); !missing {
			c.Found = true
			c.Value = v
			c.Same = !currentMissing && reflect.DeepEqual(current, v)
		}
		compared = append(compared, c)
	}

	out := map[string]any{
		"key":        args.Key,
		"session_id": sess.ID,
		"found":      !currentMissing,
		"compared":   compared,
		"count":      len(compared),
		"truncated":  truncated,
	}
	if !currentMissing {
		out["value"] = current
	}
	return jsonResult(out)
}

func (s *Server) handleRequestTracer(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	requestID := RequestIDFromContext(ctx)
	out := map[string]any{
		"request_id":   requestID,
		"mode":         s.mode(),
		"scope":        s.adapter.ScopeName(ctx),
		"scope_prefix": s.adapter.ScopePrefix(ctx),
	}

	if req, ok := state.FromContext(ctx); ok {
		out["session_id"] = req.SessionID()
	}

	sess, ok := currentSession(ctx)
	if !ok {
		out["trace"] = []string{"request id assigned", "stateless request scope attached"}
		return jsonResult(out)
	}

	trace := []string{"request id assigned", "session resolved", "session touched", "snapshot attached"}
	history, _ := sess.Metadata[domain.MetaHistory].([]domain.HistoryEntry)

	var recent []domain.HistoryEntry
	for i, h := range history {
		if h.RequestID == requestID {
			out["tool"] = h.Tool
			out["started_at"] = h.At
			start := max(0, i-tracedHistory)
			recent = history[start:i]
			break
		}
	}

	out["request_number"] = sess.RequestCount
	out["trace"] = trace
	out["recent_requests"] = recent
	return jsonResult(out)
}
