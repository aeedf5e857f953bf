package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/aretw0/mcpecho/pkg/domain"
)

// Registry is the subset of the session registry the adapter needs.
type Registry interface {
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Update(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error)
}

// Recorder receives state operation events (e.g. Prometheus counters).
type Recorder interface {
	StateOp(op, scope string)
	Fallback()
}

// Adapter is the key/value API used by request handlers. Each call decides
// between request-local and session scope from the request context.
type Adapter struct {
	registry Registry
	logger   *slog.Logger
	recorder Recorder
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger configures a logger for the Adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithRecorder attaches an operation recorder.
func WithRecorder(r Recorder) Option {
	return func(a *Adapter) {
		a.recorder = r
	}
}

// NewAdapter creates an Adapter over the given registry.
func NewAdapter(registry Registry, opts ...Option) *Adapter {
	a := &Adapter{
		registry: registry,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// request returns the request carried by ctx. Without one, operations run
// against a throwaway request so handlers outside a request still work.
func (a *Adapter) request(ctx context.Context) *Request {
	if req, ok := FromContext(ctx); ok {
		return req
	}
	a.logger.Warn("State accessed outside of a request, changes will be discarded")
	return NewRequest()
}

func (a *Adapter) resolve(req *Request) scope {
	chain := statefulChain
	if req.IsStateless() {
		chain = statelessChain
	}
	for _, try := range chain {
		if s, ok := try(a, req); ok {
			return s
		}
	}
	// Unreachable: both chains end in a strategy that always resolves.
	return &localScope{req: req, prefix: RequestNamespace, kind: ScopeRequest}
}

func (a *Adapter) record(op string, s scope) {
	if a.recorder != nil {
		a.recorder.StateOp(op, s.name())
	}
}

// Get returns the value stored under key, or def when absent.
func (a *Adapter) Get(ctx context.Context, key string, def any) any {
	s := a.resolve(a.request(ctx))
	a.record("get", s)
	if v, ok := s.get(ctx, key); ok {
		return v
	}
	return def
}

// Set stores value under key in the active scope.
// Only a failing registry commit is reported; missing sessions are recovered.
func (a *Adapter) Set(ctx context.Context, key string, value any) error {
	s := a.resolve(a.request(ctx))
	a.record("set", s)
	return s.set(ctx, key, value)
}

// Delete removes key and reports whether it was present.
func (a *Adapter) Delete(ctx context.Context, key string) (bool, error) {
	s := a.resolve(a.request(ctx))
	a.record("delete", s)
	return s.delete(ctx, key)
}

// ListKeys returns the sorted keys of the current session matching pattern.
// In stateless mode, or without a resolvable session, the result is empty.
// A malformed pattern yields domain.ErrInvalidPattern.
func (a *Adapter) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}

	req := a.request(ctx)
	if req.IsStateless() {
		a.logger.Debug("Key listing is not available in stateless mode")
		return []string{}, nil
	}

	s := a.resolve(req)
	a.record("list", s)
	keys := s.keys(ctx)
	if keys == nil {
		return []string{}, nil
	}
	return p.Filter(keys), nil
}

// Clear empties a session's state and returns the number of removed keys.
// An empty sessionID targets the current session.
func (a *Adapter) Clear(ctx context.Context, sessionID string) (int, error) {
	req := a.request(ctx)
	if req.IsStateless() {
		a.logger.Warn("Clear called in stateless mode")
		return 0, nil
	}

	if sessionID == "" {
		sessionID = req.SessionID()
	}
	if sessionID == "" {
		a.logger.Warn("No session available for clearing state", "err", domain.ErrMissingSessionContext)
		return 0, nil
	}

	var s scope
	if sessionID == req.SessionID() {
		s = a.resolve(req)
	} else {
		s = &registryScope{a: a, id: sessionID}
	}
	a.record("clear", s)

	n, err := s.clear(ctx)
	if errors.Is(err, domain.ErrSessionNotFound) {
		a.logger.Warn("Clear requested for unknown session", "session_id", sessionID)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear session %s: %w", sessionID, err)
	}
	return n, nil
}

// targetScope resolves the scope for an explicit session ID.
func (a *Adapter) targetScope(req *Request, sessionID string) scope {
	if sessionID == req.SessionID() {
		return a.resolve(req)
	}
	return &registryScope{a: a, id: sessionID}
}

// GetForSession reads key from the given session, returning def when the
// session or key does not exist.
func (a *Adapter) GetForSession(ctx context.Context, sessionID, key string, def any) any {
	req := a.request(ctx)
	if req.IsStateless() {
		a.logger.Warn("GetForSession called in stateless mode", "session_id", sessionID)
		return def
	}
	if sessionID == "" {
		return def
	}

	s := a.targetScope(req, sessionID)
	a.record("get", s)
	if v, ok := s.get(ctx, key); ok {
		return v
	}
	return def
}

// SetForSession writes key into the given session.
// It returns an error wrapping domain.ErrSessionNotFound for unknown sessions.
func (a *Adapter) SetForSession(ctx context.Context, sessionID, key string, value any) error {
	req := a.request(ctx)
	if req.IsStateless() {
		a.logger.Warn("SetForSession called in stateless mode", "session_id", sessionID)
		return nil
	}
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrSessionNotFound)
	}

	s := a.targetScope(req, sessionID)
	a.record("set", s)
	if err := s.set(ctx, key, value); err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		return err
	}
	return nil
}

// ScopePrefix reports the namespace the current request's operations use.
// Keys held in the session record itself carry no prefix, so the snapshot
// scope reports "".
func (a *Adapter) ScopePrefix(ctx context.Context) string {
	switch a.ScopeName(ctx) {
	case ScopeSnapshot:
		return ""
	case ScopeFallback:
		req, _ := FromContext(ctx)
		return FallbackPrefix(req.SessionID())
	default:
		return RequestNamespace
	}
}

// ScopeName reports which storage location the current request resolves to.
func (a *Adapter) ScopeName(ctx context.Context) string {
	req, ok := FromContext(ctx)
	if !ok || req.IsStateless() || req.SessionID() == "" {
		return ScopeRequest
	}
	if req.HasSnapshot() {
		return ScopeSnapshot
	}
	return ScopeFallback
}
