package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/session"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/mark3labs/mcp-go/server"
	"github.com/oklog/ulid/v2"
)

// MaxHistory caps the per-session request history.
const MaxHistory = 50

// maxClientIDLength bounds session ids accepted from clients.
const maxClientIDLength = 128

type requestIDKey struct{}

// RequestIDFromContext returns the id Begin assigned to the request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

var _ session.Observer = (*Boundary)(nil)

// Boundary runs at the start of every request. It resolves the caller's
// session in the registry (never trusting the client-supplied id), touches it
// and attaches a snapshot to the request context for the state adapter.
type Boundary struct {
	registry  *session.Registry
	stateless bool
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex
	// bindings maps client ids the registry did not recognise to the id
	// minted for them.
	bindings map[string]string
}

// BoundaryOption configures the Boundary.
type BoundaryOption func(*Boundary)

// WithStateless switches the boundary to stateless mode.
func WithStateless(stateless bool) BoundaryOption {
	return func(b *Boundary) {
		b.stateless = stateless
	}
}

// WithBoundaryLogger configures a logger for the Boundary.
func WithBoundaryLogger(logger *slog.Logger) BoundaryOption {
	return func(b *Boundary) {
		b.logger = logger
	}
}

// NewBoundary creates a Boundary over the registry and subscribes it to
// session removals so bindings never outlive their session.
func NewBoundary(registry *session.Registry, opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		registry: registry,
		logger:   logging.NewNop(),
		now:      time.Now,
		bindings: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	registry.Observe(b)
	return b
}

// SessionCreated implements session.Observer.
func (b *Boundary) SessionCreated(string) {}

// SessionRemoved drops every binding that points at the removed session.
func (b *Boundary) SessionRemoved(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for clientID, bound := range b.bindings {
		if bound == id {
			delete(b.bindings, clientID)
		}
	}
}

// Stateless reports the server-wide mode.
func (b *Boundary) Stateless() bool {
	return b.stateless
}

// Begin prepares the request context for a tool call.
func (b *Boundary) Begin(ctx context.Context, clientSessionID, tool string) (context.Context, error) {
	requestID := ulid.Make().String()
	ctx = context.WithValue(ctx, requestIDKey{}, requestID)

	if b.stateless {
		req := state.NewRequest(state.Stateless(), state.WithSessionID(clientSessionID))
		return state.NewContext(ctx, req), nil
	}

	entry := domain.HistoryEntry{RequestID: requestID, Tool: tool}

	snap, err := b.enter(ctx, clientSessionID, entry)
	if errors.Is(err, domain.ErrSessionNotFound) {
		// Removed between resolution and touch; start over with a fresh session.
		b.unbind(clientSessionID)
		snap, err = b.enter(ctx, clientSessionID, entry)
	}
	if err != nil {
		return ctx, fmt.Errorf("failed to begin request: %w", err)
	}

	b.logger.Debug("Request bound to session",
		"session_id", snap.ID,
		"request_id", requestID,
		"tool", tool,
	)

	req := state.NewRequest(state.WithSessionID(snap.ID), state.WithSnapshot(snap))
	return state.NewContext(ctx, req), nil
}

// enter resolves the session, touches it and appends the history entry.
func (b *Boundary) enter(ctx context.Context, clientSessionID string, entry domain.HistoryEntry) (*domain.Session, error) {
	id, err := b.Resolve(ctx, clientSessionID)
	if err != nil {
		return nil, err
	}
	if err := b.registry.Touch(ctx, id); err != nil {
		return nil, err
	}
	return b.registry.Update(ctx, id, func(s *domain.Session) error {
		entry.At = b.now()
		s.Metadata[domain.MetaHistory] = appendHistory(s.Metadata[domain.MetaHistory], entry)
		return nil
	})
}

func appendHistory(v any, entry domain.HistoryEntry) []domain.HistoryEntry {
	history, _ := v.([]domain.HistoryEntry)
	history = append(history, entry)
	if len(history) > MaxHistory {
		history = history[len(history)-MaxHistory:]
	}
	return history
}

// Resolve maps a client-supplied session id to a registry id. Known ids are
// used as-is; unknown or empty ids get a freshly minted session, and an
// unknown id is bound to it so later requests land in the same session.
func (b *Boundary) Resolve(ctx context.Context, clientSessionID string) (string, error) {
	if clientSessionID != "" && b.registry.Exists(ctx, clientSessionID) {
		return clientSessionID, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if bound, ok := b.bindings[clientSessionID]; ok && clientSessionID != "" {
		if b.registry.Exists(ctx, bound) {
			return bound, nil
		}
		delete(b.bindings, clientSessionID)
	}

	id, err := b.registry.Create(ctx)
	if err != nil {
		return "", err
	}
	if clientSessionID != "" {
		b.bindings[clientSessionID] = id
		b.logger.Info("Unknown client session bound to new session",
			"client_session_id", clientSessionID,
			"session_id", id,
		)
	}
	return id, nil
}

func (b *Boundary) unbind(clientSessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bindings, clientSessionID)
}

// Bindings returns the number of client ids currently bound to minted ids.
func (b *Boundary) Bindings() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bindings)
}

// RecordInitialize stores handshake details on the caller's session.
// It is a no-op in stateless mode or when the transport carries no session.
func (b *Boundary) RecordInitialize(ctx context.Context, clientSessionID, protocolVersion, clientName, clientVersion string) error {
	if b.stateless {
		return nil
	}
	if clientSessionID == "" {
		b.logger.Debug("Initialize without transport session, nothing to record")
		return nil
	}

	id, err := b.Resolve(ctx, clientSessionID)
	if err != nil {
		return err
	}

	_, err = b.registry.Update(ctx, id, func(s *domain.Session) error {
		now := b.now()
		s.Initialized = true
		s.ProtocolVersion = protocolVersion
		s.ClientInfo = &domain.ClientInfo{Name: clientName, Version: clientVersion}
		events, _ := s.Metadata[domain.MetaLifecycle].([]domain.LifecycleEvent)
		s.Metadata[domain.MetaLifecycle] = append(events, domain.LifecycleEvent{Event: "initialized", At: now})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record initialize for %s: %w", id, err)
	}

	b.logger.Info("Session initialized",
		"session_id", id,
		"protocol_version", protocolVersion,
		"client", clientName,
	)
	return nil
}

// SessionIDManager returns an mcp-go session id manager backed by the
// registry, so streamable HTTP session ids are registry ids.
func (b *Boundary) SessionIDManager() server.SessionIdManager {
	return &sessionIDManager{b: b}
}

type sessionIDManager struct {
	b *Boundary
}

func (m *sessionIDManager) Generate() string {
	id, err := m.b.registry.Create(context.Background())
	if err != nil {
		m.b.logger.Error("Failed to create session", "err", err)
		return ""
	}
	return id
}

// Validate accepts unknown but well-formed ids; Begin binds them to a new
// session instead of rejecting the request.
func (m *sessionIDManager) Validate(sessionID string) (isTerminated bool, err error) {
	if err := checkClientID(sessionID); err != nil {
		return false, err
	}
	if !m.b.registry.Exists(context.Background(), sessionID) {
		m.b.logger.Debug("Unrecognised session id", "client_session_id", sessionID)
	}
	return false, nil
}

func (m *sessionIDManager) Terminate(sessionID string) (isNotAllowed bool, err error) {
	ctx := context.Background()
	target := sessionID

	m.b.mu.Lock()
	if bound, ok := m.b.bindings[sessionID]; ok {
		target = bound
		delete(m.b.bindings, sessionID)
	}
	m.b.mu.Unlock()

	if _, err := m.b.registry.Remove(ctx, target); err != nil {
		return false, err
	}
	m.b.logger.Info("Session terminated by client", "session_id", target)
	return false, nil
}

func checkClientID(id string) error {
	if id == "" || len(id) > maxClientIDLength {
		return fmt.Errorf("invalid session id length %d", len(id))
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return errors.New("invalid character in session id")
		}
	}
	return nil
}
