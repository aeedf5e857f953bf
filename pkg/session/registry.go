package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/aretw0/mcpecho/pkg/domain"
	"github.com/aretw0/mcpecho/pkg/ports"
	"github.com/google/uuid"
)

// IDPrefix is prepended to every minted session ID.
const IDPrefix = "sess_"

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Observer is notified about registry lifecycle changes.
type Observer interface {
	SessionCreated(id string)
	SessionRemoved(id string)
}

// Registry is the authority over which sessions exist and their canonical records.
// It uses Reference Counting to garbage collect unused per-session locks.
type Registry struct {
	store ports.SessionStore

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	observers []Observer
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures the Registry.
type Option func(*Registry)

// WithLogger configures a logger for the Registry.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithObserver registers a lifecycle observer (e.g. metrics).
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		r.observers = append(r.observers, o)
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithIDGenerator overrides how session IDs are minted.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(store ports.SessionStore, opts ...Option) *Registry {
	r := &Registry{
		store:  store,
		locks:  make(map[string]*lockEntry),
		logger: logging.NewNop(), // Default to no-op
		now:    time.Now,
		newID:  func() string { return IDPrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observe registers an additional lifecycle observer after construction.
// Observers are called without any registry lock held.
func (r *Registry) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

func (r *Registry) observerList() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.observers)
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (r *Registry) acquire(sessionID string) *lockEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		r.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (r *Registry) release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(r.locks, sessionID)
	}
}

// withLock executes fn while holding the lock for the session.
func (r *Registry) withLock(sessionID string, fn func() error) error {
	entry := r.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		r.release(sessionID)
	}()
	return fn()
}

// Create mints a new session with empty state and returns its ID.
// The record is visible to Get as soon as Create returns.
func (r *Registry) Create(ctx context.Context) (string, error) {
	id := r.newID()
	now := r.now()

	sess := domain.NewSession(id, now)
	sess.Metadata[domain.MetaLifecycle] = []domain.LifecycleEvent{{Event: "created", At: now}}

	err := r.withLock(id, func() error {
		return r.store.Save(ctx, id, sess)
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	r.logger.Debug("Session created", "session_id", id)
	for _, o := range r.observerList() {
		o.SessionCreated(id)
	}
	return id, nil
}

// Get returns a snapshot of the session record.
// An unknown ID yields domain.ErrSessionNotFound; no record is created.
func (r *Registry) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, domain.ErrSessionNotFound
	}
	return r.store.Load(ctx, sessionID)
}

// Exists reports whether the session is known to the registry.
func (r *Registry) Exists(ctx context.Context, sessionID string) bool {
	_, err := r.Get(ctx, sessionID)
	return err == nil
}

// Remove deletes the session. Removing an unknown ID reports false, not an error.
func (r *Registry) Remove(ctx context.Context, sessionID string) (bool, error) {
	if sessionID == "" {
		return false, nil
	}

	var removed bool
	err := r.withLock(sessionID, func() error {
		err := r.store.Delete(ctx, sessionID)
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		removed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove session %s: %w", sessionID, err)
	}

	if removed {
		r.logger.Debug("Session removed", "session_id", sessionID)
		for _, o := range r.observerList() {
			o.SessionRemoved(sessionID)
		}
	}
	return removed, nil
}

// Touch updates the last-activity timestamp and increments the request counter.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	_, err := r.Update(ctx, sessionID, func(s *domain.Session) error {
		s.LastActivity = r.now()
		s.RequestCount++
		return nil
	})
	return err
}

// Update opens the session for mutation, applies fn and commits the result.
// It returns the committed record. If fn fails nothing is written.
func (r *Registry) Update(ctx context.Context, sessionID string, fn func(*domain.Session) error) (*domain.Session, error) {
	var committed *domain.Session
	err := r.withLock(sessionID, func() error {
		sess, err := r.store.Load(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.State == nil {
			sess.State = make(map[string]any)
		}
		if sess.Metadata == nil {
			sess.Metadata = make(map[string]any)
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := r.store.Save(ctx, sessionID, sess); err != nil {
			return fmt.Errorf("failed to commit session %s: %w", sessionID, err)
		}
		committed = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// List returns snapshots of every session.
// Sessions removed while listing are skipped.
func (r *Registry) List(ctx context.Context) ([]*domain.Session, error) {
	ids, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	out := make([]*domain.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := r.store.Load(ctx, id)
		if errors.Is(err, domain.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load session %s: %w", id, err)
		}
		out = append(out, sess)
	}
	return out, nil
}

// Stats summarises the registry.
func (r *Registry) Stats(ctx context.Context) (domain.Stats, error) {
	sessions, err := r.List(ctx)
	if err != nil {
		return domain.Stats{}, err
	}

	now := r.now()
	stats := domain.Stats{Count: len(sessions)}
	for i, s := range sessions {
		age := s.Age(now)
		if i == 0 || age > stats.OldestAge {
			stats.OldestAge = age
		}
		if i == 0 || age < stats.NewestAge {
			stats.NewestAge = age
		}
		stats.TotalRequests += s.RequestCount
		if s.Initialized {
			stats.Initialized++
		}
	}
	return stats, nil
}

// Len returns the number of sessions.
func (r *Registry) Len(ctx context.Context) int {
	ids, err := r.store.List(ctx)
	if err != nil {
		r.logger.Warn("Failed to count sessions", "err", err)
		return 0
	}
	return len(ids)
}
