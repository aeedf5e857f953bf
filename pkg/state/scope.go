package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/mcpecho/pkg/domain"
)

// Scope names, reported to metrics and diagnostic tools.
const (
	ScopeRequest  = "request"
	ScopeSnapshot = "snapshot"
	ScopeFallback = "fallback"
	ScopeRegistry = "registry"
)

// RequestNamespace prefixes request-local keys.
const RequestNamespace = "request:"

// FallbackPrefix returns the request-local prefix used for a session whose
// snapshot is unavailable.
func FallbackPrefix(sessionID string) string {
	return "session:" + sessionID + ":"
}

// scope is one resolved storage location.
type scope interface {
	name() string
	get(ctx context.Context, key string) (any, bool)
	set(ctx context.Context, key string, value any) error
	delete(ctx context.Context, key string) (bool, error)
	// keys returns nil when the scope has no key universe to enumerate.
	keys(ctx context.Context) []string
	clear(ctx context.Context) (int, error)
}

// strategy tries to resolve a scope for the request. ok is false when the
// strategy does not apply and the next one should be tried.
type strategy func(a *Adapter, req *Request) (s scope, ok bool)

// statelessChain and statefulChain are tried in order; the last entry of each
// always resolves.
var (
	statelessChain = []strategy{requestStrategy}
	statefulChain  = []strategy{snapshotStrategy, fallbackStrategy, missingSessionStrategy}
)

func requestStrategy(a *Adapter, req *Request) (scope, bool) {
	return &localScope{req: req, prefix: RequestNamespace, kind: ScopeRequest}, true
}

func snapshotStrategy(a *Adapter, req *Request) (scope, bool) {
	if req.sessionID == "" || !req.HasSnapshot() {
		return nil, false
	}
	return &snapshotScope{a: a, req: req}, true
}

func fallbackStrategy(a *Adapter, req *Request) (scope, bool) {
	if req.sessionID == "" {
		return nil, false
	}

	req.mu.Lock()
	warn := !req.fallbackWarned
	req.fallbackWarned = true
	req.mu.Unlock()
	if warn {
		a.logger.Warn("No session snapshot in request, using non-durable fallback",
			"session_id", req.sessionID,
		)
	}
	if a.recorder != nil {
		a.recorder.Fallback()
	}

	return &localScope{
		req:        req,
		prefix:     FallbackPrefix(req.sessionID),
		kind:       ScopeFallback,
		enumerable: true,
	}, true
}

func missingSessionStrategy(a *Adapter, req *Request) (scope, bool) {
	a.logger.Warn("Stateful operation without session, using request scope",
		"err", domain.ErrMissingSessionContext,
	)
	return &localScope{req: req, prefix: RequestNamespace, kind: ScopeRequest}, true
}

// localScope stores values in the request's raw map under a prefix.
type localScope struct {
	req        *Request
	prefix     string
	kind       string
	enumerable bool
}

func (s *localScope) name() string { return s.kind }

func (s *localScope) get(_ context.Context, key string) (any, bool) {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	v, ok := s.req.values[s.prefix+key]
	return v, ok
}

func (s *localScope) set(_ context.Context, key string, value any) error {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	s.req.values[s.prefix+key] = value
	return nil
}

func (s *localScope) delete(_ context.Context, key string) (bool, error) {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	if _, ok := s.req.values[s.prefix+key]; !ok {
		return false, nil
	}
	delete(s.req.values, s.prefix+key)
	return true, nil
}

func (s *localScope) keys(_ context.Context) []string {
	if !s.enumerable {
		return nil
	}
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	out := make([]string, 0)
	for k := range s.req.values {
		if strings.HasPrefix(k, s.prefix) {
			out = append(out, strings.TrimPrefix(k, s.prefix))
		}
	}
	sort.Strings(out)
	return out
}

func (s *localScope) clear(_ context.Context) (int, error) {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	n := 0
	for k := range s.req.values {
		if strings.HasPrefix(k, s.prefix) {
			delete(s.req.values, k)
			n++
		}
	}
	return n, nil
}

// snapshotScope reads from the attached snapshot and commits writes to the
// registry, re-attaching the committed record to the request.
type snapshotScope struct {
	a   *Adapter
	req *Request
}

func (s *snapshotScope) name() string { return ScopeSnapshot }

// stateLocked returns the snapshot's State, creating it when absent.
// The caller holds req.mu.
func (s *snapshotScope) stateLocked() map[string]any {
	if s.req.snapshot.State == nil {
		s.req.snapshot.State = make(map[string]any)
	}
	return s.req.snapshot.State
}

func (s *snapshotScope) get(_ context.Context, key string) (any, bool) {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	v, ok := s.stateLocked()[key]
	return v, ok
}

// commitLocked applies fn to the registry record and to the snapshot.
// When the session vanished from the registry the change stays request-local.
func (s *snapshotScope) commitLocked(ctx context.Context, fn func(map[string]any)) error {
	id := s.req.sessionID
	committed, err := s.a.registry.Update(ctx, id, func(sess *domain.Session) error {
		fn(sess.State)
		return nil
	})
	if errors.Is(err, domain.ErrSessionNotFound) {
		s.a.logger.Warn("Session missing from registry, change kept for this request only",
			"session_id", id,
		)
		fn(s.stateLocked())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to commit state for session %s: %w", id, err)
	}
	s.req.snapshot = committed
	return nil
}

func (s *snapshotScope) set(ctx context.Context, key string, value any) error {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	s.stateLocked()
	return s.commitLocked(ctx, func(m map[string]any) {
		m[key] = value
	})
}

func (s *snapshotScope) delete(ctx context.Context, key string) (bool, error) {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	s.stateLocked()
	var existed bool
	err := s.commitLocked(ctx, func(m map[string]any) {
		_, existed = m[key]
		delete(m, key)
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

func (s *snapshotScope) keys(_ context.Context) []string {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	return sortedKeys(s.stateLocked())
}

func (s *snapshotScope) clear(ctx context.Context) (int, error) {
	s.req.mu.Lock()
	defer s.req.mu.Unlock()
	var n int
	err := s.commitLocked(ctx, func(m map[string]any) {
		n = len(m)
		for k := range m {
			delete(m, k)
		}
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// registryScope addresses a session other than the current one directly
// through registry transactions.
type registryScope struct {
	a  *Adapter
	id string
}

func (s *registryScope) name() string { return ScopeRegistry }

func (s *registryScope) get(ctx context.Context, key string) (any, bool) {
	sess, err := s.a.registry.Get(ctx, s.id)
	if err != nil {
		return nil, false
	}
	v, ok := sess.State[key]
	return v, ok
}

func (s *registryScope) set(ctx context.Context, key string, value any) error {
	_, err := s.a.registry.Update(ctx, s.id, func(sess *domain.Session) error {
		sess.State[key] = value
		return nil
	})
	return err
}

func (s *registryScope) delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	_, err := s.a.registry.Update(ctx, s.id, func(sess *domain.Session) error {
		_, existed = sess.State[key]
		delete(sess.State, key)
		return nil
	})
	return existed, err
}

func (s *registryScope) keys(ctx context.Context) []string {
	sess, err := s.a.registry.Get(ctx, s.id)
	if err != nil {
		return nil
	}
	return sortedKeys(sess.State)
}

func (s *registryScope) clear(ctx context.Context) (int, error) {
	var n int
	_, err := s.a.registry.Update(ctx, s.id, func(sess *domain.Session) error {
		n = len(sess.State)
		sess.State = make(map[string]any)
		return nil
	})
	return n, err
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
