package state

import (
	"context"
	"sync"

	"github.com/aretw0/mcpecho/pkg/domain"
)

type requestKey struct{}

// Request is the request-local view handed to handlers: the mode flag, the
// resolved session ID, a snapshot of the session record and a raw
// request-scoped map. It lives for one request and is never shared.
type Request struct {
	mu        sync.Mutex
	stateless bool
	sessionID string
	snapshot  *domain.Session
	values    map[string]any

	fallbackWarned bool
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// Stateless marks the request as stateless.
func Stateless() RequestOption {
	return func(r *Request) {
		r.stateless = true
	}
}

// WithSessionID sets the session the request belongs to.
func WithSessionID(id string) RequestOption {
	return func(r *Request) {
		r.sessionID = id
	}
}

// WithSnapshot attaches a snapshot of the session record.
func WithSnapshot(s *domain.Session) RequestOption {
	return func(r *Request) {
		r.snapshot = s
	}
}

// NewRequest creates a request-local context object.
func NewRequest(opts ...RequestOption) *Request {
	r := &Request{
		values: make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewContext returns a copy of ctx carrying req.
func NewContext(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

// FromContext returns the Request carried by ctx, if any.
func FromContext(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*Request)
	return req, ok && req != nil
}

// IsStateless reports the mode flag. Defaults to false.
func (r *Request) IsStateless() bool {
	return r.stateless
}

// SessionID returns the session ID, or "" when none was resolved.
func (r *Request) SessionID() string {
	return r.sessionID
}

// Snapshot returns a copy of the attached session record, or nil.
func (r *Request) Snapshot() *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot.Clone()
}

// Attach replaces the snapshot so later handlers in the same request see it.
func (r *Request) Attach(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = s
}

// HasSnapshot reports whether a snapshot is attached.
func (r *Request) HasSnapshot() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot != nil
}
