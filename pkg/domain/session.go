package domain

import "time"

// Metadata keys used for session bookkeeping.
const (
	MetaHistory   = "history"
	MetaLifecycle = "lifecycle"
)

// ClientInfo identifies the MCP client that opened the session.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Session is the server-held record of a client's interaction state.
type Session struct {
	// ID is the opaque identifier minted by the registry.
	ID string `json:"id"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`

	// Initialized is set once the client completed the MCP handshake.
	Initialized     bool        `json:"initialized"`
	ProtocolVersion string      `json:"protocol_version,omitempty"`
	ClientInfo      *ClientInfo `json:"client_info,omitempty"`

	RequestCount int `json:"request_count"`

	// State holds the handler-visible key/value data (User space).
	// It is only mutated through the state adapter or a registry transaction.
	State map[string]any `json:"state"`

	// Metadata holds bookkeeping such as request history and lifecycle events.
	Metadata map[string]any `json:"metadata"`
}

// NewSession creates an empty session record stamped with now.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		State:        make(map[string]any),
		Metadata:     make(map[string]any),
	}
}

// Clone returns a copy of the session that shares no maps with the receiver.
// Nested maps and slices inside State are copied one level deep.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ClientInfo != nil {
		ci := *s.ClientInfo
		out.ClientInfo = &ci
	}
	if s.State != nil {
		out.State = CopyMap(s.State)
	}
	if s.Metadata != nil {
		out.Metadata = CopyMap(s.Metadata)
	}
	return &out
}

// Age reports how long ago the session was created.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// Idle reports how long the session has been inactive.
func (s *Session) Idle(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// CopyMap copies m, descending into nested maps and []any values.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i := range t {
			cp[i] = copyValue(t[i])
		}
		return cp
	case []HistoryEntry:
		return append([]HistoryEntry(nil), t...)
	case []LifecycleEvent:
		return append([]LifecycleEvent(nil), t...)
	default:
		return v
	}
}

// HistoryEntry records one request handled for a session.
type HistoryEntry struct {
	RequestID string    `json:"request_id"`
	Tool      string    `json:"tool"`
	At        time.Time `json:"at"`
}

// LifecycleEvent records a notable transition (created, initialized, cleared).
type LifecycleEvent struct {
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Stats summarises the registry for the administrative surface.
type Stats struct {
	Count         int           `json:"count"`
	TotalRequests int           `json:"total_requests"`
	OldestAge     time.Duration `json:"oldest_age"`
	NewestAge     time.Duration `json:"newest_age"`
	Initialized   int           `json:"initialized"`
}
