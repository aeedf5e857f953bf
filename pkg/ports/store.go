package ports

import (
	"context"

	"github.com/aretw0/mcpecho/pkg/domain"
)

// SessionStore defines the interface for holding session records.
type SessionStore interface {
	// Save stores the record for a given session ID, replacing any previous one.
	Save(ctx context.Context, sessionID string, session *domain.Session) error

	// Load retrieves the record for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.Session, error)

	// Delete removes the record for a given session ID.
	// Returns domain.ErrSessionNotFound if there was nothing to delete.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}
