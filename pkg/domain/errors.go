package domain

import "errors"

// ErrSessionNotFound is returned when a session ID has no registry record.
var ErrSessionNotFound = errors.New("session not found")

// ErrMissingSessionContext marks a stateful operation that ran without a session ID.
// It is logged and recovered from, never returned to handlers.
var ErrMissingSessionContext = errors.New("no session id in request context")

// ErrInvalidPattern is returned when a key enumeration pattern is malformed.
var ErrInvalidPattern = errors.New("invalid key pattern")
