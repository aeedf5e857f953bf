/*
Package state implements the key/value API request handlers use.

Every call reads the stateless flag from the Request carried by the context and
resolves a storage location through an ordered chain of strategies:

  - stateless: the request-local map under the "request:" namespace.
  - stateful, snapshot attached: the session's State, with writes committed
    to the registry as transactions and the committed record re-attached.
  - stateful, no snapshot: request-local entries keyed "session:<id>:<key>"
    (non-durable fallback).
  - stateful, no session ID: the request-local map, with a warning.

Missing data is never an error: reads take a default. Only malformed key
patterns (ErrInvalidPattern) and failing registry commits are returned.
*/
package state
