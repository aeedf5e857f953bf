/*
Package session implements the session registry.

The Registry is the single source of truth for which sessions exist. It mints
session IDs, serves snapshots of records, and applies mutations as explicit
transactions (Update) guarded by per-session locks, so concurrent requests
addressing the same session never lose writes.
*/
package session
