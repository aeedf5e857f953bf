/*
Package ports defines the driven ports (interfaces) of the session layer.

These interfaces decouple the registry from the storage implementation so the
same orchestration runs over the in-memory adapter and over test doubles.

# Key Interfaces

  - SessionStore: persists and loads session records by ID.
*/
package ports
