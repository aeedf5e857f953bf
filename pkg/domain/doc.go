/*
Package domain contains the core models of the mcpecho session layer.

It is kept free of I/O and persistence concerns.

# Key Entities

  - Session: the registry-owned record of a client (timestamps, counters, State, Metadata).
  - HistoryEntry / LifecycleEvent: bookkeeping stored in Session.Metadata.
  - Stats: aggregate view of the registry for the administrative surface.
*/
package domain
