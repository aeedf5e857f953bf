/*
Package mcpecho is the session and state layer of a multi-tenant MCP server.

Every MCP client that talks to the server gets a server-minted session. Tool
handlers read and write per-session key/value state through a single State
Adapter that works the same way whether the server runs stateful (state
survives across requests) or stateless (state lives for one request).

# Layout

  - pkg/domain: the Session record, statistics and sentinel errors.
  - pkg/session: the Registry that owns session lifecycle and serialises
    writes per session.
  - pkg/state: the State Adapter, its scopes and the glob key matcher.
  - pkg/adapters/mcp: the MCP tools and the request boundary that binds
    transport session ids to registry sessions.
  - pkg/adapters/http: the streamable HTTP mount, admin API and health.
  - pkg/observability: Prometheus metrics and the scheduled stats reporter.

# Usage

	mcpecho serve --transport http --addr :3000
	mcpecho serve --transport stdio --stateless
	mcpecho sessions ls --server http://localhost:3000
*/
package mcpecho
