package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aretw0/mcpecho/internal/logging"
	"github.com/aretw0/mcpecho/pkg/session"
	"github.com/aretw0/mcpecho/pkg/state"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ServerName is advertised to clients during initialize.
const ServerName = "mcpecho"

// ToolRecorder receives tool call outcomes (e.g. Prometheus metrics).
type ToolRecorder interface {
	ToolCall(tool string, failed bool, elapsed time.Duration)
}

// Server exposes the echo and session tools over MCP.
type Server struct {
	registry *session.Registry
	adapter  *state.Adapter
	boundary *Boundary
	recorder ToolRecorder
	logger   *slog.Logger
	version  string
	started  time.Time

	stateless bool

	mcpServer *server.MCPServer
	handlers  map[string]server.ToolHandlerFunc
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server and its Boundary.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStatelessMode sets the server-wide mode.
func WithStatelessMode(stateless bool) Option {
	return func(s *Server) {
		s.stateless = stateless
	}
}

// WithToolRecorder attaches a tool call recorder.
func WithToolRecorder(r ToolRecorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithVersion sets the advertised server version.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates the MCP server.
func NewServer(registry *session.Registry, adapter *state.Adapter, opts ...Option) *Server {
	s := &Server{
		registry: registry,
		adapter:  adapter,
		logger:   logging.NewNop(),
		version:  "dev",
		started:  time.Now(),
		handlers: make(map[string]server.ToolHandlerFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.boundary = NewBoundary(registry,
		WithStateless(s.stateless),
		WithBoundaryLogger(s.logger),
	)

	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(s.afterInitialize)

	s.mcpServer = server.NewMCPServer(ServerName, s.version,
		server.WithToolCapabilities(false),
		server.WithToolHandlerMiddleware(s.sessionMiddleware),
		server.WithHooks(hooks),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// Boundary returns the request boundary used by the server.
func (s *Server) Boundary() *Boundary {
	return s.boundary
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio serves MCP over Stdin/Stdout until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Handler returns the streamable HTTP transport. In stateful mode transport
// session ids are minted by the registry.
func (s *Server) Handler(endpointPath string) http.Handler {
	opts := []server.StreamableHTTPOption{
		server.WithEndpointPath(endpointPath),
	}
	if s.stateless {
		opts = append(opts, server.WithStateLess(true))
	} else {
		opts = append(opts, server.WithSessionIdManager(s.boundary.SessionIDManager()))
	}
	return server.NewStreamableHTTPServer(s.mcpServer, opts...)
}

func (s *Server) afterInitialize(ctx context.Context, _ any, msg *mcp.InitializeRequest, res *mcp.InitializeResult) {
	protocol := msg.Params.ProtocolVersion
	if res != nil && res.ProtocolVersion != "" {
		protocol = res.ProtocolVersion
	}
	err := s.boundary.RecordInitialize(ctx, clientSessionID(ctx),
		protocol,
		msg.Params.ClientInfo.Name,
		msg.Params.ClientInfo.Version,
	)
	if err != nil {
		s.logger.Warn("Failed to record initialize", "err", err)
	}
}

// clientSessionID returns the transport-level session id, if any.
func clientSessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

func (s *Server) sessionMiddleware(next server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return s.invoke(ctx, clientSessionID(ctx), request, next)
	}
}

// invoke runs the boundary, then the handler, and records the outcome.
func (s *Server) invoke(ctx context.Context, clientID string, request mcp.CallToolRequest, next server.ToolHandlerFunc) (*mcp.CallToolResult, error) {
	start := time.Now()
	tool := request.Params.Name

	ctx, err := s.boundary.Begin(ctx, clientID, tool)
	if err != nil {
		s.logger.Error("Session boundary failed", "tool", tool, "err", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := next(ctx, request)
	failed := err != nil || (res != nil && res.IsError)
	if s.recorder != nil {
		s.recorder.ToolCall(tool, failed, time.Since(start))
	}
	s.logger.Debug("Tool call finished",
		"tool", tool,
		"request_id", RequestIDFromContext(ctx),
		"failed", failed,
		"elapsed", time.Since(start),
	)
	return res, err
}

// addTool registers a tool with mcp-go and keeps the handler for direct calls.
func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.handlers[tool.Name] = handler
	s.mcpServer.AddTool(tool, handler)
}

// Call invokes a tool as if it arrived on a transport carrying clientID.
func (s *Server) Call(ctx context.Context, clientID, name string, args map[string]any) (*mcp.CallToolResult, error) {
	handler, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	var request mcp.CallToolRequest
	request.Params.Name = name
	request.Params.Arguments = args
	return s.invoke(ctx, clientID, request, handler)
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
