// Package mcpserver exposes the tool registry over the Model Context Protocol.
//
// Every registered tool is listed with its declared input schema, enabled
// or not. A failed call is returned as a tool result flagged as an error,
// whose text is the JSON of the ToolError.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sops-mcp/config"
	"github.com/effective-security/sops-mcp/pkg/llmutils"
	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/effective-security/sops-mcp/tools"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/sops-mcp", "mcpserver")

// Version is reported to MCP clients, set at build time
var Version = "0.1.0"

// Transports
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// Transports lists the supported transports.
var Transports = []string{TransportStdio, TransportSSE, TransportHTTP}

// Server binds the registry to an MCP server.
type Server struct {
	name     string
	registry *tools.Registry
	mcp      *server.MCPServer
}

// New returns the MCP server for the registry.
func New(cfg *config.Config, registry *tools.Registry, opts ...server.ServerOption) (*Server, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	name := config.DefaultServerName
	if cfg != nil && cfg.ServerName != "" {
		name = cfg.ServerName
	}

	opts = append([]server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	}, opts...)

	s := &Server{
		name:     name,
		registry: registry,
		mcp:      server.NewMCPServer(name, Version, opts...),
	}

	for _, t := range registry.Tools() {
		raw, err := json.Marshal(t.Parameters())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal schema of %s", t.Name())
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name(), t.Description(), raw), s.handler(t.Name()))
	}
	return s, nil
}

// Name returns the server name reported to clients.
func (s *Server) Name() string {
	return s.name
}

// MCP returns the underlying MCP server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := ""
		if req.Params.Arguments != nil {
			// the arguments were decoded from JSON
			args = llmutils.ToJSON(req.Params.Arguments)
		}

		res, err := s.registry.Call(ctx, name, args)
		if err != nil {
			return ErrorResult(toolerr.Normalize(err)), nil
		}
		return mcp.NewToolResultText(res), nil
	}
}

// ErrorResult returns the tool result for a failed call.
func ErrorResult(te *toolerr.Error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{mcp.NewTextContent(te.JSON())},
	}
}

// Serve runs the server on the transport until ctx is done.
// The addr is used by the sse and http transports.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	logger.KV(xlog.INFO,
		"status", "serving",
		"server", s.name,
		"transport", transport,
		"addr", addr,
	)

	switch strings.ToLower(transport) {
	case TransportStdio, "":
		return s.serveStdio(ctx)
	case TransportSSE:
		sse := server.NewSSEServer(s.mcp)
		return serveHTTP(ctx, addr, sse.Start, sse.Shutdown)
	case TransportHTTP:
		h := server.NewStreamableHTTPServer(s.mcp)
		return serveHTTP(ctx, addr, h.Start, h.Shutdown)
	default:
		return errors.Errorf("unsupported transport: %q, must be one of: %s", transport, strings.Join(Transports, ", "))
	}
}

func (s *Server) serveStdio(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	err := stdio.Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "stdio transport failed")
	}
	return nil
}

func serveHTTP(ctx context.Context, addr string, start func(string) error, shutdown func(context.Context) error) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			if err := shutdown(context.Background()); err != nil {
				logger.KV(xlog.ERROR, "reason", "shutdown", "err", err.Error())
			}
		case <-done:
		}
	}()

	err := start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve on %s", addr)
	}
	return nil
}
