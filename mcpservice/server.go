package mcpservice

import (
	"context"
	"encoding/json"

	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/sessions"
)

// ServerCapabilities is what the protocol engine needs from a server
// implementation. Implementations MUST be safe for concurrent use.
type ServerCapabilities interface {
	// GetServerInfo returns the implementation info surfaced in initialize
	// results.
	GetServerInfo(ctx context.Context, session *sessions.Session) (mcp.ImplementationInfo, error)

	// GetPreferredProtocolVersion returns the version offered when the client
	// requests one the server does not support. ok=false selects
	// mcp.LatestProtocolVersion.
	GetPreferredProtocolVersion(ctx context.Context) (version string, ok bool, err error)

	// GetInstructions returns optional human-readable instructions for the
	// initialize result.
	GetInstructions(ctx context.Context, session *sessions.Session) (instructions string, ok bool, err error)

	// GetToolsCapability returns the tools capability. ok=false means tools
	// are not advertised.
	GetToolsCapability(ctx context.Context, session *sessions.Session) (tools ToolsCapability, ok bool, err error)
}

// ToolsCapability lists and invokes tools. *Registry implements it.
type ToolsCapability interface {
	ListTools(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Tool], error)
	Invoke(ctx context.Context, session *sessions.Session, name string, rawArgs json.RawMessage) (*mcp.CallToolResult, error)
}

var _ ToolsCapability = (*Registry)(nil)

// ServerOption configures the ServerCapabilities returned by NewServer.
type ServerOption func(*server)

type server struct {
	info            mcp.ImplementationInfo
	protocolVersion string
	instructions    *string
	tools           ToolsCapability
}

// NewServer builds a ServerCapabilities using functional options.
func NewServer(opts ...ServerOption) ServerCapabilities {
	s := &server{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithServerInfo sets the server info value.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *server) { s.info = info }
}

// WithPreferredProtocolVersion sets the preferred protocol version string.
func WithPreferredProtocolVersion(version string) ServerOption {
	return func(s *server) { s.protocolVersion = version }
}

// WithInstructions sets human-readable instructions returned during initialize.
func WithInstructions(instr string) ServerOption {
	return func(s *server) { s.instructions = &instr }
}

// WithToolsCapability wires the tools capability used for all sessions.
func WithToolsCapability(cap ToolsCapability) ServerOption {
	return func(s *server) { s.tools = cap }
}

func (s *server) GetServerInfo(ctx context.Context, session *sessions.Session) (mcp.ImplementationInfo, error) {
	return s.info, nil
}

func (s *server) GetPreferredProtocolVersion(ctx context.Context) (string, bool, error) {
	if s.protocolVersion == "" {
		return "", false, nil
	}
	return s.protocolVersion, true, nil
}

func (s *server) GetInstructions(ctx context.Context, session *sessions.Session) (string, bool, error) {
	if s.instructions == nil {
		return "", false, nil
	}
	return *s.instructions, true, nil
}

func (s *server) GetToolsCapability(ctx context.Context, session *sessions.Session) (ToolsCapability, bool, error) {
	if s.tools == nil {
		return nil, false, nil
	}
	return s.tools, true, nil
}
