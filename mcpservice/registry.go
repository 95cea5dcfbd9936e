package mcpservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/sessions"
)

// DefaultPageSize is the number of tools returned per tools/list page.
const DefaultPageSize = 50

// ToolHandler is the function signature used to handle a tool invocation.
type ToolHandler func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error)

// StaticTool pairs an MCP tool descriptor with its handler.
type StaticTool struct {
	Descriptor mcp.Tool
	Handler    ToolHandler
}

// ToolRequest is the container for tool call input. It is generic over the
// typed argument struct A.
type ToolRequest[A any] struct {
	name string
	raw  json.RawMessage
	args A
}

func (r *ToolRequest[A]) Name() string                  { return r.name }
func (r *ToolRequest[A]) RawArguments() json.RawMessage { return r.raw }
func (r *ToolRequest[A]) Args() A                       { return r.args }

// ToolOption configures NewTool behavior.
type ToolOption func(*toolConfig)

type toolConfig struct {
	title                     string
	description               string
	allowAdditionalProperties bool
}

// WithToolTitle sets the human-readable title shown by clients.
func WithToolTitle(title string) ToolOption {
	return func(c *toolConfig) { c.title = title }
}

// WithToolDescription sets the tool description used in listings.
func WithToolDescription(desc string) ToolOption {
	return func(c *toolConfig) { c.description = desc }
}

// WithToolAllowAdditionalProperties controls whether unknown fields are allowed.
// When false (default), the generated schema sets additionalProperties=false and
// unknown fields are rejected.
func WithToolAllowAdditionalProperties(allow bool) ToolOption {
	return func(c *toolConfig) { c.allowAdditionalProperties = allow }
}

// NewTool constructs a StaticTool from a typed args struct A. The input schema
// is reflected from A and handlers compose their result through a
// ToolResponseWriter.
func NewTool[A any](name string, fn func(ctx context.Context, session *sessions.Session, w ToolResponseWriter, r *ToolRequest[A]) error, opts ...ToolOption) StaticTool {
	cfg := toolConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := mcp.Tool{
		Name:        name,
		Title:       cfg.title,
		Description: cfg.description,
		InputSchema: reflectToMCPInputSchema[A](cfg.allowAdditionalProperties),
	}

	handler := func(ctx context.Context, session *sessions.Session, req *mcp.CallToolRequestReceived) (*mcp.CallToolResult, error) {
		var a A
		if len(req.Arguments) > 0 && !bytes.Equal(bytes.TrimSpace(req.Arguments), []byte("null")) {
			dec := json.NewDecoder(bytes.NewReader(req.Arguments))
			if !cfg.allowAdditionalProperties {
				dec.DisallowUnknownFields()
			}
			if err := dec.Decode(&a); err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
		}
		w := newToolResponseWriter(ctx)
		r := &ToolRequest[A]{name: req.Name, raw: req.Arguments, args: a}
		if err := fn(ctx, session, w, r); err != nil {
			return nil, err
		}
		return w.Result(), nil
	}

	return StaticTool{Descriptor: desc, Handler: handler}
}

type registeredTool struct {
	StaticTool
	validator *argumentValidator
}

// Registry is a threadsafe, ordered set of tools keyed by name. Registration
// normally happens at startup; lookups happen per call.
type Registry struct {
	mu       sync.RWMutex
	order    []string
	tools    map[string]*registeredTool
	pageSize int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]*registeredTool),
		pageSize: DefaultPageSize,
	}
}

// SetPageSize sets the pagination size used by ListTools. A non-positive
// value is ignored.
func (r *Registry) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	r.pageSize = n
	r.mu.Unlock()
}

// Register adds a tool. It fails with ErrDuplicateTool when the name is taken.
func (r *Registry) Register(tool StaticTool) error {
	name := tool.Descriptor.Name
	if name == "" {
		return fmt.Errorf("register tool: missing name")
	}
	if tool.Handler == nil {
		return fmt.Errorf("register tool %q: missing handler", name)
	}
	v, err := newArgumentValidator(tool.Descriptor.InputSchema)
	if err != nil {
		return fmt.Errorf("register tool %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateTool, name)
	}
	r.tools[name] = &registeredTool{StaticTool: tool, validator: v}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(tools ...StaticTool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Snapshot returns the registered descriptors in registration order.
func (r *Registry) Snapshot() []mcp.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcp.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Descriptor)
	}
	return out
}

// ListTools returns a page of tool descriptors. A nil cursor requests the
// first page.
func (r *Registry) ListTools(ctx context.Context, session *sessions.Session, cursor *string) (Page[mcp.Tool], error) {
	if err := ctx.Err(); err != nil {
		return Page[mcp.Tool]{}, err
	}
	all := r.Snapshot()
	r.mu.RLock()
	pageSize := r.pageSize
	r.mu.RUnlock()
	return pageSlice(all, pageSize, cursor), nil
}

// Invoke validates rawArgs against the named tool's input schema and runs its
// handler. It returns *UnknownToolError for unregistered names and
// *ValidationError for arguments that fail validation; handler errors are
// returned as is.
func (r *Registry) Invoke(ctx context.Context, session *sessions.Session, name string, rawArgs json.RawMessage) (*mcp.CallToolResult, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}

	if violations, err := t.validator.validate(rawArgs); len(violations) > 0 {
		return nil, &ValidationError{Tool: name, Violations: violations, err: err}
	}

	res, err := t.Handler(ctx, session, &mcp.CallToolRequestReceived{Name: name, Arguments: rawArgs})
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = &mcp.CallToolResult{}
	}
	if res.Content == nil {
		res.Content = []mcp.ContentBlock{}
	}
	return res, nil
}

// TextResult is a small helper to build a text CallToolResult.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: s}}}
}

// Errorf returns an error CallToolResult with a single text block and IsError=true.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	msg := fmt.Sprintf(format, a...)
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: msg}}, IsError: true}
}
