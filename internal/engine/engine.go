// Package engine implements the transport-independent half of the MCP
// server: the initialize handshake and routing of requests and
// notifications to the server capabilities.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/wordplay-mcp/internal/jsonrpc"
	"github.com/ggoodman/wordplay-mcp/internal/logctx"
	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/sessions"
)

// Engine routes JSON-RPC messages for a session to the server capabilities.
// It holds no per-session state of its own and is shared by all transports.
type Engine struct {
	srv mcpservice.ServerCapabilities
	log *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used by the engine.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an Engine serving srv.
func NewEngine(srv mcpservice.ServerCapabilities, opts ...EngineOption) *Engine {
	e := &Engine{srv: srv, log: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NegotiateProtocolVersion picks the version to speak with a client that
// requested requested.
func (e *Engine) NegotiateProtocolVersion(ctx context.Context, requested string) (string, error) {
	if mcp.IsSupportedProtocolVersion(requested) {
		return requested, nil
	}
	v, ok, err := e.srv.GetPreferredProtocolVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("get preferred protocol version: %w", err)
	}
	if ok && v != "" {
		return v, nil
	}
	return mcp.LatestProtocolVersion, nil
}

// Initialize performs the handshake for sess: it negotiates the protocol
// version, records the client info and moves the session to ACTIVE.
func (e *Engine) Initialize(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	if sess.State() != sessions.StateUninitialized {
		log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", "session already initialized"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil), nil
	}

	var params mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}

	version, err := e.NegotiateProtocolVersion(ctx, params.ProtocolVersion)
	if err != nil {
		log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result, err := e.initializeResult(ctx, sess, version)
	if err != nil {
		log.ErrorContext(ctx, "engine.initialize.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	if err := sess.Activate(version, params.ClientInfo); err != nil {
		log.InfoContext(ctx, "engine.initialize.invalid", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil), nil
	}

	log.InfoContext(ctx, "engine.initialize.ok",
		slog.String("protocol_version", version),
		slog.String("requested_version", params.ProtocolVersion),
		slog.String("client_name", params.ClientInfo.Name),
		slog.String("client_version", params.ClientInfo.Version),
		slog.Int64("dur_ms", time.Since(start).Milliseconds()),
	)

	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) initializeResult(ctx context.Context, sess *sessions.Session, version string) (*mcp.InitializeResult, error) {
	serverInfo, err := e.srv.GetServerInfo(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("get server info: %w", err)
	}

	res := &mcp.InitializeResult{
		ProtocolVersion: version,
		ServerInfo:      serverInfo,
	}

	if instr, ok, err := e.srv.GetInstructions(ctx, sess); err != nil {
		return nil, fmt.Errorf("get instructions: %w", err)
	} else if ok {
		res.Instructions = instr
	}

	if _, ok, err := e.srv.GetToolsCapability(ctx, sess); err != nil {
		return nil, fmt.Errorf("get tools capability: %w", err)
	} else if ok {
		res.Capabilities.Tools = &mcp.ToolsCapability{}
	}

	return res, nil
}

// HandleMessage dispatches any inbound message. Requests yield a response;
// notifications and client responses yield nil.
func (e *Engine) HandleMessage(ctx context.Context, sess *sessions.Session, msg *jsonrpc.AnyMessage) (*jsonrpc.Response, error) {
	switch msg.Kind() {
	case jsonrpc.KindRequest:
		return e.HandleRequest(ctx, sess, msg.AsRequest())
	case jsonrpc.KindNotification:
		return nil, e.HandleNotification(ctx, sess, msg.AsRequest())
	default:
		// The server never issues requests, so any response is unsolicited.
		e.log.DebugContext(ctx, "engine.handle_response.ignored", slog.String("id", msg.ID.String()))
		return nil, nil
	}
}

// HandleRequest handles a request carrying an id. Methods other than
// initialize and ping require an ACTIVE session.
func (e *Engine) HandleRequest(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req.Method == string(mcp.InitializeMethod) {
		return e.Initialize(ctx, sess, req)
	}

	switch sess.State() {
	case sessions.StateUninitialized:
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("method", req.Method), slog.String("err", "session not initialized"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session not initialized", nil), nil
	case sessions.StateClosed:
		e.log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("method", req.Method), slog.String("err", "session closed"))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session closed", nil), nil
	}

	switch req.Method {
	case string(mcp.PingMethod):
		return jsonrpc.NewResultResponse(req.ID, &mcp.EmptyResult{})
	case string(mcp.ToolsListMethod):
		return e.handleToolsList(ctx, sess, req)
	case string(mcp.ToolsCallMethod):
		return e.handleToolCall(ctx, sess, req)
	}

	e.log.InfoContext(ctx, "engine.handle_request.unsupported", slog.String("method", req.Method))
	return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), nil), nil
}

func (e *Engine) handleToolsList(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.ListToolsRequest
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
		}
	}

	tools, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || tools == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	var cursor *string
	if params.Cursor != "" {
		s := params.Cursor
		cursor = &s
	}

	page, err := tools.ListTools(ctx, sess, cursor)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	result := &mcp.ListToolsResult{Tools: page.Items}
	if result.Tools == nil {
		result.Tools = []mcp.Tool{}
	}
	result.NextCursor = page.NextCursor

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Int("tool_count", len(page.Items)))

	return jsonrpc.NewResultResponse(req.ID, result)
}

func (e *Engine) handleToolCall(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	start := time.Now()
	log := e.log.With(slog.String("method", req.Method))

	var params mcp.CallToolRequestReceived
	if err := json.Unmarshal(req.Params, &params); err != nil {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params", nil), nil
	}
	if params.Name == "" {
		log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", "missing tool name"), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid params: missing tool name", nil), nil
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})

	tools, ok, err := e.srv.GetToolsCapability(ctx, sess)
	if err != nil {
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}
	if !ok || tools == nil {
		log.InfoContext(ctx, "engine.handle_request.unsupported", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "tools capability not supported", nil), nil
	}

	// The call is cancelled by notifications/cancelled, by the session
	// closing, or by the caller's context.
	toolCtx, toolCancel := context.WithCancel(ctx)
	defer toolCancel()
	stop := context.AfterFunc(sess.Context(), toolCancel)
	defer stop()
	untrack := sess.TrackRequest(req.ID.String(), toolCancel)
	defer untrack()

	res, err := tools.Invoke(toolCtx, sess, params.Name, params.Arguments)
	if err != nil {
		var unknown *mcpservice.UnknownToolError
		var invalid *mcpservice.ValidationError
		switch {
		case errors.As(err, &unknown):
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), map[string]any{
				"kind": "unknown_tool",
				"tool": unknown.Name,
			}), nil
		case errors.As(err, &invalid):
			log.InfoContext(ctx, "engine.handle_request.invalid", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewResultResponse(req.ID, validationResult(invalid))
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || toolCtx.Err() != nil:
			log.InfoContext(ctx, "engine.handle_request.cancelled", slog.Int64("dur_ms", time.Since(start).Milliseconds()))
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "cancelled", nil), nil
		}
		log.ErrorContext(ctx, "engine.handle_request.fail", slog.String("err", err.Error()), slog.Int64("dur_ms", time.Since(start).Milliseconds()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil), nil
	}

	log.InfoContext(ctx, "engine.handle_request.ok", slog.Int64("dur_ms", time.Since(start).Milliseconds()), slog.Bool("is_error", res.IsError))

	return jsonrpc.NewResultResponse(req.ID, res)
}

func validationResult(err *mcpservice.ValidationError) *mcp.CallToolResult {
	res := &mcp.CallToolResult{IsError: true}
	res.Content = append(res.Content, mcp.ContentBlock{
		Type: mcp.ContentTypeText,
		Text: fmt.Sprintf("invalid arguments for tool %q", err.Tool),
	})
	for _, v := range err.Violations {
		res.Content = append(res.Content, mcp.ContentBlock{Type: mcp.ContentTypeText, Text: v})
	}
	return res
}

// HandleNotification handles a message without an id. Unknown notifications
// are ignored.
func (e *Engine) HandleNotification(ctx context.Context, sess *sessions.Session, note *jsonrpc.Request) error {
	switch note.Method {
	case string(mcp.InitializedNotificationMethod):
		e.log.InfoContext(ctx, "engine.session.initialized")
		return nil

	case string(mcp.CancelledNotificationMethod):
		var params mcp.CancelledNotification
		if err := json.Unmarshal(note.Params, &params); err != nil {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", err.Error()))
			return fmt.Errorf("invalid cancelled params: %w", err)
		}
		var id jsonrpc.RequestID
		if err := json.Unmarshal(params.RequestID, &id); err != nil || id.IsNil() {
			e.log.InfoContext(ctx, "engine.handle_notification.invalid", slog.String("err", "missing requestId"))
			return fmt.Errorf("invalid cancelled params: missing requestId")
		}
		found := sess.CancelRequest(id.String())
		e.log.InfoContext(ctx, "engine.handle_notification.cancel",
			slog.String("request_id", id.String()),
			slog.String("reason", params.Reason),
			slog.Bool("found", found),
		)
		return nil
	}

	e.log.DebugContext(ctx, "engine.handle_notification.ignored", slog.String("method", note.Method))
	return nil
}
