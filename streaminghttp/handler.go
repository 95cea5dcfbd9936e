package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/wordplay-mcp/internal/engine"
	"github.com/ggoodman/wordplay-mcp/internal/jsonrpc"
	"github.com/ggoodman/wordplay-mcp/internal/logctx"
	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/sessions"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

var (
	_ http.Handler = (*Handler)(nil)
)

// TransportName identifies this transport in logs.
const TransportName = "streaminghttp"

const (
	// DefaultKeepAliveInterval is how often an idle GET stream receives a
	// comment frame.
	DefaultKeepAliveInterval = 25 * time.Second
	// DefaultMaxBodyBytes bounds a POSTed message.
	DefaultMaxBodyBytes = 10 << 20

	maxSessionIDAttempts = 3
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
	responseMediaTypes    = []contenttype.MediaType{jsonMediaType, eventStreamMediaType}
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	lastEventIDHeader        = "Last-Event-ID"
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before a JSON-RPC
// message exchange is possible. Shape: {"error":{"code":<httpStatus>,"message":"<reason>"}}
// Safe to call after some headers set but before status written.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// writeRPCError emits a JSON-RPC error response with a null id for bodies that
// could not be parsed into a message.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, nil))
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithKeepAliveInterval sets how often idle GET streams are pinged.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.keepAlive = d
		}
	}
}

// WithMaxBodyBytes bounds the size of a POSTed message.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBody = n
		}
	}
}

// Handler implements the streamable HTTP transport of the Model Context
// Protocol on a single endpoint. It resolves the session for each request
// from the Mcp-Session-Id header, creating one on initialize, and hands the
// message to the protocol engine.
type Handler struct {
	log       *slog.Logger
	store     sessions.Store
	eng       *engine.Engine
	keepAlive time.Duration
	maxBody   int64
}

// New constructs a Handler that keeps its sessions in store and serves the
// capabilities of server.
func New(store sessions.Store, server mcpservice.ServerCapabilities, opts ...Option) (*Handler, error) {
	if server == nil {
		return nil, fmt.Errorf("server is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	h := &Handler{
		log:       slog.Default(),
		store:     store,
		keepAlive: DefaultKeepAliveInterval,
		maxBody:   DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = slog.New(logctx.NewHandler(h.log.Handler()))
	h.eng = engine.NewEngine(server, engine.WithLogger(h.log))
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	if reqID == "" {
		reqID = uuid.NewString()
	}
	r = r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	}))

	switch r.Method {
	case http.MethodPost:
		h.handlePostMCP(w, r)
	case http.MethodGet:
		h.handleGetMCP(w, r)
	case http.MethodDelete:
		h.handleDeleteMCP(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE, OPTIONS")
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// createSession registers a fresh UNINITIALIZED session under a new id. A
// close hook removes it from the store whichever way it ends.
func (h *Handler) createSession(ctx context.Context) (*sessions.Session, error) {
	for attempt := 0; attempt < maxSessionIDAttempts; attempt++ {
		sess := sessions.New("")
		err := h.store.Put(sess)
		if errors.Is(err, sessions.ErrSessionExists) {
			h.log.WarnContext(ctx, "session.create.collision", slog.String("session_id", sess.ID()))
			continue
		}
		if err != nil {
			return nil, err
		}
		sess.OnClose(func(s *sessions.Session, reason string) {
			h.store.Remove(s.ID())
			h.log.Info("session.close", slog.String("session_id", s.ID()), slog.String("reason", reason))
		})
		return sess, nil
	}
	return nil, fmt.Errorf("create session: %w", sessions.ErrSessionExists)
}

// handlePostMCP handles POST /mcp, which carries one client message and
// establishes a session when that message is initialize.
func (h *Handler) handlePostMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		}
		h.log.WarnContext(ctx, "http.body.read.fail", slog.String("err", err.Error()))
		return
	}

	msg, err := jsonrpc.Decode(body)
	if err != nil {
		switch {
		case errors.Is(err, jsonrpc.ErrBatchUnsupported):
			writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "JSON-RPC batch arrays are not supported")
			h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		case json.Valid(body):
			writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid JSON-RPC message")
			h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		default:
			writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "parse error")
			h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		}
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   string(msg.Kind()),
	})

	isInitialize := msg.Kind() == jsonrpc.KindRequest && msg.Method == string(mcp.InitializeMethod)
	sessID := r.Header.Get(mcpSessionIDHeader)

	var sess *sessions.Session
	if sessID != "" {
		if s, ok := h.store.Get(sessID); ok {
			sess = s
		}
	}

	if sess == nil {
		if !isInitialize {
			if sessID == "" {
				writeJSONError(w, http.StatusBadRequest, "missing mcp-session-id header")
				h.log.InfoContext(ctx, "session.id.missing")
			} else {
				writeJSONError(w, http.StatusNotFound, "session not found")
				h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", sessID))
			}
			return
		}
		h.initializeSession(ctx, w, r, msg.AsRequest(), start)
		return
	}

	ctx = logctx.WithSession(ctx, sess, TransportName)
	h.log.InfoContext(ctx, "session.load.ok")

	if isInitialize {
		writeJSONError(w, http.StatusConflict, "session already initialized")
		h.log.WarnContext(ctx, "session.initialize.redundant")
		return
	}
	clientPV := r.Header.Get(mcpProtocolVersionHeader)
	if clientPV != "" && sess.ProtocolVersion() != "" && clientPV != sess.ProtocolVersion() {
		writeJSONError(w, http.StatusBadRequest, "protocol version mismatch")
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", clientPV))
		return
	}
	if spv := sess.ProtocolVersion(); spv != "" {
		w.Header().Set(mcpProtocolVersionHeader, spv)
	}

	switch msg.Kind() {
	case jsonrpc.KindNotification:
		if err := h.eng.HandleNotification(ctx, sess, msg.AsRequest()); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			h.log.WarnContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))

	case jsonrpc.KindResponse:
		if _, err := h.eng.HandleMessage(ctx, sess, msg); err != nil {
			h.log.WarnContext(ctx, "response.inbound.fail", slog.String("err", err.Error()))
		}
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "response.inbound.ok", slog.Duration("dur", time.Since(start)))

	default:
		req := msg.AsRequest()
		res, err := h.eng.HandleRequest(ctx, sess, req)
		if err != nil {
			h.log.ErrorContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
			res = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
		}
		if err := h.writeResponse(ctx, w, r, http.StatusOK, res); err != nil {
			h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
			return
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
	}
}

func (h *Handler) initializeSession(ctx context.Context, w http.ResponseWriter, r *http.Request, req *jsonrpc.Request, start time.Time) {
	sess, err := h.createSession(ctx)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create session")
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return
	}
	ctx = logctx.WithSession(ctx, sess, TransportName)

	res, err := h.eng.Initialize(ctx, sess, req)
	if err != nil || res.Error != nil {
		h.store.Remove(sess.ID())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to initialize session")
			h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
			return
		}
		if err := h.writeResponse(ctx, w, r, http.StatusBadRequest, res); err != nil {
			h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "session.initialize.invalid", slog.String("err", res.Error.Message))
		return
	}

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	if v := sess.ProtocolVersion(); v != "" {
		w.Header().Set(mcpProtocolVersionHeader, v)
	}
	if err := h.writeResponse(ctx, w, r, http.StatusOK, res); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// writeResponse sends res as a plain JSON body, or as a single SSE event when
// the client only accepts event streams.
func (h *Handler) writeResponse(ctx context.Context, w http.ResponseWriter, r *http.Request, status int, res *jsonrpc.Response) error {
	b, err := json.Marshal(res)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return fmt.Errorf("marshal response: %w", err)
	}

	asSSE := false
	if r.Header.Get("Accept") != "" {
		accepted, _, err := contenttype.GetAcceptableMediaType(r, responseMediaTypes)
		if err != nil {
			writeJSONError(w, http.StatusNotAcceptable, "client must accept application/json or text/event-stream")
			return fmt.Errorf("negotiate response type: %w", err)
		}
		asSSE = accepted.Matches(eventStreamMediaType) && !acceptsJSON(r)
	}

	if !asSSE {
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(status)
		_, err := w.Write(append(b, '\n'))
		return err
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return errors.New("response writer does not support flushing")
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	startSSE(w, f, w.Header().Get(mcpProtocolVersionHeader))
	return writeSSEEvent(wf, "", b)
}

func acceptsJSON(r *http.Request) bool {
	_, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{jsonMediaType})
	return err == nil
}

// handleGetMCP handles GET /mcp, which opens a long-lived event stream for an
// established session. The server never initiates messages, so the stream
// only carries keep-alive comments until the session or the connection ends.
func (h *Handler) handleGetMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "client must accept text/event-stream")
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing mcp-session-id header")
		h.log.WarnContext(ctx, "session.id.missing")
		return
	}
	sess, ok := h.store.Get(sessID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		h.log.InfoContext(ctx, "session.load.miss", slog.String("session_id", sessID))
		return
	}
	ctx = logctx.WithSession(ctx, sess, TransportName)

	if pv := r.Header.Get(mcpProtocolVersionHeader); pv != "" {
		if spv := sess.ProtocolVersion(); spv != "" && pv != spv {
			w.WriteHeader(http.StatusPreconditionFailed)
			h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pv))
			return
		}
	}

	startSSE(w, f, sess.ProtocolVersion())
	h.log.InfoContext(ctx, "sse.stream.start", slog.String("last_event_id", r.Header.Get(lastEventIDHeader)))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", "client"), slog.Duration("dur", time.Since(start)))
			return
		case <-sess.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.String("reason", "session_closed"), slog.Duration("dur", time.Since(start)))
			return
		case <-ticker.C:
			if err := writeSSEComment(wf, "keep-alive"); err != nil {
				h.log.InfoContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			sess.Touch()
		}
	}
}

// handleDeleteMCP handles DELETE /mcp, which terminates an existing session.
func (h *Handler) handleDeleteMCP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "delete.missing_session_id")
		writeJSONError(w, http.StatusBadRequest, "missing mcp-session-id header")
		return
	}

	sess, ok := h.store.Get(sessID)
	if !ok {
		h.log.InfoContext(ctx, "session.delete.miss")
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	ctx = logctx.WithSession(ctx, sess, TransportName)

	pvHeader := r.Header.Get(mcpProtocolVersionHeader)
	if pvHeader != "" && sess.ProtocolVersion() != "" && pvHeader != sess.ProtocolVersion() {
		h.log.WarnContext(ctx, "protocol.version.mismatch", slog.String("client_version", pvHeader))
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	sess.Close(sessions.CloseReasonClient)
	h.store.Remove(sessID)

	if sess.ProtocolVersion() != "" {
		w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	}
	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}
