package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/ggoodman/wordplay-mcp/internal/engine"
	"github.com/ggoodman/wordplay-mcp/internal/jsonrpc"
	"github.com/ggoodman/wordplay-mcp/internal/logctx"
	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/sessions"
)

// TransportName identifies this transport in logs.
const TransportName = "stdio"

// DefaultMaxMessageSize bounds a single inbound line.
const DefaultMaxMessageSize = 10 << 20

// Handler is a single-connection stdio transport that reads JSON-RPC messages
// from an io.Reader and writes responses to an io.Writer. By default, it uses
// os.Stdin and os.Stdout.
//
// The handler is transport-only; it delegates all MCP semantics to the provided
// mcpservice.ServerCapabilities.
type Handler struct {
	srv     mcpservice.ServerCapabilities
	r       io.Reader
	w       io.Writer
	l       *slog.Logger
	maxLine int

	writeMu sync.Mutex
}

// NewHandler constructs a stdio Handler with defaults and applies options.
func NewHandler(srv mcpservice.ServerCapabilities, opts ...Option) *Handler {
	h := &Handler{
		srv:     srv,
		r:       os.Stdin,
		w:       os.Stdout,
		l:       slog.Default(),
		maxLine: DefaultMaxMessageSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.l = slog.New(logctx.NewHandler(h.l.Handler()))
	return h
}

// Serve runs the stdio event loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Each line is one
// JSON-RPC message. initialize and notifications are handled in arrival
// order; other requests run concurrently and their responses may be written
// in any order.
//
// Serve returns nil on EOF and the context's error on cancellation.
func (h *Handler) Serve(ctx context.Context) error {
	eng := engine.NewEngine(h.srv, engine.WithLogger(h.l))
	sess := sessions.New("")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := h.l.With(slog.String("session_id", sess.ID()), slog.String("transport", TransportName))
	log.InfoContext(ctx, "stdio.serve.start")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go h.readLoop(ctx, lines, readErr)

	var wg sync.WaitGroup
	finish := func(reason string, err error) error {
		sess.Close(reason)
		wg.Wait()
		if err != nil {
			log.ErrorContext(ctx, "stdio.serve.fail", slog.String("reason", reason), slog.String("err", err.Error()))
		} else {
			log.InfoContext(ctx, "stdio.serve.done", slog.String("reason", reason))
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return finish(sessions.CloseReasonShutdown, ctx.Err())
		case line, ok := <-lines:
			if !ok {
				err := <-readErr
				if err != nil {
					err = fmt.Errorf("read: %w", err)
				}
				return finish(sessions.CloseReasonEOF, err)
			}
			h.handleLine(ctx, eng, sess, line, &wg)
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, lines chan<- []byte, errc chan<- error) {
	defer close(lines)
	sc := bufio.NewScanner(h.r)
	sc.Buffer(make([]byte, 0, 64*1024), h.maxLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		select {
		case lines <- cp:
		case <-ctx.Done():
			errc <- nil
			return
		}
	}
	errc <- sc.Err()
}

func (h *Handler) handleLine(ctx context.Context, eng *engine.Engine, sess *sessions.Session, line []byte, wg *sync.WaitGroup) {
	msg, err := jsonrpc.Decode(line)
	if err != nil {
		code, text := jsonrpc.ErrorCodeParseError, "parse error"
		switch {
		case errors.Is(err, jsonrpc.ErrBatchUnsupported):
			code, text = jsonrpc.ErrorCodeInvalidRequest, "batch requests are not supported"
		case json.Valid(line):
			code, text = jsonrpc.ErrorCodeInvalidRequest, "invalid request"
		}
		h.l.InfoContext(ctx, "stdio.decode.fail", slog.String("err", err.Error()))
		h.writeResponse(ctx, jsonrpc.NewErrorResponse(nil, code, text, nil))
		return
	}

	sess.Touch()
	mctx := logctx.WithRPCMessage(logctx.WithSession(ctx, sess, TransportName), &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   string(msg.Kind()),
	})

	if msg.Kind() != jsonrpc.KindRequest || msg.Method == string(mcp.InitializeMethod) {
		h.dispatch(mctx, eng, sess, msg)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.dispatch(mctx, eng, sess, msg)
	}()
}

func (h *Handler) dispatch(ctx context.Context, eng *engine.Engine, sess *sessions.Session, msg *jsonrpc.AnyMessage) {
	resp, err := eng.HandleMessage(ctx, sess, msg)
	if err != nil {
		if msg.Kind() != jsonrpc.KindRequest {
			// Notifications never get a reply.
			return
		}
		h.l.ErrorContext(ctx, "stdio.dispatch.fail", slog.String("err", err.Error()))
		resp = jsonrpc.NewErrorResponse(msg.ID, jsonrpc.ErrorCodeInternalError, "internal error", nil)
	}
	if resp != nil {
		h.writeResponse(ctx, resp)
	}
}

func (h *Handler) writeResponse(ctx context.Context, resp *jsonrpc.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		h.l.ErrorContext(ctx, "stdio.write.marshal_fail", slog.String("err", err.Error()))
		return
	}
	b = append(b, '\n')

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if _, err := h.w.Write(b); err != nil {
		h.l.ErrorContext(ctx, "stdio.write.fail", slog.String("err", err.Error()))
	}
}
