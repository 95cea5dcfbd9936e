package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ggoodman/wordplay-mcp/internal/jsonrpc"
	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/sessions"
)

type echoArgs struct {
	Text string `json:"text"`
}

type waitArgs struct{}

func newTestEngine(t *testing.T, started chan<- struct{}) *Engine {
	t.Helper()
	reg := mcpservice.NewRegistry()
	reg.MustRegister(
		mcpservice.NewTool[echoArgs]("echo", func(ctx context.Context, _ *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[echoArgs]) error {
			return w.AppendText(r.Args().Text)
		}),
		mcpservice.NewTool[waitArgs]("wait", func(ctx context.Context, _ *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[waitArgs]) error {
			if started != nil {
				close(started)
			}
			<-ctx.Done()
			return ctx.Err()
		}),
		mcpservice.NewTool[waitArgs]("boom", func(ctx context.Context, _ *sessions.Session, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[waitArgs]) error {
			return errors.New("kaboom")
		}),
	)
	srv := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "test-server", Version: "0.0.1"}),
		mcpservice.WithInstructions("be nice"),
		mcpservice.WithToolsCapability(reg),
	)
	return NewEngine(srv, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func request(t *testing.T, id any, method string, params any) *jsonrpc.Request {
	t.Helper()
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method}
	if id != nil {
		req.ID = jsonrpc.NewRequestID(id)
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = b
	}
	return req
}

func initialize(t *testing.T, e *Engine, sess *sessions.Session, version string) *mcp.InitializeResult {
	t.Helper()
	resp, err := e.HandleRequest(context.Background(), sess, request(t, 1, "initialize", map[string]any{
		"protocolVersion": version,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "test-client", "version": "1.0.0"},
	}))
	if err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("initialize error: %+v", resp.Error)
	}
	var res mcp.InitializeResult
	if err := json.Unmarshal(resp.Result, &res); err != nil {
		t.Fatalf("decode initialize result: %v", err)
	}
	return &res
}

func TestInitialize(t *testing.T) {
	e := newTestEngine(t, nil)
	sess := sessions.New("")

	res := initialize(t, e, sess, "2025-03-26")
	if res.ProtocolVersion != "2025-03-26" {
		t.Fatalf("protocolVersion = %q, want client's", res.ProtocolVersion)
	}
	if res.ServerInfo.Name != "test-server" || res.Instructions != "be nice" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Capabilities.Tools == nil {
		t.Fatal("tools capability not advertised")
	}
	if sess.State() != sessions.StateActive {
		t.Fatalf("state = %s, want active", sess.State())
	}
	if got := sess.ClientInfo().Name; got != "test-client" {
		t.Fatalf("client name = %q", got)
	}

	resp, err := e.HandleRequest(context.Background(), sess, request(t, 2, "initialize", map[string]any{"protocolVersion": mcp.LatestProtocolVersion}))
	if err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("second initialize error = %+v, want invalid request", resp.Error)
	}
}

func TestInitializeUnknownVersionFallsBack(t *testing.T) {
	e := newTestEngine(t, nil)
	res := initialize(t, e, sessions.New(""), "1999-01-01")
	if res.ProtocolVersion != mcp.LatestProtocolVersion {
		t.Fatalf("protocolVersion = %q, want %q", res.ProtocolVersion, mcp.LatestProtocolVersion)
	}
}

func TestInitializeBadParams(t *testing.T) {
	e := newTestEngine(t, nil)
	sess := sessions.New("")
	req := request(t, 1, "initialize", nil)
	req.Params = json.RawMessage(`"nope"`)
	resp, err := e.HandleRequest(context.Background(), sess, req)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("error = %+v, want invalid params", resp.Error)
	}
	if sess.State() != sessions.StateUninitialized {
		t.Fatalf("state = %s after failed initialize", sess.State())
	}
}

func TestRequestsBeforeInitialize(t *testing.T) {
	e := newTestEngine(t, nil)
	resp, err := e.HandleRequest(context.Background(), sessions.New(""), request(t, 1, "tools/list", nil))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("error = %+v, want invalid request", resp.Error)
	}
}

func TestHandleRequestRouting(t *testing.T) {
	e := newTestEngine(t, nil)
	sess := sessions.New("")
	initialize(t, e, sess, mcp.LatestProtocolVersion)
	ctx := context.Background()

	tests := []struct {
		name     string
		method   string
		params   any
		wantCode jsonrpc.ErrorCode
		check    func(t *testing.T, result json.RawMessage)
	}{
		{name: "ping", method: "ping", check: func(t *testing.T, result json.RawMessage) {
			if string(result) != "{}" {
				t.Fatalf("ping result = %s", result)
			}
		}},
		{name: "list", method: "tools/list", check: func(t *testing.T, result json.RawMessage) {
			var res mcp.ListToolsResult
			if err := json.Unmarshal(result, &res); err != nil {
				t.Fatal(err)
			}
			if len(res.Tools) != 3 {
				t.Fatalf("tools = %+v", res.Tools)
			}
		}},
		{name: "call", method: "tools/call", params: map[string]any{"name": "echo", "arguments": map[string]any{"text": "hi"}}, check: func(t *testing.T, result json.RawMessage) {
			var res mcp.CallToolResult
			if err := json.Unmarshal(result, &res); err != nil {
				t.Fatal(err)
			}
			if res.IsError || len(res.Content) != 1 || res.Content[0].Text != "hi" {
				t.Fatalf("call result = %+v", res)
			}
		}},
		{name: "invalid arguments", method: "tools/call", params: map[string]any{"name": "echo", "arguments": map[string]any{"text": 7}}, check: func(t *testing.T, result json.RawMessage) {
			var res mcp.CallToolResult
			if err := json.Unmarshal(result, &res); err != nil {
				t.Fatal(err)
			}
			if !res.IsError || len(res.Content) < 2 {
				t.Fatalf("call result = %+v, want isError with violations", res)
			}
		}},
		{name: "unknown tool", method: "tools/call", params: map[string]any{"name": "frobnicate"}, wantCode: jsonrpc.ErrorCodeInvalidParams},
		{name: "missing tool name", method: "tools/call", params: map[string]any{}, wantCode: jsonrpc.ErrorCodeInvalidParams},
		{name: "handler failure", method: "tools/call", params: map[string]any{"name": "boom"}, wantCode: jsonrpc.ErrorCodeInternalError},
		{name: "unknown method", method: "resources/list", wantCode: jsonrpc.ErrorCodeMethodNotFound},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := e.HandleRequest(ctx, sess, request(t, i+10, tt.method, tt.params))
			if err != nil {
				t.Fatalf("HandleRequest: %v", err)
			}
			if got := resp.ID.String(); got != jsonrpc.NewRequestID(i+10).String() {
				t.Fatalf("response id = %q", got)
			}
			if tt.wantCode != 0 {
				if resp.Error == nil || resp.Error.Code != tt.wantCode {
					t.Fatalf("error = %+v, want code %d", resp.Error, tt.wantCode)
				}
				return
			}
			if resp.Error != nil {
				t.Fatalf("unexpected error: %+v", resp.Error)
			}
			tt.check(t, resp.Result)
		})
	}
}

func TestUnknownToolErrorData(t *testing.T) {
	e := newTestEngine(t, nil)
	sess := sessions.New("")
	initialize(t, e, sess, mcp.LatestProtocolVersion)

	resp, err := e.HandleRequest(context.Background(), sess, request(t, "x", "tools/call", map[string]any{"name": "frobnicate"}))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	data, ok := resp.Error.Data.(map[string]any)
	if !ok || data["kind"] != "unknown_tool" || data["tool"] != "frobnicate" {
		t.Fatalf("error data = %#v", resp.Error.Data)
	}
}

func TestCancelledNotificationAbortsCall(t *testing.T) {
	started := make(chan struct{})
	e := newTestEngine(t, started)
	sess := sessions.New("")
	initialize(t, e, sess, mcp.LatestProtocolVersion)

	done := make(chan *jsonrpc.Response, 1)
	go func() {
		resp, _ := e.HandleRequest(context.Background(), sess, request(t, 42, "tools/call", map[string]any{"name": "wait"}))
		done <- resp
	}()
	<-started

	note := request(t, nil, "notifications/cancelled", map[string]any{"requestId": 42, "reason": "user"})
	if err := e.HandleNotification(context.Background(), sess, note); err != nil {
		t.Fatalf("HandleNotification: %v", err)
	}

	select {
	case resp := <-done:
		if resp.Error == nil {
			t.Fatalf("cancelled call returned result: %s", resp.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tool call not cancelled")
	}
}

func TestSessionCloseAbortsCall(t *testing.T) {
	started := make(chan struct{})
	e := newTestEngine(t, started)
	sess := sessions.New("")
	initialize(t, e, sess, mcp.LatestProtocolVersion)

	done := make(chan *jsonrpc.Response, 1)
	go func() {
		resp, _ := e.HandleRequest(context.Background(), sess, request(t, "w", "tools/call", map[string]any{"name": "wait"}))
		done <- resp
	}()
	<-started
	sess.Close(sessions.CloseReasonClient)

	select {
	case resp := <-done:
		if resp.Error == nil {
			t.Fatal("call survived session close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tool call not cancelled by session close")
	}

	resp, err := e.HandleRequest(context.Background(), sess, request(t, 5, "ping", nil))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != jsonrpc.ErrorCodeInvalidRequest {
		t.Fatalf("ping on closed session = %+v", resp.Error)
	}
}

func TestHandleMessage(t *testing.T) {
	e := newTestEngine(t, nil)
	sess := sessions.New("")
	ctx := context.Background()

	for _, raw := range []string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{"name":"c","version":"1"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":9,"result":{}}`,
	} {
		msg, err := jsonrpc.Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s): %v", raw, err)
		}
		resp, err := e.HandleMessage(ctx, sess, msg)
		if err != nil {
			t.Fatalf("HandleMessage(%s): %v", raw, err)
		}
		if msg.Kind() == jsonrpc.KindRequest && resp == nil {
			t.Fatalf("no response for request %s", raw)
		}
		if msg.Kind() != jsonrpc.KindRequest && resp != nil {
			t.Fatalf("unexpected response for %s: %+v", raw, resp)
		}
	}
	if sess.State() != sessions.StateActive {
		t.Fatalf("state = %s", sess.State())
	}
}
