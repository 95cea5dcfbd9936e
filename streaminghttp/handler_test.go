package streaminghttp_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/wordplay-mcp/internal/jsonrpc"
	"github.com/ggoodman/wordplay-mcp/lexicon"
	"github.com/ggoodman/wordplay-mcp/mcp"
	"github.com/ggoodman/wordplay-mcp/mcpservice"
	"github.com/ggoodman/wordplay-mcp/sessions"
	"github.com/ggoodman/wordplay-mcp/sessions/memorystore"
	"github.com/ggoodman/wordplay-mcp/streaminghttp"
	"github.com/ggoodman/wordplay-mcp/wordtools"
)

const (
	acceptBoth = "application/json, text/event-stream"
	acceptSSE  = "text/event-stream"
)

type sseEvent struct {
	id    string
	event string
	data  []byte
}

type testEnv struct {
	srv   *httptest.Server
	store *memorystore.Store
}

type envOption func(*envConfig)

type envConfig struct {
	storeOpts   []memorystore.Option
	handlerOpts []streaminghttp.Option
}

func withStoreOptions(opts ...memorystore.Option) envOption {
	return func(c *envConfig) { c.storeOpts = append(c.storeOpts, opts...) }
}

func withHandlerOptions(opts ...streaminghttp.Option) envOption {
	return func(c *envConfig) { c.handlerOpts = append(c.handlerOpts, opts...) }
}

func newTestServer(t *testing.T, options ...envOption) *testEnv {
	t.Helper()
	var cfg envConfig
	for _, opt := range options {
		opt(&cfg)
	}

	log := slog.New(testLogHandler(t))

	reg := mcpservice.NewRegistry()
	if err := wordtools.Register(reg, lexicon.Map{"cat": "🐱", "dog": "🐶"}); err != nil {
		t.Fatalf("register tools: %v", err)
	}
	server := mcpservice.NewServer(
		mcpservice.WithServerInfo(mcp.ImplementationInfo{Name: "wordplay-test", Version: "0.0.1"}),
		mcpservice.WithToolsCapability(reg),
	)

	store := memorystore.New(append([]memorystore.Option{memorystore.WithLogger(log)}, cfg.storeOpts...)...)
	h, err := streaminghttp.New(store, server, append([]streaminghttp.Option{streaminghttp.WithLogger(log)}, cfg.handlerOpts...)...)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	srv := httptest.NewServer(streaminghttp.NewRouter(h))
	t.Cleanup(func() {
		// Closing sessions first ends any open GET streams.
		store.CloseAll(sessions.CloseReasonShutdown)
		srv.Close()
	})
	return &testEnv{srv: srv, store: store}
}

func initializeRequest(id any) *jsonrpc.Request {
	return &jsonrpc.Request{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.InitializeMethod),
		Params: mustJSON(mcp.InitializeRequest{
			ProtocolVersion: "2025-06-18",
			ClientInfo:      mcp.ImplementationInfo{Name: "test-client", Version: "1.0.0"},
		}),
		ID: jsonrpc.NewRequestID(id),
	}
}

func rpcRequest(id any, method string, params any) *jsonrpc.Request {
	req := &jsonrpc.Request{JSONRPCVersion: jsonrpc.ProtocolVersion, Method: method}
	if id != nil {
		req.ID = jsonrpc.NewRequestID(id)
	}
	if params != nil {
		req.Params = mustJSON(params)
	}
	return req
}

func doPost(t *testing.T, env *testEnv, sessionID, accept string, body []byte) *http.Response {
	t.Helper()
	httpReq, err := http.NewRequest(http.MethodPost, env.srv.URL+"/mcp", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if accept != "" {
		httpReq.Header.Set("Accept", accept)
	}
	if sessionID != "" {
		httpReq.Header.Set("mcp-session-id", sessionID)
	}
	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// mustPostMCP posts req and returns the decoded JSON-RPC response, reading
// one SSE event when the server chose an event stream.
func mustPostMCP(t *testing.T, env *testEnv, sessionID string, req *jsonrpc.Request) (*http.Response, *jsonrpc.Response) {
	t.Helper()
	return postAccept(t, env, sessionID, acceptBoth, req)
}

func postAccept(t *testing.T, env *testEnv, sessionID, accept string, req *jsonrpc.Request) (*http.Response, *jsonrpc.Response) {
	t.Helper()
	resp := doPost(t, env, sessionID, accept, mustJSON(req))
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var data []byte
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		evt, err := readOneSSE(resp.Body)
		if err != nil {
			t.Fatalf("read sse: %v", err)
		}
		data = evt.data
	} else {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		data = b
	}
	var res jsonrpc.Response
	mustUnmarshalJSON(t, data, &res)
	return resp, &res
}

func mustInitialize(t *testing.T, env *testEnv) string {
	t.Helper()
	resp, res := mustPostMCP(t, env, "", initializeRequest("init"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize status = %d", resp.StatusCode)
	}
	if res.Error != nil {
		t.Fatalf("initialize error: %+v", res.Error)
	}
	sessID := resp.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		t.Fatal("missing mcp-session-id header")
	}
	return sessID
}

func TestInitialize(t *testing.T) {
	env := newTestServer(t)

	resp, res := mustPostMCP(t, env, "", initializeRequest("1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content-type = %q, want JSON", ct)
	}
	if resp.Header.Get("Mcp-Session-Id") == "" {
		t.Fatal("missing mcp-session-id header")
	}
	if got := resp.Header.Get("Mcp-Protocol-Version"); got != "2025-06-18" {
		t.Fatalf("protocol version header = %q", got)
	}

	var initRes mcp.InitializeResult
	mustUnmarshalJSON(t, res.Result, &initRes)
	if initRes.ServerInfo.Name != "wordplay-test" || initRes.Capabilities.Tools == nil {
		t.Fatalf("initialize result = %+v", initRes)
	}

	sess, ok := env.store.Get(resp.Header.Get("Mcp-Session-Id"))
	if !ok {
		t.Fatal("session not registered")
	}
	if sess.State() != sessions.StateActive {
		t.Fatalf("state = %s, want active", sess.State())
	}
}

func TestInitializeSSEOnly(t *testing.T) {
	env := newTestServer(t)
	resp, res := postAccept(t, env, "", acceptSSE, initializeRequest(1))
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q, want event stream", ct)
	}
	if res.Error != nil || len(res.Result) == 0 {
		t.Fatalf("initialize response = %+v", res)
	}
}

func TestInitializeBadParams(t *testing.T) {
	env := newTestServer(t)
	req := initializeRequest(1)
	req.Params = json.RawMessage(`[1,2]`)
	resp := doPost(t, env, "", acceptBoth, mustJSON(req))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if resp.Header.Get("Mcp-Session-Id") != "" {
		t.Fatal("failed initialize must not issue a session")
	}
	if n := env.store.Len(); n != 0 {
		t.Fatalf("store holds %d sessions after failed initialize", n)
	}
}

func TestSessionReuse(t *testing.T) {
	env := newTestServer(t)
	first := mustInitialize(t, env)

	for i := 0; i < 3; i++ {
		resp, res := mustPostMCP(t, env, first, rpcRequest(i, "ping", nil))
		if resp.StatusCode != http.StatusOK || res.Error != nil {
			t.Fatalf("ping %d: status=%d err=%+v", i, resp.StatusCode, res.Error)
		}
	}
	if n := env.store.Len(); n != 1 {
		t.Fatalf("store len = %d after reusing one session, want 1", n)
	}

	second := mustInitialize(t, env)
	if second == first {
		t.Fatal("second initialize reused the first session id")
	}
	if n := env.store.Len(); n != 2 {
		t.Fatalf("store len = %d, want 2", n)
	}
}

func TestToolsOverHTTP(t *testing.T) {
	env := newTestServer(t)
	sessID := mustInitialize(t, env)

	resp := doPost(t, env, sessID, acceptBoth, mustJSON(rpcRequest(nil, string(mcp.InitializedNotificationMethod), nil)))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initialized notification status = %d, want 202", resp.StatusCode)
	}

	_, res := mustPostMCP(t, env, sessID, rpcRequest("list", "tools/list", nil))
	var list mcp.ListToolsResult
	mustUnmarshalJSON(t, res.Result, &list)
	if len(list.Tools) != 3 {
		t.Fatalf("tools = %+v", list.Tools)
	}

	_, res = mustPostMCP(t, env, sessID, rpcRequest("call", "tools/call", map[string]any{
		"name":      wordtools.EmojifyTool,
		"arguments": map[string]any{"text": "cat and dog"},
	}))
	var call mcp.CallToolResult
	mustUnmarshalJSON(t, res.Result, &call)
	if len(call.Content) != 1 || call.Content[0].Text != "cat🐱 and dog🐶" {
		t.Fatalf("emojify result = %+v", call)
	}

	_, res = mustPostMCP(t, env, sessID, rpcRequest("bad", "tools/call", map[string]any{"name": "frobnicate"}))
	if res.Error == nil || res.Error.Code != jsonrpc.ErrorCodeInvalidParams {
		t.Fatalf("unknown tool error = %+v", res.Error)
	}
	if res.ID.String() != "bad" {
		t.Fatalf("error id = %q", res.ID.String())
	}
}

func TestPostRejections(t *testing.T) {
	env := newTestServer(t)
	sessID := mustInitialize(t, env)

	tests := []struct {
		name        string
		sessionID   string
		contentType string
		protocol    string
		body        string
		wantStatus  int
		wantRPCCode jsonrpc.ErrorCode
	}{
		{name: "missing session", body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantStatus: http.StatusBadRequest},
		{name: "unknown session", sessionID: "nope", body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantStatus: http.StatusNotFound},
		{name: "reinitialize", sessionID: sessID, body: string(mustJSON(initializeRequest(2))), wantStatus: http.StatusConflict},
		{name: "protocol mismatch", sessionID: sessID, protocol: "2024-11-05", body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantStatus: http.StatusBadRequest},
		{name: "content type", sessionID: sessID, contentType: "text/plain", body: `{"jsonrpc":"2.0","id":1,"method":"ping"}`, wantStatus: http.StatusUnsupportedMediaType},
		{name: "batch", sessionID: sessID, body: `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`, wantStatus: http.StatusBadRequest, wantRPCCode: jsonrpc.ErrorCodeInvalidRequest},
		{name: "parse error", sessionID: sessID, body: `{"jsonrpc":`, wantStatus: http.StatusBadRequest, wantRPCCode: jsonrpc.ErrorCodeParseError},
		{name: "not json-rpc", sessionID: sessID, body: `{"hello":"world"}`, wantStatus: http.StatusBadRequest, wantRPCCode: jsonrpc.ErrorCodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpReq, err := http.NewRequest(http.MethodPost, env.srv.URL+"/mcp", strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			ct := tt.contentType
			if ct == "" {
				ct = "application/json"
			}
			httpReq.Header.Set("Content-Type", ct)
			httpReq.Header.Set("Accept", acceptBoth)
			if tt.sessionID != "" {
				httpReq.Header.Set("Mcp-Session-Id", tt.sessionID)
			}
			if tt.protocol != "" {
				httpReq.Header.Set("Mcp-Protocol-Version", tt.protocol)
			}
			resp, err := http.DefaultClient.Do(httpReq)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantRPCCode != 0 {
				var res jsonrpc.Response
				body, _ := io.ReadAll(resp.Body)
				mustUnmarshalJSON(t, body, &res)
				if res.Error == nil || res.Error.Code != tt.wantRPCCode {
					t.Fatalf("rpc error = %+v, want code %d", res.Error, tt.wantRPCCode)
				}
				if !res.ID.IsNil() {
					t.Fatalf("rpc error id = %v, want null", res.ID.Value())
				}
			}
		})
	}
}

func TestUnknownSessionInitializeCreatesSession(t *testing.T) {
	env := newTestServer(t)
	resp, res := mustPostMCP(t, env, "stale-session-id", initializeRequest(1))
	if resp.StatusCode != http.StatusOK || res.Error != nil {
		t.Fatalf("status=%d err=%+v", resp.StatusCode, res.Error)
	}
	if got := resp.Header.Get("Mcp-Session-Id"); got == "" || got == "stale-session-id" {
		t.Fatalf("session id = %q, want a fresh id", got)
	}
}

func TestDeleteSession(t *testing.T) {
	env := newTestServer(t)
	sessID := mustInitialize(t, env)
	sess, _ := env.store.Get(sessID)

	del := func() int {
		req, err := http.NewRequest(http.MethodDelete, env.srv.URL+"/mcp", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Mcp-Session-Id", sessID)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := del(); got != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", got)
	}
	if sess.State() != sessions.StateClosed {
		t.Fatalf("state = %s, want closed", sess.State())
	}
	if _, ok := env.store.Get(sessID); ok {
		t.Fatal("session still registered after delete")
	}
	if got := del(); got != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", got)
	}
	resp := doPost(t, env, sessID, acceptBoth, mustJSON(rpcRequest(1, "ping", nil)))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("post after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestGetStream(t *testing.T) {
	env := newTestServer(t, withHandlerOptions(streaminghttp.WithKeepAliveInterval(10*time.Millisecond)))
	sessID := mustInitialize(t, env)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/mcp", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", acceptSSE)
	req.Header.Set("Mcp-Session-Id", sessID)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Mcp-Protocol-Version"); got != "2025-06-18" {
		t.Fatalf("protocol version header = %q", got)
	}

	br := bufio.NewReader(resp.Body)
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("read keep-alive: %v", err)
	}
	if !strings.HasPrefix(line, ": keep-alive") {
		t.Fatalf("first line = %q, want keep-alive comment", line)
	}

	sess, _ := env.store.Get(sessID)
	sess.Close(sessions.CloseReasonClient)

	done := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, br)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after session close")
	}
}

func TestGetStreamRejections(t *testing.T) {
	env := newTestServer(t)

	get := func(sessID, accept string) int {
		req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/mcp", nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Accept", accept)
		if sessID != "" {
			req.Header.Set("Mcp-Session-Id", sessID)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("", acceptSSE); got != http.StatusBadRequest {
		t.Fatalf("missing session status = %d", got)
	}
	if got := get("unknown", acceptSSE); got != http.StatusNotFound {
		t.Fatalf("unknown session status = %d", got)
	}
	if got := get("unknown", "application/json"); got != http.StatusNotAcceptable {
		t.Fatalf("wrong accept status = %d", got)
	}
}

func TestStatusAndCORS(t *testing.T) {
	env := newTestServer(t)

	resp, err := http.Get(env.srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var status streaminghttp.Status
	body, _ := io.ReadAll(resp.Body)
	mustUnmarshalJSON(t, body, &status)
	want := streaminghttp.Status{Status: "ok", Message: "MCP Server running", Endpoint: "/mcp"}
	if status != want {
		t.Fatalf("status = %+v, want %+v", status, want)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-origin = %q", got)
	}

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/mcp", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	pre, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	pre.Body.Close()
	if pre.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", pre.StatusCode)
	}
	for _, h := range []string{"Mcp-Session-Id", "Mcp-Protocol-Version", "Content-Type"} {
		if !strings.Contains(pre.Header.Get("Access-Control-Allow-Headers"), h) {
			t.Fatalf("allow-headers %q missing %s", pre.Header.Get("Access-Control-Allow-Headers"), h)
		}
	}
	if !strings.Contains(pre.Header.Get("Access-Control-Expose-Headers"), "Mcp-Session-Id") {
		t.Fatalf("expose-headers = %q", pre.Header.Get("Access-Control-Expose-Headers"))
	}
	for _, m := range []string{"GET", "POST", "OPTIONS"} {
		if !strings.Contains(pre.Header.Get("Access-Control-Allow-Methods"), m) {
			t.Fatalf("allow-methods %q missing %s", pre.Header.Get("Access-Control-Allow-Methods"), m)
		}
	}
}

func TestEvictedSessionIsGone(t *testing.T) {
	env := newTestServer(t, withStoreOptions(memorystore.WithCapacity(1)))
	first := mustInitialize(t, env)
	mustInitialize(t, env)

	resp := doPost(t, env, first, acceptBoth, mustJSON(rpcRequest(1, "ping", nil)))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("evicted session status = %d, want 404", resp.StatusCode)
	}
}

func readOneSSE(r io.Reader) (sseEvent, error) {
	br := bufio.NewReader(r)
	var (
		event   sseEvent
		dataBuf bytes.Buffer
	)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return sseEvent{}, io.ErrUnexpectedEOF
			}
			return sseEvent{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if dataBuf.Len() > 0 {
				event.data = append([]byte(nil), dataBuf.Bytes()...)
				return event, nil
			}
			continue
		}
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "id: "):
			event.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
		}
	}
}

func mustUnmarshalJSON[T any](t *testing.T, data []byte, v *T) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal json: %v\ninput: %s", err, string(data))
	}
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// logBridge forwards slog output to t.Log until the test finishes. Session
// close hooks may log from background goroutines after that point.
type logBridge struct {
	slog.Handler
	t    testing.TB
	buf  *bytes.Buffer
	mu   *sync.Mutex
	done *bool
}

func (b *logBridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.Handler.Handle(ctx, rec); err != nil {
		return err
	}
	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}
	if *b.done {
		return nil
	}
	b.t.Helper()
	b.t.Log(string(bytes.TrimSuffix(output, []byte("\n"))))
	return nil
}

func (b *logBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithAttrs(attrs)}
}

func (b *logBridge) WithGroup(name string) slog.Handler {
	return &logBridge{t: b.t, buf: b.buf, mu: b.mu, done: b.done, Handler: b.Handler.WithGroup(name)}
}

func testLogHandler(t *testing.T) *logBridge {
	b := &logBridge{t: t, buf: &bytes.Buffer{}, mu: &sync.Mutex{}, done: new(bool)}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	t.Cleanup(func() {
		b.mu.Lock()
		*b.done = true
		b.mu.Unlock()
	})
	return b
}
