package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/n0madic/go-qwenmock/internal/auth"
	"github.com/n0madic/go-qwenmock/internal/pool"
	"github.com/n0madic/go-qwenmock/internal/transform"
	"github.com/n0madic/go-qwenmock/internal/types"
	"github.com/n0madic/go-qwenmock/internal/upstream"
)

// fakeQwen is a scripted upstream recording what the gateway sent.
type fakeQwen struct {
	mu sync.Mutex

	newChatStatus int
	newChatBody   string
	chatStatus    int
	chatBody      string
	streamLines   []string
	abortStream   bool

	newChatAuth []string
	chatIDs     []string
	payloads    []map[string]any
}

func (f *fakeQwen) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v2/chats/new", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.newChatAuth = append(f.newChatAuth, r.Header.Get("Authorization"))
		n := len(f.newChatAuth)
		status, body := f.newChatStatus, f.newChatBody
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		if body == "" {
			body = fmt.Sprintf(`{"success":true,"data":{"id":"chat-%d"}}`, n)
		}
		w.WriteHeader(status)
		io.WriteString(w, body)
	})
	mux.HandleFunc("POST /api/v2/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		f.mu.Lock()
		f.chatIDs = append(f.chatIDs, r.URL.Query().Get("chat_id"))
		f.payloads = append(f.payloads, payload)
		status, body, lines, abort := f.chatStatus, f.chatBody, f.streamLines, f.abortStream
		f.mu.Unlock()

		if status != 0 && status != http.StatusOK {
			w.WriteHeader(status)
			io.WriteString(w, `{"success":false,"data":{"code":"Oops","details":"upstream broke"}}`)
			return
		}
		if stream, _ := payload["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, line := range lines {
				io.WriteString(w, line+"\n\n")
				w.(http.Flusher).Flush()
			}
			if abort {
				panic(http.ErrAbortHandler)
			}
			return
		}
		io.WriteString(w, body)
	})
	return mux
}

func (f *fakeQwen) chatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chatIDs)
}

func newTestGateway(t *testing.T, f *fakeQwen, tokens ...string) *Gateway {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	var creds []auth.Credential
	for _, tok := range tokens {
		c, err := auth.NewCredential(tok, nil)
		if err != nil {
			t.Fatalf("NewCredential: %v", err)
		}
		creds = append(creds, c)
	}
	p, err := pool.New(creds, func(c auth.Credential) *upstream.Client {
		return upstream.NewClient(c, upstream.Options{
			BaseURL:    srv.URL + "/api/v2",
			MaxRetries: 2,
			Sleep:      func(ctx context.Context, d time.Duration) error { return ctx.Err() },
		})
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	n := 0
	return &Gateway{
		Pool: p,
		Translator: &transform.Translator{
			NewID: func() string { n++; return fmt.Sprintf("id-%d", n) },
			Now:   func() time.Time { return time.Unix(1700000000, 0) },
		},
	}
}

func rc() *RequestContext {
	return &RequestContext{Context: context.Background(), RequestID: "req_test"}
}

func chatRequest(model string, stream bool) *types.ChatCompletionRequest {
	return &types.ChatCompletionRequest{
		Model:    model,
		Stream:   stream,
		Messages: []types.ChatMessage{{Role: "user", Content: "hello"}},
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) types.ErrorResponse {
	t.Helper()
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestExecuteBuffered(t *testing.T) {
	f := &fakeQwen{chatBody: `{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hi"}}]}`}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("qwen3-coder-plus-thinking", false))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body %s", rec.Code, rec.Body.String())
	}
	if got := strings.TrimSpace(rec.Body.String()); got != f.chatBody {
		t.Fatalf("body not passed through: %s", got)
	}
	if len(f.chatIDs) != 1 || f.chatIDs[0] != "chat-1" {
		t.Fatalf("chat ids: %v", f.chatIDs)
	}
	p := f.payloads[0]
	if p["model"] != "qwen3-coder-plus" || p["chat_id"] != "chat-1" || p["stream"] != false {
		t.Fatalf("payload: %v", p)
	}
	msgs, _ := p["messages"].([]any)
	fc := msgs[0].(map[string]any)["feature_config"].(map[string]any)
	if fc["thinking_enabled"] != true {
		t.Fatalf("thinking not propagated: %v", fc)
	}
}

func TestExecuteStreaming(t *testing.T) {
	f := &fakeQwen{streamLines: []string{`data: {"choices":[{"delta":{"content":"a"}}]}`, `data: {"choices":[{"delta":{"content":"b"}}]}`}}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("qwen3-coder-plus", true))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream; charset=utf-8" {
		t.Fatalf("content type: %q", ct)
	}
	want := f.streamLines[0] + "\n\n" + f.streamLines[1] + "\n\n" + "data: [DONE]\n\n"
	if rec.Body.String() != want {
		t.Fatalf("body:\n%q\nwant:\n%q", rec.Body.String(), want)
	}
}

func TestExecuteStreamingMidStreamFailure(t *testing.T) {
	f := &fakeQwen{streamLines: []string{`data: {"n":1}`}, abortStream: true}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("m", true))

	body := rec.Body.String()
	if !strings.HasPrefix(body, "data: {\"n\":1}\n\n") {
		t.Fatalf("first frame missing: %q", body)
	}
	if !strings.Contains(body, `data: {"error": "`) {
		t.Fatalf("missing error event: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("missing terminal sentinel: %q", body)
	}
}

func TestExecuteEmptyPool(t *testing.T) {
	f := &fakeQwen{}
	g := newTestGateway(t, f)

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("m", false))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d want 503", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Type != "pool_unavailable" {
		t.Fatalf("type: %q", resp.Error.Type)
	}
	if len(f.newChatAuth) != 0 {
		t.Fatal("no upstream call expected")
	}
}

func TestExecuteBadRequest(t *testing.T) {
	for name, req := range map[string]*types.ChatCompletionRequest{
		"no model":    {Messages: []types.ChatMessage{{Content: "x"}}},
		"no messages": {Model: "m"},
	} {
		t.Run(name, func(t *testing.T) {
			f := &fakeQwen{}
			g := newTestGateway(t, f, "tok-A")
			rec := httptest.NewRecorder()
			g.Execute(rc(), rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d want 400", rec.Code)
			}
			if len(f.newChatAuth) != 0 {
				t.Fatal("no upstream call expected")
			}
		})
	}
}

func TestExecuteFailureLoggedOnce(t *testing.T) {
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	g := newTestGateway(t, &fakeQwen{}, "tok-A")
	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, &types.ChatCompletionRequest{Model: "m"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want 400", rec.Code)
	}

	var failed int
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line %q: %v", line, err)
		}
		if entry.Level == "ERROR" {
			t.Fatalf("unexpected error-level log: %s", line)
		}
		if entry.Msg == "gateway.request.failed" {
			failed++
			if entry.Level != "WARN" {
				t.Fatalf("level: got %s want WARN", entry.Level)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("gateway.request.failed logged %d times, want 1\n%s", failed, buf.String())
	}
}

func TestExecuteConversationWithoutIDIsProtocolViolation(t *testing.T) {
	f := &fakeQwen{newChatBody: `{"success":true,"data":{}}`}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("m", false))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status: got %d want 500", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Error.Type != "upstream_protocol_error" {
		t.Fatalf("type: %q", resp.Error.Type)
	}
	if f.chatCalls() != 0 {
		t.Fatal("chat must not be dispatched without a conversation id")
	}
}

func TestExecuteUpstreamRejectsCredential(t *testing.T) {
	f := &fakeQwen{newChatStatus: http.StatusUnauthorized, newChatBody: `{"success":false,"data":{"code":"Unauthorized","details":"token expired"}}`}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("m", false))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d want 502", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error.Type != "upstream_error" || !strings.Contains(resp.Error.Message, "token expired") {
		t.Fatalf("error: %+v", resp.Error)
	}
	if len(f.newChatAuth) != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", len(f.newChatAuth))
	}
}

func TestExecuteTransientExhausted(t *testing.T) {
	f := &fakeQwen{chatStatus: http.StatusServiceUnavailable}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("m", false))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d want 502", rec.Code)
	}
	if f.chatCalls() != 3 {
		t.Fatalf("attempts: got %d want 3", f.chatCalls())
	}
}

func TestExecuteStreamStartFailureIsNotRetried(t *testing.T) {
	f := &fakeQwen{chatStatus: http.StatusInternalServerError}
	g := newTestGateway(t, f, "tok-A")

	rec := httptest.NewRecorder()
	g.Execute(rc(), rec, chatRequest("m", true))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d want 502", rec.Code)
	}
	if f.chatCalls() != 1 {
		t.Fatalf("attempts: got %d want 1", f.chatCalls())
	}
}

func TestExecuteRotatesCredentials(t *testing.T) {
	f := &fakeQwen{chatBody: `{"choices":[]}`}
	g := newTestGateway(t, f, "tok-A", "tok-B")

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		g.Execute(rc(), rec, chatRequest("m", false))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	want := []string{"Bearer tok-A", "Bearer tok-B", "Bearer tok-A"}
	for i := range want {
		if f.newChatAuth[i] != want[i] {
			t.Fatalf("auth order: got %v want %v", f.newChatAuth, want)
		}
	}
	if g.Pool.ClientCount() != 2 {
		t.Fatalf("ClientCount: got %d want 2", g.Pool.ClientCount())
	}
}

func TestDispatchFreshConversationPerRequest(t *testing.T) {
	f := &fakeQwen{chatBody: `{"choices":[]}`}
	g := newTestGateway(t, f, "tok-A")

	a, err := g.Dispatch(rc(), chatRequest("m", false))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	b, err := g.Dispatch(rc(), chatRequest("m", false))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if a.ChatID == b.ChatID {
		t.Fatalf("conversation reused: %q", a.ChatID)
	}
}

func TestExecuteCanceledWritesNothing(t *testing.T) {
	f := &fakeQwen{}
	g := newTestGateway(t, f, "tok-A")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	g.Execute(&RequestContext{Context: ctx, RequestID: "r"}, rec, chatRequest("m", false))
	if rec.Body.Len() != 0 {
		t.Fatalf("expected no body for a canceled request, got %q", rec.Body.String())
	}
}

func TestDecodeRequest(t *testing.T) {
	if _, err := DecodeRequest([]byte(`{"model":`)); err == nil {
		t.Fatal("expected error")
	} else {
		var gerr *Error
		if !errors.As(err, &gerr) || gerr.Status != http.StatusBadRequest {
			t.Fatalf("expected 400 Error, got %v", err)
		}
	}
	req, err := DecodeRequest([]byte(`{"model":"m","messages":[{"content":"x"}],"thinking_mode":{"enabled":true}}`))
	if err != nil || req.Model != "m" || len(req.ThinkingMode) == 0 {
		t.Fatalf("DecodeRequest: %+v %v", req, err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"missing model", transform.ErrMissingModel, KindBadRequest, 400},
		{"pool empty", pool.ErrPoolUnavailable, KindPoolUnavailable, 503},
		{"all unhealthy", pool.ErrAllClientsUnavailable, KindAllClientsUnavailable, 503},
		{"protocol", &upstream.ProtocolError{Operation: "chats/new", Reason: "x"}, KindProtocolViolation, 500},
		{"rate limited", &upstream.UpstreamError{StatusCode: 429}, KindUpstreamTransient, 429},
		{"server error", &upstream.UpstreamError{StatusCode: 500}, KindUpstreamTransient, 502},
		{"forbidden", &upstream.UpstreamError{StatusCode: 403}, KindUpstreamFatal, 502},
		{"not found", &upstream.UpstreamError{StatusCode: 404}, KindUpstreamFatal, 404},
		{"exhausted", upstream.ErrRetriesExhausted, KindUpstreamTransient, 502},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), KindCanceled, 499},
		{"deadline", context.DeadlineExceeded, KindUpstreamTransient, 504},
		{"stream idle", fmt.Errorf("%w: no response headers within 1s", upstream.ErrStreamIdle), KindUpstreamTransient, 504},
		{"other", errors.New("boom"), KindInternal, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.kind || got.Status != tt.status {
				t.Fatalf("Classify: got %s/%d want %s/%d", got.Kind, got.Status, tt.kind, tt.status)
			}
			if !errors.Is(got, tt.err) {
				t.Fatal("classified error should wrap the cause")
			}
		})
	}
	if Classify(nil) != nil {
		t.Fatal("Classify(nil) should be nil")
	}
}
