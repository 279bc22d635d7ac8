package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/n0madic/go-qwenmock/internal/codec"
	"github.com/n0madic/go-qwenmock/internal/metrics"
	"github.com/n0madic/go-qwenmock/internal/pool"
	"github.com/n0madic/go-qwenmock/internal/sse"
	"github.com/n0madic/go-qwenmock/internal/transform"
	"github.com/n0madic/go-qwenmock/internal/types"
	"github.com/n0madic/go-qwenmock/internal/upstream"
)

// RequestContext carries per-request data through the gateway.
type RequestContext struct {
	Context   context.Context
	RequestID string
}

// state is a step of one chat request. Every request moves forward through
// these in order and never revisits a step.
type state int

const (
	stateSelectClient state = iota
	stateCreateConversation
	stateDispatch
	stateBuffered
	stateStreaming
	stateDone
)

func (s state) String() string {
	switch s {
	case stateSelectClient:
		return "select_client"
	case stateCreateConversation:
		return "create_conversation"
	case stateDispatch:
		return "dispatch"
	case stateBuffered:
		return "buffered"
	case stateStreaming:
		return "streaming"
	default:
		return "done"
	}
}

// Gateway turns OpenAI chat requests into upstream conversations.
type Gateway struct {
	Pool       *pool.Pool
	Translator *transform.Translator
	Metrics    *metrics.Metrics
	ChatTitle  string
	Verbose    bool
}

// Result is a dispatched request ready to be written. Exactly one of Stream
// and Completion is set.
type Result struct {
	ChatID     string
	Model      string
	Stream     *upstream.LineStream
	Completion *upstream.ChatCompletion
}

// DecodeRequest parses an inbound request body.
func DecodeRequest(body []byte) (*types.ChatCompletionRequest, error) {
	var req types.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, badRequest("Invalid JSON body")
	}
	return &req, nil
}

// Dispatch runs a request up to the point where the upstream answered. Errors
// are always *Error. A returned Stream must be closed by the caller.
func (g *Gateway) Dispatch(rc *RequestContext, in *types.ChatCompletionRequest) (*Result, error) {
	req, err := transform.Normalize(in)
	if err != nil {
		return nil, Classify(err)
	}
	ctx := upstream.ContextWithRequestID(rc.Context, rc.RequestID)

	g.enter(rc, stateSelectClient, "model", req.Model, "stream", req.Stream)
	client, err := g.Pool.SelectNext(ctx)
	if err != nil {
		return nil, Classify(err)
	}

	g.enter(rc, stateCreateConversation, "credential", client.Credential(), "base_model", req.BaseModel)
	handle, err := client.CreateConversation(ctx, req.BaseModel, g.ChatTitle)
	if err != nil {
		return nil, Classify(err)
	}

	g.enter(rc, stateDispatch, "chat_id", handle.ID,
		"thinking", req.Thinking.Enabled,
		"thinking_depth", req.Thinking.Depth,
		"messages", len(req.Messages),
	)
	payload := g.translator().Build(req, handle.ID)

	res := &Result{ChatID: handle.ID, Model: req.Model}
	if req.Stream {
		ls, err := client.StreamCompletion(ctx, handle.ID, payload)
		if err != nil {
			return nil, Classify(err)
		}
		res.Stream = ls
		return res, nil
	}
	cc, err := client.Complete(ctx, handle.ID, payload)
	if err != nil {
		return nil, Classify(err)
	}
	res.Completion = &cc
	return res, nil
}

// Execute dispatches a request and writes the response to w.
func (g *Gateway) Execute(rc *RequestContext, w http.ResponseWriter, in *types.ChatCompletionRequest) {
	start := time.Now()
	mode := "buffered"
	if in != nil && in.Stream {
		mode = "stream"
	}

	res, err := g.Dispatch(rc, in)
	if err != nil {
		g.fail(rc, w, mode, err)
		return
	}

	if res.Stream != nil {
		defer res.Stream.Close()
		g.enter(rc, stateStreaming, "chat_id", res.ChatID)
		codec.WriteStreamHeaders(w)
		out := sse.Relay(w, res.Stream)
		g.Metrics.ObserveStream(out.Lines, out.UpstreamErr != nil)

		outcome := "ok"
		switch {
		case out.WriteErr != nil:
			outcome = KindCanceled.String()
			slog.Info("gateway.stream.caller_gone", "request_id", rc.RequestID, "lines", out.Lines, "error", out.WriteErr)
		case out.UpstreamErr != nil:
			outcome = "stream_error"
			slog.Warn("gateway.stream.failed", "request_id", rc.RequestID, "lines", out.Lines, "error", out.UpstreamErr)
		}
		g.Metrics.ObserveChat(mode, outcome)
		g.enter(rc, stateDone, "lines", out.Lines, "duration", time.Since(start))
		return
	}

	g.enter(rc, stateBuffered, "chat_id", res.ChatID, "degraded", res.Completion.Degraded)
	codec.WriteChatCompletion(w, res.Completion.Body)
	g.Metrics.ObserveChat(mode, "ok")
	g.enter(rc, stateDone, "duration", time.Since(start))
}

func (g *Gateway) fail(rc *RequestContext, w http.ResponseWriter, mode string, err error) {
	gerr := Classify(err)
	g.Metrics.ObserveChat(mode, gerr.Kind.String())
	if gerr.Kind == KindCanceled || errors.Is(rc.Context.Err(), context.Canceled) {
		slog.Info("gateway.request.canceled", "request_id", rc.RequestID)
		return
	}
	slog.Warn("gateway.request.failed",
		"request_id", rc.RequestID,
		"kind", gerr.Kind.String(),
		"status", gerr.Status,
		"error", gerr.Message,
	)
	codec.WriteOpenAIError(w, gerr.Status, gerr.Kind.String(), gerr.Message)
}

func (g *Gateway) enter(rc *RequestContext, s state, attrs ...any) {
	if !g.Verbose && !slog.Default().Enabled(rc.Context, slog.LevelDebug) {
		return
	}
	args := append([]any{"request_id", rc.RequestID, "state", s.String()}, attrs...)
	if g.Verbose {
		slog.Info("gateway.state", args...)
		return
	}
	slog.Debug("gateway.state", args...)
}

func (g *Gateway) translator() *transform.Translator {
	if g.Translator == nil {
		return transform.NewTranslator()
	}
	return g.Translator
}
