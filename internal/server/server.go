package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/n0madic/go-qwenmock/internal/auth"
	"github.com/n0madic/go-qwenmock/internal/codec"
	"github.com/n0madic/go-qwenmock/internal/config"
	"github.com/n0madic/go-qwenmock/internal/gateway"
	"github.com/n0madic/go-qwenmock/internal/metrics"
	"github.com/n0madic/go-qwenmock/internal/models"
	"github.com/n0madic/go-qwenmock/internal/pool"
	"github.com/n0madic/go-qwenmock/internal/transform"
	"github.com/n0madic/go-qwenmock/internal/upstream"
)

// Version is reported by GET /.
const Version = "1.0.0"

// maxBodyBytes limits the size of incoming request bodies.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MB

// Server is the main HTTP server.
type Server struct {
	Config   *config.ServerConfig
	Pool     *pool.Pool
	Registry *models.Registry
	Gateway  *gateway.Gateway
	Metrics  *metrics.Metrics

	handler    http.Handler
	httpServer *http.Server
	cancelBg   context.CancelFunc
}

// New creates a new server with all routes registered.
func New(cfg *config.ServerConfig) (*Server, error) {
	creds, err := cfg.Credentials()
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	opts := cfg.UpstreamOptions()
	opts.Metrics = m
	p, err := pool.New(creds, func(c auth.Credential) *upstream.Client {
		return upstream.NewClient(c, opts)
	}, pool.WithMetrics(m))
	if err != nil {
		return nil, err
	}
	reg := models.NewRegistry(models.PoolFetcher(p), cfg.ThinkingModels)

	s := &Server{
		Config:   cfg,
		Pool:     p,
		Registry: reg,
		Metrics:  m,
		Gateway: &gateway.Gateway{
			Pool:       p,
			Translator: transform.NewTranslator(),
			Metrics:    m,
			ChatTitle:  cfg.ChatTitle,
			Verbose:    cfg.Verbose,
		},
	}

	// Pre-fetch available models in background
	bgCtx, cancel := context.WithCancel(context.Background())
	s.cancelBg = cancel
	if p.Size() > 0 {
		go func() {
			ctx, cancel := context.WithTimeout(bgCtx, time.Minute)
			defer cancel()
			reg.GetModels(ctx)
			if bgCtx.Err() != nil {
				slog.Debug("background model prefetch cancelled")
			}
		}()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /config", s.handleConfig)
	mux.Handle("GET /metrics", m.Handler())

	// OpenAI-compatible routes
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleListModels)

	// OPTIONS without a CORS preflight
	mux.HandleFunc("OPTIONS /", s.handleOptions)

	s.handler = requestIDMiddleware(metricsMiddleware(m, corsMiddleware(verboseMiddleware(cfg, debugMiddleware(cfg, mux)))))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 600 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe starts the server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancelBg != nil {
		s.cancelBg()
	}
	return s.httpServer.Shutdown(ctx)
}

// --- Route handlers ---

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	rc := &gateway.RequestContext{
		Context:   r.Context(),
		RequestID: upstream.RequestIDFromContext(r.Context()),
	}
	req, err := gateway.DecodeRequest(body)
	if err != nil {
		gerr := gateway.Classify(err)
		slog.Warn("server.request.rejected", "request_id", rc.RequestID, "status", gerr.Status, "error", gerr.Message)
		codec.WriteOpenAIError(w, gerr.Status, gerr.Kind.String(), gerr.Message)
		return
	}
	s.Gateway.Execute(rc, w, req)
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, s.Registry.ModelList(r.Context()))
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Qwen API proxy is running",
		"version": Version,
	})
}

type configResponse struct {
	config.Summary
	Clients int `json:"clients"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	codec.WriteJSON(w, http.StatusOK, configResponse{
		Summary: s.Config.Summary(),
		Clients: s.Pool.ClientCount(),
	})
}

func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("server.request.rejected", "request_id", upstream.RequestIDFromContext(r.Context()), "status", http.StatusBadRequest, "error", err)
		codec.WriteOpenAIError(w, http.StatusBadRequest, gateway.KindBadRequest.String(),
			fmt.Sprintf("Failed to read request body: %v", err))
		return nil, false
	}
	return body, true
}
