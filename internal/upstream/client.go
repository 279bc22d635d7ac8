package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/n0madic/go-qwenmock/internal/auth"
	"github.com/n0madic/go-qwenmock/internal/metrics"
)

const (
	DefaultBaseURL           = "https://chat.qwen.ai/api/v2"
	DefaultSource            = "web"
	DefaultMaxRetries        = 3
	DefaultTimeout           = 30 * time.Second
	DefaultStreamIdleTimeout = 5 * time.Minute
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"
)

// maxResponseBytes caps buffered upstream bodies.
const maxResponseBytes = 16 * 1024 * 1024 // 16 MB

// Options configures a Client. Zero durations fall back to the defaults;
// MaxRetries is used as given.
type Options struct {
	BaseURL           string
	Source            string
	BXVersion         string
	Timezone          string
	UserAgent         string
	Timeout           time.Duration
	StreamIdleTimeout time.Duration
	MaxRetries        int

	// Transport is the base round tripper under the bearer-token layer.
	Transport http.RoundTripper
	// Sleep waits between retry attempts; it must return early with the
	// context error when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time

	Metrics *metrics.Metrics
	Verbose bool
	Debug   bool
}

// Response is a fully buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client talks to the Qwen chat API with one credential. The header set is
// fixed at construction and cloned into every request.
type Client struct {
	cred        auth.Credential
	baseURL     string
	basePath    string
	header      http.Header
	http        *http.Client
	stream      *http.Client
	maxRetries  int
	idleTimeout time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
	metrics     *metrics.Metrics

	Verbose bool
	Debug   bool
	dumpMu  sync.Mutex
}

// NewClient creates a client bound to cred.
func NewClient(cred auth.Credential, opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	idle := opts.StreamIdleTimeout
	if idle <= 0 {
		idle = DefaultStreamIdleTimeout
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	transport := &oauth2.Transport{Source: cred.TokenSource(), Base: base}

	c := &Client{
		cred:        cred,
		baseURL:     baseURL,
		header:      buildHeaders(cred, baseURL, opts),
		http:        &http.Client{Timeout: timeout, Transport: transport},
		stream:      &http.Client{Transport: transport},
		maxRetries:  opts.MaxRetries,
		idleTimeout: idle,
		sleep:       opts.Sleep,
		now:         opts.Now,
		metrics:     opts.Metrics,
		Verbose:     opts.Verbose,
		Debug:       opts.Debug,
	}
	if u, err := url.Parse(baseURL); err == nil {
		c.basePath = strings.TrimRight(u.Path, "/")
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Credential returns the credential this client is bound to.
func (c *Client) Credential() auth.Credential { return c.cred }

// BaseURL returns the upstream API root without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

func buildHeaders(cred auth.Credential, baseURL string, opts Options) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json; charset=UTF-8")
	h.Set("Accept", "application/json")
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = DefaultUserAgent
	}
	h.Set("User-Agent", ua)
	source := strings.TrimSpace(opts.Source)
	if source == "" {
		source = DefaultSource
	}
	h.Set("source", source)
	if origin := originOf(baseURL); origin != "" {
		h.Set("Origin", origin)
		h.Set("Referer", origin+"/")
	}
	if v := strings.TrimSpace(opts.BXVersion); v != "" {
		h.Set("bx-v", v)
	}
	if v := strings.TrimSpace(opts.Timezone); v != "" {
		h.Set("timezone", v)
	}
	// Auxiliary credential headers win on collision.
	for k, v := range cred.Headers() {
		h.Set(k, v)
	}
	return h
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func (c *Client) newRequest(ctx context.Context, method, target string, body []byte) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rdr)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header = c.header.Clone()
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("x-request-id", id)
	}
	return req, nil
}

// do sends one buffered attempt and reads the whole body.
func (c *Client) do(ctx context.Context, op, method, target string, body []byte) (*Response, error) {
	req, err := c.newRequest(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	c.dumpUpstreamRequest(req)
	if c.Verbose {
		slog.Info("upstream.request", "operation", op, "method", method, "bytes", len(body), "credential", c.cred)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamAttempt(op, "transport_error")
		return nil, err
	}
	defer resp.Body.Close()
	c.dumpUpstreamResponse(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		c.metrics.ObserveUpstreamAttempt(op, "transport_error")
		return nil, err
	}
	if len(data) > maxResponseBytes {
		c.metrics.ObserveUpstreamAttempt(op, "protocol_error")
		return nil, &ProtocolError{Operation: op, Reason: "upstream response exceeds 16 MB"}
	}
	c.metrics.ObserveUpstreamAttempt(op, outcomeForStatus(resp.StatusCode))
	if c.Verbose {
		attrs := []any{"operation", op, "status", resp.StatusCode, "bytes", len(data)}
		if id := upstreamRequestID(resp.Header); id != "" {
			attrs = append(attrs, "request_id", id)
		}
		slog.Info("upstream.response", attrs...)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// operation names an upstream URL for logs and metrics, e.g. "chats/new".
func (c *Client) operation(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "unknown"
	}
	op := strings.Trim(strings.TrimPrefix(u.Path, c.basePath), "/")
	if op == "" {
		return "root"
	}
	return op
}

func outcomeForStatus(code int) string {
	switch {
	case code < 400:
		return "ok"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func upstreamRequestID(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return firstNonEmpty(
		headers.Get("x-request-id"),
		headers.Get("eagleeye-traceid"),
		headers.Get("request-id"),
	)
}
