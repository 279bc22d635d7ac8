package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/n0madic/go-qwenmock/internal/auth"
	"github.com/n0madic/go-qwenmock/internal/metrics"
	"github.com/n0madic/go-qwenmock/internal/upstream"
)

var (
	ErrPoolUnavailable       = errors.New("no upstream credentials configured")
	ErrAllClientsUnavailable = errors.New("all upstream clients are unavailable")
	ErrDuplicateCredential   = errors.New("duplicate credential")
)

// Factory builds the transport client for a credential.
type Factory func(auth.Credential) *upstream.Client

// HealthProbe reports whether a client may serve the next request.
type HealthProbe func(ctx context.Context, c *upstream.Client) error

// AlwaysHealthy is the default probe.
func AlwaysHealthy(context.Context, *upstream.Client) error { return nil }

// Pool hands out upstream clients in round-robin order over a fixed list of
// credentials. Clients are built on first selection and then reused; the
// cache only grows.
type Pool struct {
	creds   []auth.Credential
	factory Factory
	probe   HealthProbe
	metrics *metrics.Metrics

	mu      sync.Mutex
	cursor  int
	clients map[string]*upstream.Client
}

type Option func(*Pool)

// WithHealthProbe replaces the default always-healthy probe.
func WithHealthProbe(p HealthProbe) Option {
	return func(pl *Pool) {
		if p != nil {
			pl.probe = p
		}
	}
}

// WithMetrics records selections.
func WithMetrics(m *metrics.Metrics) Option {
	return func(pl *Pool) { pl.metrics = m }
}

// New builds a pool over creds in the given order. An empty list is allowed;
// selection then fails with ErrPoolUnavailable.
func New(creds []auth.Credential, factory Factory, opts ...Option) (*Pool, error) {
	if factory == nil {
		return nil, errors.New("pool: nil client factory")
	}
	seen := make(map[string]struct{}, len(creds))
	list := make([]auth.Credential, 0, len(creds))
	for i, c := range creds {
		if c.IsZero() {
			return nil, fmt.Errorf("credential %d: %w", i, auth.ErrEmptyToken)
		}
		if _, dup := seen[c.Token()]; dup {
			return nil, fmt.Errorf("credential %d (%s): %w", i, c.Redacted(), ErrDuplicateCredential)
		}
		seen[c.Token()] = struct{}{}
		list = append(list, c)
	}
	p := &Pool{
		creds:   list,
		factory: factory,
		probe:   AlwaysHealthy,
		clients: make(map[string]*upstream.Client, len(list)),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// SelectNext returns the client for the next credential in rotation. When
// the probe rejects a client the next credential is tried, up to one full
// pass over the list.
func (p *Pool) SelectNext(ctx context.Context) (*upstream.Client, error) {
	n := len(p.creds)
	if n == 0 {
		return nil, ErrPoolUnavailable
	}
	for attempt := 0; attempt < n; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		client := p.advance()
		err := p.probe(ctx, client)
		if err == nil {
			p.metrics.ObservePoolSelection(client.Credential().Fingerprint())
			slog.Debug("pool.select", "credential", client.Credential(), "attempt", attempt+1)
			return client, nil
		}
		slog.Warn("pool.client.unhealthy", "credential", client.Credential(), "error", err)
	}
	return nil, ErrAllClientsUnavailable
}

// advance moves the cursor one step and returns the client for the
// credential it passed over, building it if needed.
func (p *Pool) advance() *upstream.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	cred := p.creds[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.creds)
	client, ok := p.clients[cred.Token()]
	if !ok {
		client = p.factory(cred)
		p.clients[cred.Token()] = client
	}
	return client
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int { return len(p.creds) }

// ClientCount returns how many clients have been built so far.
func (p *Pool) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Credentials returns a copy of the configured credentials in rotation order.
func (p *Pool) Credentials() []auth.Credential {
	out := make([]auth.Credential, len(p.creds))
	copy(out, p.creds)
	return out
}
