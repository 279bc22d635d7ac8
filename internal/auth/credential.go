package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"golang.org/x/oauth2"
)

// Credential is one upstream bearer token plus the auxiliary headers that
// must accompany it. Two credentials are the same credential iff their tokens
// are equal. A Credential never changes after construction.
type Credential struct {
	token   string
	headers map[string]string
}

// NewCredential builds a credential. Header names are lowercased; empty
// values are dropped.
func NewCredential(token string, headers map[string]string) (Credential, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrEmptyToken
	}
	c := Credential{token: token}
	for k, v := range headers {
		k = strings.ToLower(strings.TrimSpace(k))
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if c.headers == nil {
			c.headers = make(map[string]string, len(headers))
		}
		c.headers[k] = v
	}
	return c, nil
}

// Token returns the raw bearer token. Never log it; use the credential
// itself, which redacts through slog.LogValuer.
func (c Credential) Token() string { return c.token }

// Headers returns a copy of the auxiliary headers.
func (c Credential) Headers() map[string]string {
	return maps.Clone(c.headers)
}

// HeaderNames returns the auxiliary header names in sorted order.
func (c Credential) HeaderNames() []string {
	names := make([]string, 0, len(c.headers))
	for k := range c.headers {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Equal reports whether c and o carry the same token.
func (c Credential) Equal(o Credential) bool { return c.token == o.token }

// IsZero reports whether c was never constructed.
func (c Credential) IsZero() bool { return c.token == "" }

// Redacted returns a display form that keeps only the token's edges.
func (c Credential) Redacted() string {
	return RedactToken(c.token)
}

// Fingerprint returns a short stable identifier safe for metric labels.
func (c Credential) Fingerprint() string {
	sum := sha256.Sum256([]byte(c.token))
	return hex.EncodeToString(sum[:4])
}

// LogValue implements slog.LogValuer.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token", c.Redacted()),
		slog.String("fingerprint", c.Fingerprint()),
	)
}

// TokenSource returns a static oauth2 token source carrying the bearer token.
// No expiry is set: the upstream decides when a token stops working.
func (c Credential) TokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: c.token,
		TokenType:   "Bearer",
	})
}

// RedactToken masks all but the first and last four characters of token.
func RedactToken(token string) string {
	if len(token) <= 12 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}
