package upstream

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/n0madic/go-qwenmock/internal/codec"
)

var (
	ErrProtocolViolation = errors.New("upstream protocol violation")
	ErrRetriesExhausted  = errors.New("upstream request failed after retries")
	ErrStreamIdle        = errors.New("upstream stream idle timeout")
)

// UpstreamError represents a non-2xx upstream response.
type UpstreamError struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func (e *UpstreamError) Error() string {
	return codec.FormatUpstreamErrorWithHeaders(e.StatusCode, e.Body, e.Headers)
}

// Retryable reports whether the status is worth another attempt.
func (e *UpstreamError) Retryable() bool {
	return isRetryableStatus(e.StatusCode)
}

// ProtocolError is a 2xx upstream response whose shape the gateway cannot use.
type ProtocolError struct {
	Operation string
	Reason    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s in %s: %s", ErrProtocolViolation, e.Operation, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolViolation }

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
