package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/n0madic/go-qwenmock/internal/pool"
	"github.com/n0madic/go-qwenmock/internal/transform"
	"github.com/n0madic/go-qwenmock/internal/upstream"
)

// Kind classifies a failed chat request.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindPoolUnavailable
	KindAllClientsUnavailable
	KindUpstreamTransient
	KindProtocolViolation
	KindUpstreamFatal
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "invalid_request_error"
	case KindPoolUnavailable:
		return "pool_unavailable"
	case KindAllClientsUnavailable:
		return "all_clients_unavailable"
	case KindUpstreamTransient:
		return "upstream_unavailable"
	case KindProtocolViolation:
		return "upstream_protocol_error"
	case KindUpstreamFatal:
		return "upstream_error"
	case KindCanceled:
		return "canceled"
	default:
		return "internal_error"
	}
}

// statusClientClosedRequest is reported in logs and metrics when the caller
// disconnects; nothing is written to the connection.
const statusClientClosedRequest = 499

// Error is the only failure type handed to the HTTP layer.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an error from any layer to a gateway Error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}
	mk := func(kind Kind, status int) *Error {
		return &Error{Kind: kind, Status: status, Message: err.Error(), Err: err}
	}

	var uerr *upstream.UpstreamError
	var perr *upstream.ProtocolError
	switch {
	case errors.Is(err, transform.ErrMissingModel), errors.Is(err, transform.ErrMissingMessages):
		return mk(KindBadRequest, http.StatusBadRequest)
	case errors.Is(err, pool.ErrPoolUnavailable):
		return mk(KindPoolUnavailable, http.StatusServiceUnavailable)
	case errors.Is(err, pool.ErrAllClientsUnavailable):
		return mk(KindAllClientsUnavailable, http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled):
		return mk(KindCanceled, statusClientClosedRequest)
	case errors.As(err, &perr):
		return mk(KindProtocolViolation, http.StatusInternalServerError)
	case errors.As(err, &uerr):
		if uerr.Retryable() {
			if uerr.StatusCode == http.StatusTooManyRequests {
				return mk(KindUpstreamTransient, http.StatusTooManyRequests)
			}
			return mk(KindUpstreamTransient, http.StatusBadGateway)
		}
		// 401/403 describe the gateway's own credential, not the caller.
		if uerr.StatusCode == http.StatusUnauthorized || uerr.StatusCode == http.StatusForbidden {
			return mk(KindUpstreamFatal, http.StatusBadGateway)
		}
		return mk(KindUpstreamFatal, uerr.StatusCode)
	case errors.Is(err, upstream.ErrRetriesExhausted):
		return mk(KindUpstreamTransient, http.StatusBadGateway)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, upstream.ErrStreamIdle):
		return mk(KindUpstreamTransient, http.StatusGatewayTimeout)
	case upstream.IsTransportError(err):
		return mk(KindUpstreamTransient, http.StatusBadGateway)
	default:
		return mk(KindInternal, http.StatusInternalServerError)
	}
}

func badRequest(msg string) *Error {
	return &Error{Kind: KindBadRequest, Status: http.StatusBadRequest, Message: msg}
}
