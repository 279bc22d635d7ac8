package upstream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"syscall"
	"time"
)

// BackoffDelay is the wait before retrying after the given zero-based
// attempt: 2s, 3s, 5s, 9s...
func BackoffDelay(attempt int) time.Duration {
	return time.Duration((1<<attempt)+1) * time.Second
}

// Execute sends a buffered request with the client's retry budget.
func (c *Client) Execute(ctx context.Context, method, target string, body []byte) (*Response, error) {
	return c.ExecuteWithRetries(ctx, method, target, body, c.maxRetries)
}

// ExecuteWithRetries sends a buffered request, retrying 429, 5xx, timeouts
// and connection failures up to maxRetries times. Other statuses fail at
// once. When retries run out the last failure is returned as is.
func (c *Client) ExecuteWithRetries(ctx context.Context, method, target string, body []byte, maxRetries int) (*Response, error) {
	op := c.operation(target)
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var reason string
		resp, err := c.do(ctx, op, method, target, body)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if !isRetryableTransportError(err) {
				return nil, err
			}
			lastErr = err
			reason = transportReason(err)
		case resp.StatusCode < 400:
			return resp, nil
		default:
			uerr := &UpstreamError{StatusCode: resp.StatusCode, Body: resp.Body, Headers: resp.Header}
			if !uerr.Retryable() {
				return nil, uerr
			}
			lastErr = uerr
			reason = "status_" + strconv.Itoa(resp.StatusCode)
		}

		if attempt == maxRetries {
			break
		}
		delay := BackoffDelay(attempt)
		slog.Warn("upstream.retry",
			"operation", op,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"reason", reason,
			"delay", delay,
			"credential", c.cred,
		)
		c.metrics.ObserveRetry(op, reason)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	if lastErr == nil {
		return nil, ErrRetriesExhausted
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isRetryableTransportError matches timeouts and failures to reach or stay
// connected to the upstream. Malformed requests and cancellation do not match.
func isRetryableTransportError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
		if urlErr.Timeout() {
			return true
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

func transportReason(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return "timeout"
	}
	return "connect"
}

// IsTransportError reports whether err is a timeout or connection failure
// of the kind the transport retries.
func IsTransportError(err error) bool {
	return isRetryableTransportError(err)
}
