package upstream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// LineStream yields the upstream response body one line at a time, in
// arrival order. Next blocks until a line is available, so the caller's
// consumption rate drives reads from the upstream.
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc

	idle      time.Duration
	timer     *time.Timer
	idleFired atomic.Bool
	closeOnce sync.Once
}

// NewLineStream wraps a raw body with no idle timeout.
func NewLineStream(body io.ReadCloser) *LineStream {
	return newLineStream(body, nil, 0)
}

func newLineStream(body io.ReadCloser, cancel context.CancelFunc, idle time.Duration) *LineStream {
	s := &LineStream{body: body, cancel: cancel, idle: idle}
	s.scanner = bufio.NewScanner(body)
	s.scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	if idle > 0 {
		s.timer = time.AfterFunc(idle, s.expire)
	}
	return s
}

func (s *LineStream) expire() {
	s.idleFired.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	s.body.Close() //nolint:errcheck
}

// Next returns the next line without its terminator. It returns io.EOF at a
// clean end of stream.
func (s *LineStream) Next() (string, error) {
	if s.scanner.Scan() {
		if s.timer != nil {
			s.timer.Reset(s.idle)
		}
		return s.scanner.Text(), nil
	}
	if s.idleFired.Load() {
		return "", fmt.Errorf("%w: no data for %s", ErrStreamIdle, s.idle)
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close releases the upstream connection. It is safe to call more than once.
func (s *LineStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.timer != nil {
			s.timer.Stop()
		}
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}

// Stream opens a streaming request. It never retries: it either returns an
// open LineStream or fails before any line is produced.
func (c *Client) Stream(ctx context.Context, method, target string, body []byte) (*LineStream, error) {
	op := c.operation(target)
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(streamCtx, method, target, body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("x-accel-buffering", "no")
	c.dumpUpstreamRequest(req)
	if c.Verbose {
		slog.Info("upstream.stream.request", "operation", op, "bytes", len(body), "credential", c.cred)
	}

	// The idle window also bounds the wait for response headers.
	headerTimer := time.AfterFunc(c.idleTimeout, cancel)
	resp, err := c.stream.Do(req)
	headerTimeout := !headerTimer.Stop()
	if err == nil && headerTimeout {
		resp.Body.Close()
		err = context.Canceled
	}
	if err != nil {
		cancel()
		c.metrics.ObserveUpstreamAttempt(op, "transport_error")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if headerTimeout {
			return nil, fmt.Errorf("%w: no response headers within %s", ErrStreamIdle, c.idleTimeout)
		}
		return nil, fmt.Errorf("upstream stream request failed: %w", err)
	}
	c.metrics.ObserveUpstreamAttempt(op, outcomeForStatus(resp.StatusCode))

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		resp.Body.Close()
		cancel()
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: data, Headers: resp.Header}
	}
	if c.Verbose {
		slog.Info("upstream.stream.open", "operation", op, "status", resp.StatusCode, "request_id", upstreamRequestID(resp.Header))
	}
	c.dumpUpstreamResponse(resp)
	return newLineStream(resp.Body, cancel, c.idleTimeout), nil
}

