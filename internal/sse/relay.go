package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

// Done is the terminal sentinel frame written at the end of every stream.
const Done = "data: [DONE]\n\n"

// LineSource yields upstream lines until io.EOF or a failure.
type LineSource interface {
	Next() (string, error)
}

// Result summarizes a relayed stream.
type Result struct {
	// Lines is the number of upstream lines forwarded.
	Lines int
	// UpstreamErr is the failure that ended the upstream side, if any. It was
	// reported to the caller as an error event.
	UpstreamErr error
	// WriteErr is set when the caller went away; nothing more was written.
	WriteErr error
}

// Relay forwards every non-blank line from src to w as "<line>\n\n", flushing
// after each frame, so caller-visible order equals upstream order. A failure
// while reading src is reported as one error event. The Done sentinel is
// always the last frame, unless writing to w itself failed.
func Relay(w io.Writer, src LineSource) Result {
	flusher, _ := w.(http.Flusher)
	write := func(frame string) error {
		if _, err := io.WriteString(w, frame); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	var res Result
	for {
		line, err := src.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.UpstreamErr = err
			}
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := write(line + "\n\n"); err != nil {
			res.WriteErr = err
			return res
		}
		res.Lines++
	}

	if res.UpstreamErr != nil {
		if err := write(ErrorEvent(res.UpstreamErr.Error())); err != nil {
			res.WriteErr = err
			return res
		}
	}
	if err := write(Done); err != nil {
		res.WriteErr = err
	}
	return res
}

// ErrorEvent renders msg as an in-band SSE error frame:
// data: {"error": "<msg>"}
func ErrorEvent(msg string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.Encode(msg) //nolint:errcheck
	return `data: {"error": ` + strings.TrimRight(buf.String(), "\n") + "}\n\n"
}
