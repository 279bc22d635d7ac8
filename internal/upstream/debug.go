package upstream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
)

// debugOut is where request and response dumps go.
var debugOut io.Writer = os.Stderr

// dumpUpstreamRequest dumps an outbound request. The bearer token is added
// later by the oauth2 transport, so it never appears in the dump.
func (c *Client) dumpUpstreamRequest(req *http.Request) {
	if c == nil || !c.Debug || req == nil {
		return
	}
	dump, err := httputil.DumpRequestOut(req, true)
	if err != nil {
		slog.Error("upstream.request.dump.failed", "error", err)
		return
	}
	c.writeDebugDumpBlock("UPSTREAM REQUEST", dump)
}

func (c *Client) dumpUpstreamResponse(resp *http.Response) {
	if c == nil || !c.Debug || resp == nil {
		return
	}

	headerDump, err := httputil.DumpResponse(resp, false)
	if err != nil {
		slog.Error("upstream.response.dump.failed", "error", err)
	} else {
		c.writeDebugDumpBlock("UPSTREAM RESPONSE", headerDump)
	}

	if resp.Body != nil {
		title := fmt.Sprintf("UPSTREAM RESPONSE BODY status=%d", resp.StatusCode)
		c.writeDebugDumpBoundary(title, true)
		resp.Body = &debugDumpReadCloser{src: resp.Body, client: c, title: title}
	}
}

func (c *Client) writeDebugDumpBlock(title string, data []byte) {
	c.writeDebugDumpBoundary(title, true)
	if len(data) > 0 {
		c.writeDebugDumpChunk(data)
		if data[len(data)-1] != '\n' {
			c.writeDebugDumpChunk([]byte("\n"))
		}
	}
	c.writeDebugDumpBoundary(title, false)
}

func (c *Client) writeDebugDumpBoundary(title string, begin bool) {
	kind := "END"
	if begin {
		kind = "BEGIN"
	}
	c.writeDebugDumpChunk([]byte("===== " + strings.TrimSpace(title) + " " + kind + " =====\n"))
}

func (c *Client) writeDebugDumpChunk(data []byte) {
	if c == nil || len(data) == 0 {
		return
	}
	c.dumpMu.Lock()
	defer c.dumpMu.Unlock()
	if _, err := debugOut.Write(data); err != nil {
		slog.Error("upstream.dump.write.failed", "error", err)
	}
}

// debugDumpReadCloser copies a response body to the dump as it is read and
// closes the dump block at EOF or Close, whichever comes first.
type debugDumpReadCloser struct {
	src      io.ReadCloser
	client   *Client
	title    string
	once     sync.Once
	lastByte byte
}

func (d *debugDumpReadCloser) Read(p []byte) (int, error) {
	n, err := d.src.Read(p)
	if n > 0 {
		d.lastByte = p[n-1]
		d.client.writeDebugDumpChunk(p[:n])
	}
	if errors.Is(err, io.EOF) {
		d.finish()
	}
	return n, err
}

func (d *debugDumpReadCloser) Close() error {
	err := d.src.Close()
	d.finish()
	return err
}

func (d *debugDumpReadCloser) finish() {
	d.once.Do(func() {
		if d.lastByte != 0 && d.lastByte != '\n' {
			d.client.writeDebugDumpChunk([]byte("\n"))
		}
		d.client.writeDebugDumpBoundary(d.title, false)
	})
}
