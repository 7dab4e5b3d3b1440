package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-jsonrpc/jsonrpc2/internal/wirehttp"
)

// transportResult is the outcome of one HTTP exchange, before any
// JSON-RPC-level interpretation.
type transportResult struct {
	status int
	reason string
	body   []byte
}

// errTimeout is returned by doRequest when the context deadline elapsed
// before the exchange finished — the sole cancellation vector spec §5
// describes, mapped to ProtocolError(110) by the caller.
var errTimeout = errors.New("jsonrpc2/client: request timed out")

// doRequest opens one connection, writes a single POST, and reads back
// the status line, headers, and body. Every context.Context here carries
// the per-request deadline the spec's cooperative scheduler would have
// enforced with its readable/writable polarity trick (design note 9); a
// plain deadline is simpler and equivalent.
func doRequest(ctx context.Context, rawURL string, headers []wirehttp.HeaderField, body []byte) (transportResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return transportResult{}, err
	}

	path := u.Path
	if path == "" {
		path = "/RPC2"
	}

	host := u.Host
	if !strings.Contains(host, ":") {
		if u.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return transportResult{}, errTimeout
		}
		return transportResult{}, err
	}
	defer conn.Close()

	if u.Scheme == "https" {
		conn = tls.Client(conn, &tls.Config{ServerName: u.Hostname()})
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	startLine := fmt.Sprintf("POST %s HTTP/1.1", path)
	if err := wirehttp.WriteMessage(conn, startLine, headers, body); err != nil {
		if isTimeout(err) {
			return transportResult{}, errTimeout
		}
		return transportResult{}, err
	}

	br := bufio.NewReader(conn)
	statusLine, err := wirehttp.ReadStartLine(br)
	if err != nil {
		if isTimeout(err) {
			return transportResult{}, errTimeout
		}
		return transportResult{}, err
	}
	status, reason, ok := parseStatusLine(statusLine)
	if !ok {
		return transportResult{}, fmt.Errorf("jsonrpc2/client: malformed status line %q", statusLine)
	}

	respHeaders, err := wirehttp.ReadHeaders(br)
	if err != nil {
		if isTimeout(err) {
			return transportResult{}, errTimeout
		}
		return transportResult{}, err
	}

	length, err := wirehttp.ContentLength(respHeaders)
	if err != nil {
		length = 0
	}
	respBody, err := wirehttp.ReadBody(br, length)
	if err != nil {
		if isTimeout(err) {
			return transportResult{}, errTimeout
		}
		return transportResult{}, err
	}

	return transportResult{status: status, reason: reason, body: respBody}, nil
}

func parseStatusLine(line string) (code int, reason string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return 0, "", false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", false
	}
	reason = "OK"
	if len(parts) == 3 {
		reason = parts[2]
	}
	return n, reason, true
}

// errnoCode extracts the OS errno underlying a dial/write/read failure, the
// same signal the source's asyncore loop would have read off the socket
// (spec §4.2 outcome 6: "a (code, message) pair ... otherwise 400").
func errnoCode(err error) (int, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno), true
	}
	return 0, false
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
