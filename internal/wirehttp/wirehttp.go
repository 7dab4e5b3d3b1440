// Package wirehttp provides the minimal HTTP/1.1 framing shared by the
// client transport and the server connection handler: writing a start
// line plus headers plus a Content-Length-framed body, and reading the
// same back off a bufio.Reader under a caller-supplied deadline.
//
// Neither side uses net/http: the spec calls for exact control over
// framing (one exchange per connection, canned status codes on malformed
// input, a strict "Content-Length" header match) that a general-purpose
// HTTP stack does not expose.
package wirehttp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// HeaderField is one "Name: Value" line, written in the order given.
type HeaderField struct {
	Name  string
	Value string
}

// ErrMissingContentLength is returned by ContentLength when no exact
// "Content-Length" header was present (a misspelled variant such as
// "Content-Lenght" does not count — spec §9 open questions).
var ErrMissingContentLength = errors.New("wirehttp: missing Content-Length header")

// WriteMessage writes startLine + CRLF, each header as "Name: Value" + CRLF,
// a blank CRLF, and then body.
func WriteMessage(w io.Writer, startLine string, headers []HeaderField, body []byte) error {
	var b strings.Builder
	b.WriteString(startLine)
	b.WriteString("\r\n")
	for _, h := range headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(h.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	if _, err := w.Write([]byte(b.String())); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// ReadStartLine reads a single CRLF- or LF-terminated line and returns it
// with the line terminator stripped.
func ReadStartLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadHeaders reads CRLF-terminated header lines until a blank line,
// returning them as an ordered slice. Header name matching elsewhere in
// this package (ContentLength) is case-sensitive by design.
func ReadHeaders(r *bufio.Reader) ([]HeaderField, error) {
	var headers []HeaderField
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return headers, nil
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		name := line[:idx]
		value := strings.TrimSpace(line[idx+1:])
		headers = append(headers, HeaderField{Name: name, Value: value})
	}
}

// ContentLength returns the value of the exact "Content-Length" header, or
// ErrMissingContentLength if it is absent (including when only a
// misspelled variant is present).
func ContentLength(headers []HeaderField) (int, error) {
	for _, h := range headers {
		if h.Name == "Content-Length" {
			n, err := strconv.Atoi(strings.TrimSpace(h.Value))
			if err != nil {
				return 0, fmt.Errorf("wirehttp: invalid Content-Length: %w", err)
			}
			if n < 0 {
				return 0, fmt.Errorf("wirehttp: negative Content-Length")
			}
			return n, nil
		}
	}
	return 0, ErrMissingContentLength
}

// Header looks up the first header matching name case-sensitively.
func Header(headers []HeaderField, name string) (string, bool) {
	for _, h := range headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

// ReadBody reads exactly n bytes, the Content-Length-declared body size.
func ReadBody(r *bufio.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
