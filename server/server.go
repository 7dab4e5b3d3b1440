// Package server implements the JSON-RPC 2.0 HTTP server: a byte-stream
// connection handler (spec §4.4) sitting in front of a statically
// registered dispatch Table (spec §4.5, dispatch.go).
package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/go-jsonrpc/jsonrpc2"
	"github.com/go-jsonrpc/jsonrpc2/internal/wirehttp"
)

// Ident identifies this library on the wire, in the Server header and the
// client's User-Agent header.
const Ident = "go-jsonrpc2/1.0"

// Config configures a Server. There is no file or environment-variable
// based configuration (spec §6): every knob is set here or via the
// functional Option values passed to New.
type Config struct {
	// Addr is the TCP address to listen on, e.g. "127.0.0.1:8080". Ignored
	// if SocketPath is set.
	Addr string
	// SocketPath, if non-empty, binds a Unix domain socket instead of TCP
	// — additive to spec §4.4's TCP listener, for sidecar deployments.
	SocketPath string
	// Timeout bounds how long a connection may sit in ReadingHeaders or
	// ReadingBody before the handler gives up with a 408.
	Timeout time.Duration
	// AllowedIPs, if non-nil, restricts accepted peers (spec §4.4); a
	// peer address outside the set is closed silently.
	AllowedIPs map[string]bool
}

// Option customizes optional Server behavior beyond Config.
type Option func(*Server)

// WithLogger injects a structured logger; the default discards output.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics injects a Metrics recorder; the default is a no-op recorder.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithRateLimiter installs an optional per-server token bucket limiting
// accepted connections per second; nil (the default) means unlimited.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// Stats is a snapshot of Server activity, the Go analogue of the
// teacher's daemon "status" method.
type Stats struct {
	Connections   int
	TotalRequests int
	Uptime        time.Duration
}

// Server accepts connections and dispatches JSON-RPC calls against a
// Table. Once constructed, the Table is read-only; Server itself is safe
// for concurrent use by its own accept/connection goroutines.
type Server struct {
	cfg     Config
	table   *Table
	logger  *log.Logger
	metrics *Metrics
	limiter *rate.Limiter

	mu            sync.Mutex
	listener      net.Listener
	connections   int
	totalRequests int
	startTime     time.Time
}

// New builds a Server bound to table. Call Serve or ListenAndServe to
// start accepting connections.
func New(cfg Config, table *Table, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		table:     table,
		logger:    log.New(io.Discard),
		metrics:   NewMetrics(nil),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListenAndServe binds the listener described by Config and serves it
// until Close is called or the listener errors.
func (s *Server) ListenAndServe() error {
	var ln net.Listener
	var err error
	if s.cfg.SocketPath != "" {
		ln, err = net.Listen("unix", s.cfg.SocketPath)
	} else {
		ln, err = net.Listen("tcp", s.cfg.Addr)
	}
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections from ln until it errors or Close is called.
// Tests typically construct ln themselves (net.Listen("tcp",
// "127.0.0.1:0")) to get an ephemeral port.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		if s.limiter != nil && !s.limiter.Allow() {
			conn.Close()
			continue
		}
		if !s.peerAllowed(conn) {
			conn.Close()
			continue
		}
		tuneSocket(conn, s.logger)

		s.mu.Lock()
		s.connections++
		s.mu.Unlock()

		go s.handleConnection(conn)
	}
}

// Close stops accepting new connections. Connections already in flight
// run to completion.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// Stats returns a snapshot of server activity.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Connections:   s.connections,
		TotalRequests: s.totalRequests,
		Uptime:        time.Since(s.startTime),
	}
}

func (s *Server) peerAllowed(conn net.Conn) bool {
	if s.cfg.AllowedIPs == nil {
		return true
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}
	return s.cfg.AllowedIPs[host]
}

// handleConnection runs the ReadingHeaders → ReadingBody → Dispatch →
// Writing state machine of spec §4.4 for exactly one HTTP exchange, then
// closes the socket regardless of outcome (the Connection: close /
// one-exchange-per-connection contract of spec §9).
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	defer func() {
		s.mu.Lock()
		s.connections--
		s.mu.Unlock()
	}()

	deadline := time.Now().Add(s.timeout())
	conn.SetDeadline(deadline)

	r := bufio.NewReader(conn)

	startLine, err := wirehttp.ReadStartLine(r)
	if err != nil {
		if startLine == "" {
			s.writeHTTPError(conn, 408, "Request timed out")
			return
		}
		s.writeHTTPError(conn, 400, "Bad request syntax")
		return
	}
	if startLine == "" {
		s.writeHTTPError(conn, 408, "Request timed out")
		return
	}

	method, path, version, ok := parseRequestLine(startLine)
	if !ok {
		s.writeHTTPError(conn, 400, "Bad request syntax")
		return
	}
	if version != "HTTP/1.0" && version != "HTTP/1.1" {
		s.writeHTTPError(conn, 400, "Bad request version")
		return
	}
	if method != "POST" {
		s.writeHTTPError(conn, 501, "Unsupported method")
		return
	}

	headers, err := wirehttp.ReadHeaders(r)
	if err != nil {
		s.writeHTTPError(conn, 408, "Request timed out")
		return
	}

	contentLength, err := wirehttp.ContentLength(headers)
	if err != nil {
		if err == wirehttp.ErrMissingContentLength {
			contentLength = 0
		} else {
			s.writeHTTPError(conn, 400, "Bad Content-Length")
			return
		}
	}

	body, err := wirehttp.ReadBody(r, contentLength)
	if err != nil {
		s.writeHTTPError(conn, 408, "Request timed out")
		return
	}

	s.mu.Lock()
	s.totalRequests++
	s.mu.Unlock()

	s.logger.Debug("request", "path", path, "version", version, "bytes", len(body))
	s.dispatchAndRespond(conn, body)
}

func parseRequestLine(line string) (method, path, version string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

func (s *Server) dispatchAndRespond(conn net.Conn, body []byte) {
	msg, decodeErr := jsonrpc2.Decode(body, []jsonrpc2.Shape{jsonrpc2.ShapeRequest, jsonrpc2.ShapeNotification})
	if decodeErr != nil {
		rpcErr := decodeErr.(*jsonrpc2.Error)
		s.metrics.ObserveRequest("", "decode-error", 0)
		s.writeRPCError(conn, rpcErr.ID, rpcErr)
		return
	}

	switch m := msg.(type) {
	case *jsonrpc2.Request:
		start := time.Now()
		res := s.table.dispatch(m.Method, m.Params)
		if res.ack != nil {
			v, e := res.ack.wait()
			if e != nil {
				s.metrics.ObserveRequest(m.Method, "error", time.Since(start))
				s.writeRPCError(conn, m.ID, e)
				return
			}
			s.metrics.ObserveRequest(m.Method, "ok", time.Since(start))
			s.writeRPCResult(conn, m.ID, v)
			return
		}
		if res.err != nil {
			s.metrics.ObserveRequest(m.Method, "error", time.Since(start))
			s.writeRPCError(conn, m.ID, res.err)
			return
		}
		s.metrics.ObserveRequest(m.Method, "ok", time.Since(start))
		s.writeRPCResult(conn, m.ID, res.value)

	case *jsonrpc2.Notification:
		s.table.dispatch(m.Method, m.Params)
		s.metrics.ObserveRequest(m.Method, "notify", 0)
		// A notification gets a 200 with an empty body (spec §4.4).
		s.writeOK(conn, nil)
	}
}

func (s *Server) writeRPCResult(conn net.Conn, id string, value any) {
	body, err := jsonrpc2.EncodeResponse(id, value)
	if err != nil {
		s.writeRPCError(conn, id, err.(*jsonrpc2.Error))
		return
	}
	s.writeOK(conn, body)
}

func (s *Server) writeRPCError(conn net.Conn, id string, rpcErr *jsonrpc2.Error) {
	var data any
	if len(rpcErr.Data) > 0 {
		data = rpcErr.Data
	}
	body, err := jsonrpc2.EncodeError(id, rpcErr.Code, rpcErr.Message, data)
	if err != nil {
		body = []byte(fmt.Sprintf(`{"jsonrpc":"2.0","id":%q,"error":{"code":%d,"message":%q}}`,
			id, rpcErr.Code, rpcErr.Message))
	}
	s.writeOK(conn, body)
}

func (s *Server) writeOK(conn net.Conn, body []byte) {
	headers := s.baseHeaders("application/json-rpc", len(body))
	startLine := "HTTP/1.1 200 OK"
	if err := wirehttp.WriteMessage(conn, startLine, headers, body); err != nil {
		s.logger.Warn("write response failed", "err", err)
	}
}

func (s *Server) writeHTTPError(conn net.Conn, code int, reason string) {
	content := fmt.Sprintf(
		"<head><title>Error response</title></head><body><h1>Error response</h1>"+
			"<p>Error code %d.</p><p>Message: %s.</p></body>", code, reason)
	headers := s.baseHeaders("text/html", len(content))
	startLine := fmt.Sprintf("HTTP/1.1 %d %s", code, reason)
	if err := wirehttp.WriteMessage(conn, startLine, headers, []byte(content)); err != nil {
		s.logger.Warn("write error response failed", "err", err)
	}
}

func (s *Server) baseHeaders(contentType string, length int) []wirehttp.HeaderField {
	return []wirehttp.HeaderField{
		{Name: "Server", Value: Ident},
		{Name: "User-Agent", Value: Ident},
		{Name: "Date", Value: time.Now().UTC().Format(time.RFC1123)},
		{Name: "Connection", Value: "close"},
		{Name: "Content-Type", Value: contentType},
		{Name: "Content-Length", Value: strconv.Itoa(length)},
	}
}

func (s *Server) timeout() time.Duration {
	if s.cfg.Timeout <= 0 {
		return 5 * time.Second
	}
	return s.cfg.Timeout
}
