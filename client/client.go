// Package client implements the JSON-RPC 2.0 HTTP client: a non-blocking
// Call/Notify facade over internal/wirehttp, correlating replies by request
// ID and resolving each call's callbacks exactly once (spec §4.2).
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-jsonrpc/jsonrpc2"
	"github.com/go-jsonrpc/jsonrpc2/internal/wirehttp"
)

// Ident identifies this library on the wire, mirrored from the server
// package so a round-trip test can recognize its own traffic.
const Ident = "go-jsonrpc2/1.0"

// Config configures a Client. There is no file or environment-variable
// configuration layer (spec §6): every knob is set here or via Option.
type Config struct {
	// URL is the server endpoint, e.g. "http://127.0.0.1:8080/RPC2".
	URL string
	// Timeout bounds one Call's entire round trip, dial through body read.
	// Zero means 30 seconds.
	Timeout time.Duration
	// Notifier, when true, makes every Call behave like a Notify: the
	// request is sent as a JSON-RPC notification and no RequestContext
	// outcome ever fires (spec §4.2, "client-wide notifier flag").
	Notifier bool
}

// Option customizes optional Client behavior beyond Config.
type Option func(*Client)

// WithLogger injects a structured logger; the default discards output.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics injects a Metrics recorder; the default is a no-op recorder.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client issues JSON-RPC calls against one server endpoint. The zero value
// is not usable; construct with New.
type Client struct {
	cfg     Config
	logger  *log.Logger
	metrics *Metrics
	wg      sync.WaitGroup
}

// New builds a Client bound to cfg.
func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		logger:  log.New(io.Discard),
		metrics: NewMetrics(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Method returns a handle for calling or notifying the named remote method.
func (c *Client) Method(name string) *Method {
	return &Method{client: c, name: name}
}

// Wait blocks until every Call issued by this Client has delivered its
// outcome. Useful in tests and at shutdown.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Method is a fluent handle bound to one remote method name.
type Method struct {
	client *Client
	name   string
}

// Call invokes the method asynchronously. onResult is given the raw JSON
// result; onError is given the failure. Exactly one of them runs, exactly
// once, per spec §4.2's outcome table — unless the Client is configured as
// a Notifier, in which case Call degrades to Notify and neither runs.
//
// Call returns immediately; the RequestContext reports completion via
// Closed, or by blocking on Wait.
func (m *Method) Call(params any, onResult func(json.RawMessage), onError func(*jsonrpc2.Error)) *RequestContext {
	if m.client.cfg.Notifier {
		m.Notify(params)
		rc := &RequestContext{method: m.name, notification: true, closed: true, done: make(chan struct{})}
		close(rc.done)
		return rc
	}

	body, id, err := jsonrpc2.EncodeRequest(m.name, params, "")
	rc := &RequestContext{method: m.name, id: id, done: make(chan struct{})}
	if err != nil {
		rc.finish(nil, err.(*jsonrpc2.Error), onResult, onError)
		return rc
	}

	m.client.wg.Add(1)
	go m.client.run(rc, body, onResult, onError)
	return rc
}

// Notify sends the method as a JSON-RPC notification in the background; no
// outcome is delivered to the caller. The background exchange does not end
// once the request is written: it goes on reading until the server answers
// or closes the connection (or the timeout elapses), and Client.Wait covers
// that time.
func (m *Method) Notify(params any) {
	body, err := jsonrpc2.EncodeNotification(m.name, params)
	if err != nil {
		m.client.logger.Warn("notify encode failed", "method", m.name, "err", err)
		return
	}
	m.client.wg.Add(1)
	go func() {
		defer m.client.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.client.timeout())
		defer cancel()
		headers := m.client.requestHeaders(len(body))
		if _, err := doRequest(ctx, m.client.cfg.URL, headers, body); err != nil {
			m.client.logger.Warn("notify failed", "method", m.name, "err", err)
		}
		m.client.metrics.ObserveRequest(m.name, "notify", 0)
	}()
}

// RequestContext tracks one in-flight (or completed) Call. It is the Go
// analogue of the source's per-request bookkeeping object: something the
// caller can inspect without blocking, plus a way to block if it wants to.
type RequestContext struct {
	method       string
	id           string
	notification bool

	mu     sync.Mutex
	done   chan struct{}
	closed bool
	result json.RawMessage
	err    *jsonrpc2.Error
}

// ID returns the request's correlation id.
func (rc *RequestContext) ID() string { return rc.id }

// Closed reports whether the call has delivered its outcome.
func (rc *RequestContext) Closed() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.closed
}

// Wait blocks until the call completes and returns its outcome directly,
// for callers that prefer synchronous use over the callback pair.
func (rc *RequestContext) Wait() (json.RawMessage, *jsonrpc2.Error) {
	<-rc.done
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.result, rc.err
}

func (rc *RequestContext) finish(result json.RawMessage, err *jsonrpc2.Error, onResult func(json.RawMessage), onError func(*jsonrpc2.Error)) {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	rc.result = result
	rc.err = err
	close(rc.done)
	rc.mu.Unlock()

	if err != nil {
		if onError != nil {
			onError(err)
		}
		return
	}
	if onResult != nil {
		onResult(result)
	}
}

func (c *Client) timeout() time.Duration {
	if c.cfg.Timeout <= 0 {
		return 30 * time.Second
	}
	return c.cfg.Timeout
}

func (c *Client) requestHeaders(bodyLen int) []wirehttp.HeaderField {
	return []wirehttp.HeaderField{
		{Name: "User-Agent", Value: Ident},
		{Name: "Content-Type", Value: "application/json-rpc"},
		{Name: "Content-Length", Value: fmt.Sprintf("%d", bodyLen)},
		{Name: "Connection", Value: "close"},
	}
}

// run performs the HTTP exchange for one Request and resolves rc per the
// seven outcomes of spec §4.2.
func (c *Client) run(rc *RequestContext, body []byte, onResult func(json.RawMessage), onError func(*jsonrpc2.Error)) {
	defer c.wg.Done()
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout())
	defer cancel()

	res, err := doRequest(ctx, c.cfg.URL, c.requestHeaders(len(body)), body)
	if err != nil {
		if err == errTimeout {
			c.metrics.ObserveRequest(rc.method, "timeout", time.Since(start))
			rc.finish(nil, jsonrpc2.NewProtocolError(110, "Connection timed out", nil).WithID(rc.id), onResult, onError)
			return
		}
		code, message := transportErrorCode(err)
		c.metrics.ObserveRequest(rc.method, "transport-error", time.Since(start))
		rc.finish(nil, jsonrpc2.NewProtocolError(code, message, nil).WithID(rc.id), onResult, onError)
		return
	}

	if res.status != 200 {
		c.metrics.ObserveRequest(rc.method, "protocol-error", time.Since(start))
		data := map[string]string{"exception": string(res.body)}
		rc.finish(nil, jsonrpc2.NewProtocolError(res.status, res.reason, data).WithID(rc.id), onResult, onError)
		return
	}

	resp, rpcErr, decodeErr := jsonrpc2.DecodeResponseOrError(res.body)
	switch {
	case decodeErr != nil:
		c.metrics.ObserveRequest(rc.method, "response-error", time.Since(start))
		snippet := res.body
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		data := map[string]string{"exception": string(snippet)}
		rc.finish(nil, jsonrpc2.NewResponseError(data).WithID(rc.id), onResult, onError)

	case rpcErr != nil:
		c.metrics.ObserveRequest(rc.method, "error", time.Since(start))
		rc.finish(nil, rpcErr.WithID(rc.id), onResult, onError)

	case resp.ID != rc.id:
		c.metrics.ObserveRequest(rc.method, "response-error", time.Since(start))
		data := map[string]string{"id": resp.ID}
		rc.finish(nil, jsonrpc2.NewResponseError(data).WithID(rc.id), onResult, onError)

	default:
		c.metrics.ObserveRequest(rc.method, "ok", time.Since(start))
		rc.finish(resp.Result, nil, onResult, onError)
	}
}

func transportErrorCode(err error) (int, string) {
	if code, ok := errnoCode(err); ok {
		return code, err.Error()
	}
	return 400, err.Error()
}
