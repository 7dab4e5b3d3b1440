// Package jsonrpc2 implements the JSON-RPC 2.0 message codec shared by the
// client and server packages: the three wire message shapes, the closed
// error taxonomy, and 8-character request ID generation.
package jsonrpc2

import (
	"encoding/json"
	"fmt"
)

// Closed set of JSON-RPC error codes. Every error raised anywhere in this
// module uses one of these; ProtocolError is the one client-side exception
// to the negative-code convention (it carries an HTTP status or errno).
const (
	CodeGeneric        = -32000
	CodeParseError      = -32700
	CodeInvalidJsonRpc  = -32600
	CodeMethodNotFound  = -32601
	CodeInvalidParams   = -32602
	CodeInternalError   = -32603
	CodeResponseError   = -32650
)

// Error is the on-wire JSON-RPC error object, plus the ID of the request it
// answers (carried alongside, not inside, the `error` object itself).
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	ID      string          `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc2: %s (code %d)", e.Message, e.Code)
}

// WithID returns a copy of e with its ID set, leaving e unmodified. Both the
// server (populating the incoming request's id) and the client (populating
// the originating request's id) use this to finish an error built before
// the id was known.
func (e *Error) WithID(id string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.ID = id
	return &cp
}

func newError(code int, message string, data any) *Error {
	if code > 0 {
		code = -code
	}
	return &Error{Code: code, Message: message, Data: mustRawData(data)}
}

func mustRawData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(fmt.Sprintf(`{"exception":%q}`, err.Error()))
	}
	return raw
}

// NewGenericError builds the catch-all Generic (-32000) error.
func NewGenericError(message string, data any) *Error {
	return newError(CodeGeneric, message, data)
}

// NewParseError wraps a JSON decode or encode failure.
func NewParseError(err error) *Error {
	return newError(CodeParseError, "Parse error.", map[string]string{"exception": err.Error()})
}

// NewInvalidJsonRpcError reports a well-formed JSON value that isn't a valid
// JSON-RPC 2.0 envelope (missing or wrong "jsonrpc" field).
func NewInvalidJsonRpcError() *Error {
	return newError(CodeInvalidJsonRpc, "Invalid JSON-RPC.", nil)
}

// NewMethodNotFoundError reports a request naming an unregistered, private,
// or reserved method.
func NewMethodNotFoundError(method string) *Error {
	return newError(CodeMethodNotFound, "Method not found.", map[string]string{"method": method})
}

// NewInvalidParamsError reports a params shape that doesn't bind to the
// target method's signature.
func NewInvalidParamsError(method string, params json.RawMessage) *Error {
	return newError(CodeInvalidParams, "Invalid params.", invalidParamsData(method, params))
}

func invalidParamsData(method string, params json.RawMessage) map[string]any {
	data := map[string]any{"method": method}
	if len(params) > 0 {
		var v any
		if err := json.Unmarshal(params, &v); err == nil {
			data["params"] = v
		}
	}
	return data
}

// NewInternalError wraps an unexpected failure raised by a dispatched
// method.
func NewInternalError(err error) *Error {
	return newError(CodeInternalError, "Internal error.", map[string]string{"exception": err.Error()})
}

// NewResponseError reports a response the client could not correlate with
// an in-flight request: either it failed to parse, or its id didn't match.
func NewResponseError(data any) *Error {
	return newError(CodeResponseError, "Invalid response.", data)
}

// NewProtocolError reports an HTTP transport failure on the client side.
// Unlike every other constructor in this package, the code is NOT negated:
// positive HTTP status codes and OS errno values are the one place the
// sign convention is deliberately broken (spec §3).
func NewProtocolError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: mustRawData(data)}
}

// errorFromWire rebuilds an *Error from a decoded error envelope, used by
// Decode and DecodeResponseOrError. The code, message and data are kept
// exactly as received; the code is not checked against the closed set.
func errorFromWire(w *wireError, id string) *Error {
	e := &Error{Code: w.Code, Message: w.Message, Data: w.Data, ID: id}
	return e
}
