package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-jsonrpc/jsonrpc2"
)

// Param describes one positional/keyword argument a registered method
// accepts. Default is nil for a required argument; otherwise it is the
// raw JSON value substituted when the caller omits that argument (by
// position or by name).
type Param struct {
	Name    string
	Default json.RawMessage
}

// Required builds a Param with no default.
func Required(name string) Param { return Param{Name: name} }

// Optional builds a Param whose default, when the caller omits it,
// marshals v.
func Optional(name string, v any) Param {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = json.RawMessage("null")
	}
	return Param{Name: name, Default: raw}
}

// Bound holds one successfully bound call's arguments, keyed by name
// regardless of whether the caller supplied them positionally or by
// keyword.
type Bound struct {
	values map[string]json.RawMessage
}

// Decode unmarshals the named argument into out.
func (b *Bound) Decode(name string, out any) error {
	raw, ok := b.values[name]
	if !ok {
		return fmt.Errorf("jsonrpc2/server: no such argument %q", name)
	}
	return json.Unmarshal(raw, out)
}

// Bind implements spec §4.5's argument binding: an array binds
// positionally, an object binds by name, and an absent params binds with
// every Param needing a Default. No reflection on the target handler is
// involved — the caller supplies its own signature as a []Param.
func Bind(method string, rawParams json.RawMessage, spec []Param) (*Bound, *jsonrpc2.Error) {
	switch kind, elems, obj := classifyParams(rawParams); kind {
	case paramsAbsent:
		return bindDefaults(method, rawParams, spec)
	case paramsArray:
		return bindPositional(method, rawParams, spec, elems)
	case paramsObject:
		return bindKeyword(method, rawParams, spec, obj)
	default:
		return nil, jsonrpc2.NewInvalidParamsError(method, rawParams)
	}
}

type paramsKind int

const (
	paramsAbsent paramsKind = iota
	paramsArray
	paramsObject
	paramsInvalid
)

func classifyParams(raw json.RawMessage) (paramsKind, []json.RawMessage, map[string]json.RawMessage) {
	if len(raw) == 0 || string(raw) == "null" {
		return paramsAbsent, nil, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return paramsArray, arr, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return paramsObject, nil, obj
	}
	return paramsInvalid, nil, nil
}

func bindDefaults(method string, rawParams json.RawMessage, spec []Param) (*Bound, *jsonrpc2.Error) {
	values := make(map[string]json.RawMessage, len(spec))
	for _, p := range spec {
		if p.Default == nil {
			return nil, jsonrpc2.NewInvalidParamsError(method, rawParams)
		}
		values[p.Name] = p.Default
	}
	return &Bound{values: values}, nil
}

func bindPositional(method string, rawParams json.RawMessage, spec []Param, elems []json.RawMessage) (*Bound, *jsonrpc2.Error) {
	if len(elems) > len(spec) {
		return nil, jsonrpc2.NewInvalidParamsError(method, rawParams)
	}
	values := make(map[string]json.RawMessage, len(spec))
	for i, p := range spec {
		if i < len(elems) {
			values[p.Name] = elems[i]
			continue
		}
		if p.Default == nil {
			return nil, jsonrpc2.NewInvalidParamsError(method, rawParams)
		}
		values[p.Name] = p.Default
	}
	return &Bound{values: values}, nil
}

func bindKeyword(method string, rawParams json.RawMessage, spec []Param, obj map[string]json.RawMessage) (*Bound, *jsonrpc2.Error) {
	known := make(map[string]Param, len(spec))
	for _, p := range spec {
		known[p.Name] = p
	}
	for key := range obj {
		if _, ok := known[key]; !ok {
			return nil, jsonrpc2.NewInvalidParamsError(method, rawParams)
		}
	}
	values := make(map[string]json.RawMessage, len(spec))
	for _, p := range spec {
		if v, ok := obj[p.Name]; ok {
			values[p.Name] = v
			continue
		}
		if p.Default == nil {
			return nil, jsonrpc2.NewInvalidParamsError(method, rawParams)
		}
		values[p.Name] = p.Default
	}
	return &Bound{values: values}, nil
}

// Ack is the single-use completion latch a Deferred handler retains to
// resolve its call later, from any goroutine. Exactly one of Resolve or
// Reject has effect; later calls are silently ignored (spec §4.5 "once
// handled, subsequent calls ... are ignored").
type Ack struct {
	once   sync.Once
	done   chan struct{}
	result any
	err    *jsonrpc2.Error
}

func newAck() *Ack {
	return &Ack{done: make(chan struct{})}
}

// Resolve completes the call successfully with v.
func (a *Ack) Resolve(v any) {
	a.once.Do(func() {
		a.result = v
		close(a.done)
	})
}

// Reject completes the call with err.
func (a *Ack) Reject(err *jsonrpc2.Error) {
	a.once.Do(func() {
		a.err = err
		close(a.done)
	})
}

func (a *Ack) wait() (any, *jsonrpc2.Error) {
	<-a.done
	return a.result, a.err
}

// OutcomeKind distinguishes the three ways a Handler can complete a call,
// per design note 9's sum type.
type OutcomeKind int

const (
	OutcomeResult OutcomeKind = iota
	OutcomeError
	OutcomeDeferred
)

// Outcome is what a Handler returns: an immediate result, an immediate
// error, or a signal that the call's Ack will be resolved later.
type Outcome struct {
	Kind   OutcomeKind
	Value  any
	Err    *jsonrpc2.Error
}

// Result builds an immediate successful Outcome.
func Result(v any) Outcome { return Outcome{Kind: OutcomeResult, Value: v} }

// ErrorOutcome builds an immediate failed Outcome.
func ErrorOutcome(err *jsonrpc2.Error) Outcome { return Outcome{Kind: OutcomeError, Err: err} }

// Deferred signals that the handler has retained its Ack and will resolve
// it later.
func Deferred() Outcome { return Outcome{Kind: OutcomeDeferred} }

// Handler implements one registered method. params is already bound by
// Table.dispatch against the Param spec given at Register time.
type Handler func(ack *Ack, params *Bound) Outcome

type entry struct {
	spec    []Param
	handler Handler
}

// Table is the explicit, statically built method → handler map that
// replaces the source's dynamic attribute lookup (design note 9). It is
// built once at startup and read-only afterward, safe for concurrent
// dispatch calls from many connection handlers.
type Table struct {
	entries map[string]entry
}

// reserved names a request may never address, even if somehow registered.
var reserved = map[string]bool{
	"on_result": true,
	"on_error":  true,
}

// NewTable builds an empty dispatch table.
func NewTable() *Table {
	return &Table{entries: make(map[string]entry)}
}

// Register adds method, rejecting names that dispatch could never reach:
// anything starting with "_" and the reserved callback names.
func (t *Table) Register(method string, spec []Param, h Handler) error {
	if strings.HasPrefix(method, "_") {
		return fmt.Errorf("jsonrpc2/server: method %q starts with '_'", method)
	}
	if reserved[method] {
		return fmt.Errorf("jsonrpc2/server: method %q is reserved", method)
	}
	t.entries[method] = entry{spec: spec, handler: h}
	return nil
}

// dispatchResult is what Table.dispatch produces for one call: either an
// immediate value/error, or a live Ack a caller must wait on.
type dispatchResult struct {
	value any
	err   *jsonrpc2.Error
	ack   *Ack
}

func (t *Table) dispatch(method string, rawParams json.RawMessage) dispatchResult {
	if strings.HasPrefix(method, "_") || reserved[method] {
		return dispatchResult{err: jsonrpc2.NewMethodNotFoundError(method)}
	}
	e, ok := t.entries[method]
	if !ok {
		return dispatchResult{err: jsonrpc2.NewMethodNotFoundError(method)}
	}
	bound, bindErr := Bind(method, rawParams, e.spec)
	if bindErr != nil {
		return dispatchResult{err: bindErr}
	}

	ack := newAck()
	outcome := invoke(e.handler, ack, bound)

	switch outcome.Kind {
	case OutcomeResult:
		return dispatchResult{value: outcome.Value}
	case OutcomeError:
		return dispatchResult{err: outcome.Err}
	default:
		return dispatchResult{ack: ack}
	}
}

// invoke runs h, turning a panic into InternalError the same way the
// source wraps an unexpected exception (spec §4.5 step 4).
func invoke(h Handler, ack *Ack, bound *Bound) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = ErrorOutcome(jsonrpc2.NewInternalError(fmt.Errorf("%v", r)))
		}
	}()
	return h(ack, bound)
}
