package jsonrpc2

import (
	"encoding/json"
	"fmt"
)

// Version is the only accepted value of the wire envelope's "jsonrpc"
// field.
const Version = "2.0"

// Notification is a JSON-RPC message that expects no response.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Request is a JSON-RPC message that expects exactly one Response or error
// envelope, correlated by ID.
type Request struct {
	Method string
	Params json.RawMessage
	ID     string
}

// Response is a successful JSON-RPC reply.
type Response struct {
	ID     string
	Result json.RawMessage
}

// Shape names one of the three message forms Decode may be asked to
// accept, tried in the order given.
type Shape int

const (
	ShapeNotification Shape = iota
	ShapeRequest
	ShapeResponse
)

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// wireMessage is the superset of every field any of the four message
// shapes can carry. Pointer fields distinguish "absent" from "present but
// zero value", which the shape-matching rules in Decode depend on.
type wireMessage struct {
	Jsonrpc string           `json:"jsonrpc"`
	Method  *string          `json:"method"`
	Params  json.RawMessage  `json:"params"`
	ID      *json.RawMessage `json:"id"`
	Result  *json.RawMessage `json:"result"`
	Error   *wireError       `json:"error"`
}

// EncodeNotification emits {"jsonrpc":"2.0","method":M,"params":P}.
func EncodeNotification(method string, params any) ([]byte, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, NewParseError(err)
	}
	out, err := json.Marshal(struct {
		Jsonrpc string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
	}{Version, method, raw})
	if err != nil {
		return nil, NewParseError(err)
	}
	return out, nil
}

// EncodeRequest emits {"jsonrpc":"2.0","method":M,"params":P,"id":ID}. An
// empty id generates a fresh one; otherwise id is used verbatim.
func EncodeRequest(method string, params any, id string) ([]byte, string, error) {
	if id == "" {
		id = genID()
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, "", NewParseError(err)
	}
	out, err := json.Marshal(struct {
		Jsonrpc string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params,omitempty"`
		ID      string          `json:"id"`
	}{Version, method, raw, id})
	if err != nil {
		return nil, "", NewParseError(err)
	}
	return out, id, nil
}

// EncodeResponse emits {"jsonrpc":"2.0","id":I,"result":R}.
func EncodeResponse(id string, result any) ([]byte, error) {
	raw, err := marshalParams(result)
	if err != nil {
		return nil, NewParseError(err)
	}
	out, err := json.Marshal(struct {
		Jsonrpc string          `json:"jsonrpc"`
		ID      string          `json:"id"`
		Result  json.RawMessage `json:"result"`
	}{Version, id, raw})
	if err != nil {
		return nil, NewParseError(err)
	}
	return out, nil
}

// EncodeError emits {"jsonrpc":"2.0","id":I,"error":{code,message,data?}}.
// data is omitted from the wire object when nil.
func EncodeError(id string, code int, message string, data any) ([]byte, error) {
	raw := mustRawData(data)
	out, err := json.Marshal(struct {
		Jsonrpc string     `json:"jsonrpc"`
		ID      string     `json:"id"`
		Error   *wireError `json:"error"`
	}{Version, id, &wireError{Code: code, Message: message, Data: raw}})
	if err != nil {
		return nil, NewParseError(err)
	}
	return out, nil
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}

// Decode parses data as a JSON-RPC 2.0 envelope and returns the first shape
// in accept that fits, in order. If nothing in accept fits, Decode tries to
// interpret the message as an error envelope; if that also fails it
// returns a ParseError.
//
// The returned value is one of *Notification, *Request, or *Response; on
// failure the error is always an *Error.
func Decode(data []byte, accept []Shape) (any, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, NewParseError(err)
	}
	if msg.Jsonrpc != Version {
		return nil, NewInvalidJsonRpcError()
	}

	for _, shape := range accept {
		switch shape {
		case ShapeNotification:
			if msg.Method != nil && msg.ID == nil {
				return &Notification{Method: *msg.Method, Params: msg.Params}, nil
			}
		case ShapeRequest:
			if msg.Method != nil && msg.ID != nil {
				if id, ok := decodeIDString(*msg.ID); ok {
					return &Request{Method: *msg.Method, Params: msg.Params, ID: id}, nil
				}
			}
		case ShapeResponse:
			if msg.ID != nil && msg.Result != nil && msg.Error == nil {
				if id, ok := decodeIDString(*msg.ID); ok {
					return &Response{ID: id, Result: *msg.Result}, nil
				}
			}
		}
	}

	if msg.Error != nil {
		id := ""
		if msg.ID != nil {
			id, _ = decodeIDString(*msg.ID)
		}
		return nil, errorFromWire(msg.Error, id)
	}

	return nil, NewParseError(fmt.Errorf("message did not match any accepted shape"))
}

// DecodeResponseOrError is the client-side counterpart of Decode: a reply
// body is either a Response, an error envelope, or neither. Unlike Decode,
// it never folds "didn't parse" and "parsed as an error envelope" into the
// same return, since the client must tell those two outcomes apart (spec
// §4.2, outcomes 2 and 4).
func DecodeResponseOrError(data []byte) (resp *Response, rpcErr *Error, err error) {
	var msg wireMessage
	if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
		return nil, nil, jsonErr
	}
	if msg.Jsonrpc != Version {
		return nil, nil, fmt.Errorf("jsonrpc2: response missing jsonrpc 2.0 envelope")
	}
	if msg.Error != nil {
		id := ""
		if msg.ID != nil {
			id, _ = decodeIDString(*msg.ID)
		}
		return nil, errorFromWire(msg.Error, id), nil
	}
	if msg.ID != nil && msg.Result != nil {
		if id, ok := decodeIDString(*msg.ID); ok {
			return &Response{ID: id, Result: *msg.Result}, nil, nil
		}
	}
	return nil, nil, fmt.Errorf("jsonrpc2: response body did not match the Response or error shape")
}

func decodeIDString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
