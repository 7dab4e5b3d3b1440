package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-jsonrpc/jsonrpc2"
	"github.com/go-jsonrpc/jsonrpc2/client"
)

// startServer spins up a Server on an ephemeral TCP port and returns its
// URL and a cleanup func.
func startServer(t *testing.T, table *Table) (string, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := New(Config{Timeout: 2 * time.Second}, table)
	go s.Serve(ln)

	url := fmt.Sprintf("http://%s/RPC2", ln.Addr().String())
	return url, func() { s.Close() }
}

// rawCall speaks the wire protocol directly with net.Dial, so the server's
// framing can be exercised without depending on the client package.
func rawCall(t *testing.T, url string, body string) (status int, respBody string) {
	t.Helper()
	addr := url[len("http://"):]
	addr = addr[:len(addr)-len("/RPC2")]
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	req := fmt.Sprintf("POST /RPC2 HTTP/1.1\r\nContent-Type: application/json-rpc\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)

	text := string(raw)
	var code int
	fmt.Sscanf(text, "HTTP/1.1 %d", &code)

	idx := indexHeaderEnd(text)
	if idx < 0 {
		return code, ""
	}
	return code, text[idx:]
}

func indexHeaderEnd(s string) int {
	for i := 0; i+3 < len(s); i++ {
		if s[i] == '\r' && s[i+1] == '\n' && s[i+2] == '\r' && s[i+3] == '\n' {
			return i + 4
		}
	}
	return -1
}

func newTestTable() *Table {
	table := NewTable()
	table.Register("echo", []Param{Required("value")}, func(ack *Ack, p *Bound) Outcome {
		var v any
		p.Decode("value", &v)
		return Result(v)
	})
	table.Register("add", []Param{Required("a"), Required("b")}, func(ack *Ack, p *Bound) Outcome {
		var a, b float64
		p.Decode("a", &a)
		p.Decode("b", &b)
		return Result(a + b)
	})
	table.Register("greet", []Param{Optional("name", "world")}, func(ack *Ack, p *Bound) Outcome {
		var name string
		p.Decode("name", &name)
		return Result("hello " + name)
	})
	table.Register("boom", nil, func(ack *Ack, p *Bound) Outcome {
		panic("kaboom")
	})
	table.Register("later", []Param{Required("value")}, func(ack *Ack, p *Bound) Outcome {
		var v any
		p.Decode("value", &v)
		go func() {
			time.Sleep(10 * time.Millisecond)
			ack.Resolve(v)
		}()
		return Deferred()
	})
	return table
}

func TestServerResultByPositionalParams(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"add","params":[2,3],"id":"req00001"}`)
	require.Equal(t, 200, status)

	var resp struct {
		ID     string `json:"id"`
		Result json.Number `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "req00001", resp.ID)
	assert.Equal(t, "5", resp.Result.String())
}

func TestServerResultByKeywordParams(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"greet","params":{"name":"ada"},"id":"req00002"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, `"result":"hello ada"`)
}

func TestServerResultWithDefaultParams(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"greet","params":{},"id":"req00003"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, `"result":"hello world"`)
}

func TestServerMethodNotFound(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"nope","params":[],"id":"req00004"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, fmt.Sprintf("%d", jsonrpc2.CodeMethodNotFound))
}

func TestServerInvalidParams(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"add","params":[1],"id":"req00005"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, fmt.Sprintf("%d", jsonrpc2.CodeInvalidParams))
}

func TestServerInternalErrorFromPanic(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"boom","params":[],"id":"req00006"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, fmt.Sprintf("%d", jsonrpc2.CodeInternalError))
}

func TestServerNotificationGetsNoBody(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"echo","params":["ignored"]}`)
	require.Equal(t, 200, status)
	assert.Empty(t, body)
}

func TestServerDeferredResult(t *testing.T) {
	url, stop := startServer(t, newTestTable())
	defer stop()

	status, body := rawCall(t, url, `{"jsonrpc":"2.0","method":"later","params":["delayed"],"id":"req00007"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, `"result":"delayed"`)
}

// TestServerDeferredResultChainsOutboundCall reproduces the
// examples/complex pattern from the original source: a handler defers its
// own result, makes a nested outbound call to a second server, and
// resolves its Ack once that nested call completes.
func TestServerDeferredResultChainsOutboundCall(t *testing.T) {
	doubler := NewTable()
	doubler.Register("double", []Param{Required("value")}, func(ack *Ack, p *Bound) Outcome {
		var v float64
		p.Decode("value", &v)
		return Result(v * 2)
	})
	doublerURL, stopDoubler := startServer(t, doubler)
	defer stopDoubler()

	c := client.New(client.Config{URL: doublerURL, Timeout: time.Second})

	chain := NewTable()
	chain.Register("chain", []Param{Required("value")}, func(ack *Ack, p *Bound) Outcome {
		var v float64
		p.Decode("value", &v)
		c.Method("double").Call([]float64{v}, func(raw json.RawMessage) {
			var doubled float64
			json.Unmarshal(raw, &doubled)
			ack.Resolve(doubled)
		}, func(e *jsonrpc2.Error) {
			ack.Reject(e)
		})
		return Deferred()
	})
	chainURL, stopChain := startServer(t, chain)
	defer stopChain()

	status, body := rawCall(t, chainURL, `{"jsonrpc":"2.0","method":"chain","params":[21],"id":"req00008"}`)
	require.Equal(t, 200, status)
	assert.Contains(t, body, `"result":42`)
}

func TestServerRejectsBadMethod(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(Config{Timeout: time.Second}, newTestTable())
	go s.Serve(ln)
	defer s.Close()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET /RPC2 HTTP/1.1\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "501")
}
