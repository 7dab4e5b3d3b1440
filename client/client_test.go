package client

import (
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-jsonrpc/jsonrpc2"
	"github.com/go-jsonrpc/jsonrpc2/server"
)

func startTestServer(t *testing.T) (string, *server.Table, func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	table := server.NewTable()
	table.Register("add", []server.Param{server.Required("a"), server.Required("b")}, func(ack *server.Ack, p *server.Bound) server.Outcome {
		var a, b float64
		p.Decode("a", &a)
		p.Decode("b", &b)
		return server.Result(a + b)
	})
	table.Register("boom", []server.Param{server.Required("x")}, func(ack *server.Ack, p *server.Bound) server.Outcome {
		return server.ErrorOutcome(jsonrpc2.NewGenericError("nope", nil))
	})
	table.Register("slow", nil, func(ack *server.Ack, p *server.Bound) server.Outcome {
		time.Sleep(200 * time.Millisecond)
		return server.Result("done")
	})

	srv := server.New(server.Config{Timeout: 3 * time.Second}, table)
	go srv.Serve(ln)

	url := fmt.Sprintf("http://%s/RPC2", ln.Addr().String())
	return url, table, func() { srv.Close() }
}

func TestClientCallResolvesResult(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: time.Second})

	resultCh := make(chan float64, 1)
	c.Method("add").Call([]int{2, 3}, func(raw json.RawMessage) {
		var v float64
		json.Unmarshal(raw, &v)
		resultCh <- v
	}, func(e *jsonrpc2.Error) {
		t.Errorf("unexpected error: %v", e)
	})

	select {
	case v := <-resultCh:
		assert.Equal(t, float64(5), v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}

func TestClientCallResolvesServerError(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: time.Second})

	errCh := make(chan *jsonrpc2.Error, 1)
	c.Method("boom").Call(map[string]int{"x": 1}, func(raw json.RawMessage) {
		t.Error("unexpected result")
	}, func(e *jsonrpc2.Error) {
		errCh <- e
	})

	select {
	case e := <-errCh:
		assert.Equal(t, jsonrpc2.CodeGeneric, e.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestClientCallMethodNotFound(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: time.Second})

	errCh := make(chan *jsonrpc2.Error, 1)
	c.Method("nope").Call(nil, nil, func(e *jsonrpc2.Error) {
		errCh <- e
	})

	select {
	case e := <-errCh:
		assert.Equal(t, jsonrpc2.CodeMethodNotFound, e.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestClientNotifyGetsNoOutcome(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: time.Second})
	c.Method("add").Notify([]int{1, 2})
	c.Wait()
}

func TestClientNotifierConfigDegradesCall(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: time.Second, Notifier: true})

	called := false
	rc := c.Method("add").Call([]int{1, 2}, func(raw json.RawMessage) {
		called = true
	}, func(e *jsonrpc2.Error) {
		called = true
	})

	assert.True(t, rc.Closed())
	c.Wait()
	assert.False(t, called)
}

func TestClientCallTimesOut(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: 20 * time.Millisecond})

	errCh := make(chan *jsonrpc2.Error, 1)
	c.Method("slow").Call(nil, func(raw json.RawMessage) {
		t.Error("unexpected result")
	}, func(e *jsonrpc2.Error) {
		errCh <- e
	})

	select {
	case e := <-errCh:
		assert.Equal(t, 110, e.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout error")
	}
}

func TestClientConnectionRefusedMapsToProtocolError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := New(Config{URL: fmt.Sprintf("http://%s/RPC2", addr), Timeout: time.Second})

	errCh := make(chan *jsonrpc2.Error, 1)
	c.Method("add").Call(nil, nil, func(e *jsonrpc2.Error) {
		errCh <- e
	})

	select {
	case e := <-errCh:
		assert.True(t, e.Code == 111 || e.Code == 400)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection-refused error")
	}
}

func TestRequestContextWaitReturnsSameOutcome(t *testing.T) {
	url, _, stop := startTestServer(t)
	defer stop()

	c := New(Config{URL: url, Timeout: time.Second})
	rc := c.Method("add").Call([]int{4, 5}, nil, nil)
	result, err := rc.Wait()
	require.Nil(t, err)
	var v float64
	require.NoError(t, json.Unmarshal(result, &v))
	assert.Equal(t, float64(9), v)
}
