package h1engine

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHelloRoundTrip(t *testing.T) {
	raw := "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "GET", req.Method)
	assert.Equal(t, "/hello", req.Path)
	assert.True(t, req.KeepAlive)
}

func TestParseConnectionClose(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.False(t, req.KeepAlive)
}

func TestParseMalformedRequestLine(t *testing.T) {
	raw := "GARBAGE\r\n\r\n"
	_, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	assert.Error(t, err)
}

func TestRouterHello(t *testing.T) {
	rt := NewRouter(nil)
	resp := rt.Route(&Request{Path: "/hello", Header: map[string][]string{}})
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "Hello, World!\n", string(resp.Body))
}

func TestRouterNotFound(t *testing.T) {
	rt := NewRouter(nil)
	resp := rt.Route(&Request{Path: "/nope", Header: map[string][]string{}})
	assert.Equal(t, 404, resp.Status)
}

func TestRouterAPIRequiresAuth(t *testing.T) {
	rt := NewRouter(nil)
	resp := rt.Route(&Request{Path: "/api/widgets", Header: map[string][]string{}})
	assert.Equal(t, 401, resp.Status)
}

func TestResponseEncode(t *testing.T) {
	resp := &Response{Status: 200, Body: []byte("hi")}
	out := resp.Encode()
	assert.Contains(t, string(out), "HTTP/1.1 200 OK")
	assert.Contains(t, string(out), "Content-Length: 2")
	assert.Contains(t, string(out), "hi")
}
