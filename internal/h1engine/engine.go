// Package h1engine implements C6: HTTP/1.1 request parsing, built-in
// routing, and response emission with keep-alive, operating on the pooled
// read buffer handed to it by the completion loop.
package h1engine

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	liberr "github.com/blitzgw/gateway/errors"
	"github.com/blitzgw/gateway/internal/authn"
	"github.com/blitzgw/gateway/internal/filter"
	"github.com/blitzgw/gateway/internal/gwerr"
)

const (
	MaxHeaderBytes  = 64 * 1024
	MaxRequestBytes = 16 * 1024 * 1024
)

// Request is the parsed view spec.md §4.6 calls for: method, path, header
// pairs, and the body. Method, path and header values are owned strings, and
// Body is a copy held in its own buffer, not a slice into the reader's.
type Request struct {
	Method  string
	Path    string
	Proto   string
	Header  map[string][]string
	Body    []byte
	KeepAlive bool
}

func (r *Request) HeaderGet(k string) string {
	v := r.Header[strings.ToLower(k)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Parse reads one HTTP/1.1 request from r, enforcing the header and whole-
// request size caps. On malformed input it returns a gwerr ErrPeerProtocol
// error; the caller replies 400 and closes, per spec.md §4.6.
func Parse(r *bufio.Reader) (*Request, error) {
	limited := &bytes.Buffer{}
	line, err := readLimitedLine(r, MaxHeaderBytes)
	if err != nil {
		return nil, gwerr.New(gwerr.ErrPeerProtocol, err)
	}
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), " ", 3)
	if len(parts) != 3 {
		return nil, gwerr.New(gwerr.ErrPeerProtocol)
	}

	req := &Request{Method: parts[0], Path: parts[1], Proto: parts[2], Header: map[string][]string{}, KeepAlive: true}
	headerBytes := len(line)

	for {
		hl, err := readLimitedLine(r, MaxHeaderBytes-headerBytes)
		if err != nil {
			return nil, gwerr.New(gwerr.ErrPeerProtocol, err)
		}
		headerBytes += len(hl)
		if headerBytes > MaxHeaderBytes {
			return nil, gwerr.New(gwerr.ErrPeerProtocol)
		}
		trimmed := strings.TrimRight(hl, "\r\n")
		if trimmed == "" {
			break
		}
		kv := strings.SplitN(trimmed, ":", 2)
		if len(kv) != 2 {
			return nil, gwerr.New(gwerr.ErrPeerProtocol)
		}
		k := strings.ToLower(strings.TrimSpace(kv[0]))
		v := strings.TrimSpace(kv[1])
		req.Header[k] = append(req.Header[k], v)
	}

	if strings.EqualFold(req.HeaderGet("Connection"), "close") {
		req.KeepAlive = false
	}
	if req.Proto == "HTTP/1.0" && !strings.EqualFold(req.HeaderGet("Connection"), "keep-alive") {
		req.KeepAlive = false
	}

	if cl := req.HeaderGet("Content-Length"); cl != "" {
		var n int64
		if _, err := fmt.Sscanf(cl, "%d", &n); err != nil || n < 0 || n > MaxRequestBytes {
			return nil, gwerr.New(gwerr.ErrPeerProtocol)
		}
		if n > 0 {
			if _, err := io.CopyN(limited, r, n); err != nil {
				return nil, gwerr.New(gwerr.ErrPeerProtocol, err)
			}
			req.Body = limited.Bytes()
		}
	}

	return req, nil
}

func readLimitedLine(r *bufio.Reader, remaining int) (string, error) {
	if remaining <= 0 {
		return "", fmt.Errorf("h1engine: header section too large")
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return line, err
	}
	if len(line) > remaining {
		return "", fmt.Errorf("h1engine: header line too large")
	}
	return line, nil
}

// Response is composed into one write in one shot, per spec.md §4.6.
type Response struct {
	Status int
	Header map[string]string
	Body   []byte
}

func (resp *Response) Encode() []byte {
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", resp.Status, statusText(resp.Status))
	if _, ok := resp.Header["Content-Length"]; !ok {
		fmt.Fprintf(buf, "Content-Length: %d\r\n", len(resp.Body))
	}
	for k, v := range resp.Header {
		fmt.Fprintf(buf, "%s: %s\r\n", k, v)
	}
	buf.WriteString("\r\n")
	buf.Write(resp.Body)
	return buf.Bytes()
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 101:
		return "Switching Protocols"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return "Unknown"
	}
}

// Handler is an origin-mode route. Load-balancer mode bypasses Handler
// entirely and delegates to internal/lb (spec.md §4.6).
type Handler func(req *Request) *Response

// Router is the small fixed route set spec.md §4.6 names, plus an
// Authenticator/Filter chain for /api/*.
type Router struct {
	Auth    authn.Authenticator
	Filters []filter.Filter
}

func NewRouter(a authn.Authenticator, filters ...filter.Filter) *Router {
	if a == nil {
		a = authn.NoOp()
	}
	return &Router{Auth: a, Filters: filters}
}

func (rt *Router) Route(req *Request) *Response {
	for _, f := range rt.Filters {
		verdict := f.OnRequest(req.Path, req.Header)
		switch verdict {
		case filter.Stop:
			return &Response{Status: 403, Body: []byte("filtered\n")}
		case filter.Error:
			return errorResponse(gwerr.New(gwerr.ErrPeerProtocol))
		}
	}

	switch {
	case req.Path == "/hello":
		return &Response{Status: 200, Body: []byte("Hello, World!\n")}
	case req.Path == "/":
		return &Response{Status: 200, Body: []byte("blitz gateway\n")}
	case req.Path == "/health":
		return &Response{Status: 200, Body: []byte("ok\n")}
	case strings.HasPrefix(req.Path, "/echo/"):
		return &Response{Status: 200, Body: []byte(strings.TrimPrefix(req.Path, "/echo/") + "\n")}
	case strings.HasPrefix(req.Path, "/api/"):
		tok := req.HeaderGet("Authorization")
		if !rt.Auth.Authenticate(tok) {
			return &Response{Status: 401, Body: []byte("unauthorized\n")}
		}
		return &Response{Status: 200, Body: []byte("api ok\n")}
	default:
		return &Response{Status: 404, Body: []byte("not found\n")}
	}
}

func errorResponse(e liberr.Error) *Response {
	dr := liberr.NewDefaultReturn()
	dr.SetError(int(e.GetCode()), e.Error(), "", 0)
	return &Response{Status: 500, Body: dr.JSON()}
}
