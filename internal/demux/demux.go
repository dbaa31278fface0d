// Package demux implements C5: on the first decrypted (or cleartext) bytes
// of a connection, select HTTP/1.1 or HTTP/2 (preface, ALPN, or an h2c
// upgrade request). Classify never rejects: input that is not HTTP/2 is
// classified as HTTP/1.1. The chosen variant is sticky for the life of the
// connection (spec.md §4.5).
package demux

import (
	"bytes"
	"net/textproto"
	"strings"

	"github.com/blitzgw/gateway/internal/conntable"
)

// Preface is the 24-byte HTTP/2 connection preface.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// Decision is the outcome of classifying a connection's opening bytes.
type Decision struct {
	Proto conntable.Protocol
	// H2CUpgrade is set (with Proto still HTTP/1.1) when the request carries
	// the h2c Upgrade headers, so the engine must still answer 101 before
	// switching.
	H2CUpgrade bool
}

// Classify inspects buf, the bytes read so far on a connection whose ALPN
// (if any) is given by alpn. It returns ok=false when more bytes are needed
// before a decision can be made (e.g. a partial preface).
func Classify(buf []byte, alpn string) (Decision, bool) {
	if alpn == "h2" {
		return Decision{Proto: conntable.ProtoHTTP2}, true
	}
	if alpn == "http/1.1" {
		// ALPN http/1.1 does not commit the connection: the bytes are still
		// inspected, so an HTTP/2 preface or an h2c upgrade request is
		// classified the same way as on a cleartext connection.
		return classifyCleartext(buf)
	}
	return classifyCleartext(buf)
}

func classifyCleartext(buf []byte) (Decision, bool) {
	if len(buf) >= len(Preface) {
		if bytes.HasPrefix(buf, []byte(Preface)) {
			return Decision{Proto: conntable.ProtoHTTP2}, true
		}
	} else if len(buf) > 0 && bytes.HasPrefix([]byte(Preface), buf) {
		// Partial match of the preface so far: need more bytes.
		return Decision{}, false
	}

	// Look for a complete HTTP/1.1 request line + headers to check for the
	// h2c Upgrade dance (spec.md §4.5).
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) > 0 {
			// Not a preface and no full header block yet: assume HTTP/1.1
			// and let the engine parse incrementally; it is sticky once
			// chosen, so commit as soon as we know it isn't h2 preface.
			return Decision{Proto: conntable.ProtoHTTP1}, true
		}
		return Decision{}, false
	}

	header := textproto.MIMEHeader{}
	lines := bytes.Split(buf[:idx], []byte("\r\n"))
	for _, l := range lines[1:] {
		kv := bytes.SplitN(l, []byte(":"), 2)
		if len(kv) != 2 {
			continue
		}
		header.Add(textproto.CanonicalMIMEHeaderKey(string(bytes.TrimSpace(kv[0]))), string(bytes.TrimSpace(kv[1])))
	}

	if strings.Contains(strings.ToLower(header.Get("Connection")), "upgrade") &&
		strings.EqualFold(header.Get("Upgrade"), "h2c") &&
		header.Get("Http2-Settings") != "" {
		return Decision{Proto: conntable.ProtoHTTP1, H2CUpgrade: true}, true
	}

	return Decision{Proto: conntable.ProtoHTTP1}, true
}
