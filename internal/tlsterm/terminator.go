// Package tlsterm implements C4: a TLS 1.3 terminator driven through
// in-memory input/output byte queues rather than a blocking socket, so it
// can sit on top of the completion-event-loop's asynchronous transport
// without ever calling into crypto/tls with a real blocking fd. TLS
// configuration (certificates, cipher/curve/version policy, client-auth
// mode) is built on the kept certificates package.
package tlsterm

import (
	"bytes"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blitzgw/gateway/certificates"
	"github.com/blitzgw/gateway/internal/gwerr"
)

// State is the terminator's state machine per spec.md §4.4.
type State uint8

const (
	Handshaking State = iota
	Connected
	Closed
	Errored
)

// memBIO is the in-memory equivalent of an OpenSSL memory BIO: ciphertext
// read from the wire is written here for crypto/tls to consume, and
// ciphertext crypto/tls produces is read back out of here onto the wire.
// This is the "memory-buffer design" spec.md §9(d) mandates so the
// terminator never feeds already-consumed ClientHello bytes back into a
// blocking socket read.
type memBIO struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *memBIO) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf.Len() == 0 {
		return 0, io.ErrNoProgress // "would block": caller retries once more data arrives
	}
	return b.buf.Read(p)
}

func (b *memBIO) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *memBIO) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// bioConn adapts a pair of memBIOs into a net.Conn so *tls.Conn can drive
// the handshake/record layer without ever touching a real socket. Reads
// drain the "incoming ciphertext" BIO, writes append to the "outgoing
// ciphertext" BIO; the terminator pumps real socket bytes in and out of
// those two BIOs from the completion loop.
type bioConn struct {
	in  *memBIO // ciphertext from peer, feeds tls.Conn.Read
	out *memBIO // ciphertext to peer, filled by tls.Conn.Write
}

// fakeConn implements net.Conn over a bioConn pair so *tls.Conn can be
// constructed with tls.Server/tls.Client; none of the deadline or address
// methods are meaningful here since the completion loop, not crypto/tls,
// owns the real socket.
type fakeConn struct {
	*bioConn
}

func (fakeConn) Close() error                       { return nil }
func (fakeConn) LocalAddr() net.Addr                 { return nil }
func (fakeConn) RemoteAddr() net.Addr                { return nil }
func (fakeConn) SetDeadline(_ time.Time) error       { return nil }
func (fakeConn) SetReadDeadline(_ time.Time) error   { return nil }
func (fakeConn) SetWriteDeadline(_ time.Time) error  { return nil }

// Session wraps one connection's TLS state machine. It is intentionally
// not a net.Conn-shaped object outside this package: the completion loop
// interacts with it through Feed/Drain/Decrypted/Encrypt, never through
// blocking Read/Write.
type Session struct {
	mu     sync.Mutex
	state  State
	conn   *tls.Conn
	bio    *bioConn
	alpn   string
	early  bool
	closed bool
}

// NewSession begins a server-side TLS session backed by cfg (built from the
// kept certificates.TLSConfig via TLS(serverName)). The handshake does not
// run yet; it advances as ciphertext is fed in via Feed/Pump.
func NewSession(tc certificates.TLSConfig, serverName string) *Session {
	cfg := tc.TLS(serverName)
	bio := &bioConn{in: &memBIO{}, out: &memBIO{}}
	return &Session{
		state: Handshaking,
		conn:  tls.Server(fakeConn{bio}, cfg),
		bio:   bio,
	}
}

// Feed appends ciphertext received from the socket's completed read buffer
// into the session's input queue.
func (s *Session) Feed(ciphertext []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bio.in.Write(ciphertext)
}

// Pump drives the handshake (or a decrypt attempt) forward as far as the
// buffered ciphertext allows, without blocking: a non-blocking read that
// would otherwise wait for more network data returns an empty plaintext
// slice and nil error instead of blocking the single-threaded loop.
func (s *Session) Pump() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Closed || s.state == Errored {
		return nil, nil
	}

	if s.state == Handshaking {
		if err := s.conn.Handshake(); err != nil {
			if isWouldBlock(err) {
				return nil, nil
			}
			s.state = Errored
			return nil, gwerr.New(gwerr.ErrCryptoFailure, err)
		}
		s.state = Connected
		s.alpn = s.conn.ConnectionState().NegotiatedProtocol
	}

	out := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err != nil {
			if isWouldBlock(err) {
				break
			}
			if err == io.EOF {
				s.state = Closed
				break
			}
			s.state = Errored
			return out, gwerr.New(gwerr.ErrCryptoFailure, err)
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}

// Encrypt hands plaintext to the TLS engine; the resulting ciphertext can
// then be drained with Drain and written to the socket.
func (s *Session) Encrypt(plaintext []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return errors.New("tlsterm: session not connected")
	}
	_, err := s.conn.Write(plaintext)
	if err != nil {
		s.state = Errored
		return gwerr.New(gwerr.ErrCryptoFailure, err)
	}
	return nil
}

// Drain returns and clears any ciphertext the engine has queued to send.
func (s *Session) Drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.bio.out.Len()
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	_, _ = s.bio.out.Read(out)
	return out
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ALPN returns the negotiated protocol ("h2", "http/1.1", or "" pre-handshake).
func (s *Session) ALPN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alpn
}

func isWouldBlock(err error) bool {
	return errors.Is(err, io.ErrNoProgress)
}

// LooksLikeTLS reports whether the first byte of a new connection is the
// TLS handshake record type (0x16), per spec.md §4.4's demux rule.
func LooksLikeTLS(firstByte byte) bool {
	return firstByte == 0x16
}
