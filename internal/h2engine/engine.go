// Package h2engine implements C7: HTTP/2 framing, the RFC 7540 §5.1 stream
// state machine, two-level flow control, and header compression. The frame
// codec is golang.org/x/net/http2's Framer and the header compression is
// golang.org/x/net/http2/hpack's Encoder/Decoder, consumed as opaque
// objects exactly as spec.md §4.7 specifies, the same way
// httpserver/server.go wired http2.ConfigureServer into the teacher's
// net/http-based server.
package h2engine

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/blitzgw/gateway/internal/gwerr"
)

const InitialWindowSize = 65535

// StreamState is the RFC 7540 §5.1 state machine.
type StreamState uint8

const (
	StreamIdle StreamState = iota
	StreamReservedLocal
	StreamReservedRemote
	StreamOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

// Stream is one HTTP/2 stream, identified by a 31-bit id (client-initiated
// odd, server-initiated even).
type Stream struct {
	ID     uint32
	State  StreamState
	Window int32 // signed, can legally go negative transiently via SETTINGS changes, never via DATA send
	header bytes.Buffer
	Header []hpack.HeaderField
	done   bool // END_HEADERS seen
}

// Connection is one HTTP/2 connection's full state: stream table, windows,
// settings, and the HPACK encoder/decoder pair. Exactly one goroutine
// (the completion loop's dispatch for this fd) may touch it at a time.
type Connection struct {
	mu sync.Mutex

	fr  *http2.Framer
	enc *hpack.Encoder
	dec *hpack.Decoder
	buf bytes.Buffer

	streams       map[uint32]*Stream
	connWindow    int32
	peerConnWindow int32
	nextServerID  uint32
	lastStreamID  uint32
	goaway        bool
	headerTableSz uint32
}

// NewConnection wraps rw (the in-memory plaintext produced by tlsterm, or a
// raw cleartext h2c connection) with a Framer and HPACK codec pair.
func NewConnection(rw io.ReadWriter) *Connection {
	c := &Connection{
		streams:        map[uint32]*Stream{},
		connWindow:     InitialWindowSize,
		peerConnWindow: InitialWindowSize,
		nextServerID:   2,
		headerTableSz:  4096,
	}
	c.fr = http2.NewFramer(rw, rw)
	c.enc = hpack.NewEncoder(&c.buf)
	c.dec = hpack.NewDecoder(4096, nil)
	return c
}

// WriteSettingsAck answers the mandatory, timely SETTINGS ACK spec.md §4.7
// requires.
func (c *Connection) WriteSettingsAck() error {
	return c.fr.WriteSettingsAck()
}

// HandleFrame dispatches one decoded frame, advancing stream state per
// RFC 7540 §5.1. Illegal transitions yield a stream-level RST_STREAM or a
// connection-level GOAWAY as spec.md §4.7 requires.
func (c *Connection) HandleFrame(f http2.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch fr := f.(type) {
	case *http2.SettingsFrame:
		return c.handleSettings(fr)
	case *http2.PingFrame:
		if !fr.IsAck() {
			return c.fr.WritePing(true, fr.Data)
		}
		return nil
	case *http2.WindowUpdateFrame:
		return c.handleWindowUpdate(fr)
	case *http2.HeadersFrame:
		return c.handleHeaders(fr)
	case *http2.ContinuationFrame:
		return c.handleContinuation(fr)
	case *http2.DataFrame:
		return c.handleData(fr)
	case *http2.RSTStreamFrame:
		if s, ok := c.streams[fr.StreamID]; ok {
			s.State = StreamClosed
		}
		return nil
	case *http2.PushPromiseFrame:
		// server-only feature, rejected on receipt per spec.md §4.7.
		return c.connError(http2.ErrCodeProtocol, "client sent PUSH_PROMISE")
	case *http2.GoAwayFrame:
		c.goaway = true
		return nil
	case *http2.PriorityFrame:
		return nil
	default:
		return nil
	}
}

func (c *Connection) handleSettings(fr *http2.SettingsFrame) error {
	if fr.IsAck() {
		return nil
	}
	err := fr.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingHeaderTableSize:
			c.headerTableSz = s.Val
		case http2.SettingInitialWindowSize:
			delta := int32(s.Val) - InitialWindowSize
			for _, st := range c.streams {
				st.Window += delta
			}
		}
		return nil
	})
	if err != nil {
		return gwerr.New(gwerr.ErrPeerProtocol, err)
	}
	return c.fr.WriteSettingsAck()
}

func (c *Connection) handleWindowUpdate(fr *http2.WindowUpdateFrame) error {
	if fr.StreamID == 0 {
		c.peerConnWindow += int32(fr.Increment)
		return nil
	}
	s, ok := c.streams[fr.StreamID]
	if !ok {
		return nil // stream already closed; ignore per completion-table-style "unknown id is ignored" rule
	}
	s.Window += int32(fr.Increment)
	return nil
}

func (c *Connection) streamFor(id uint32) (*Stream, error) {
	if id == 0 {
		return nil, c.connError(http2.ErrCodeProtocol, "frame on stream 0")
	}
	s, ok := c.streams[id]
	if !ok {
		s = &Stream{ID: id, State: StreamIdle, Window: InitialWindowSize}
		c.streams[id] = s
	}
	if id > c.lastStreamID {
		c.lastStreamID = id
	}
	return s, nil
}

func (c *Connection) handleHeaders(fr *http2.HeadersFrame) error {
	s, err := c.streamFor(fr.StreamID)
	if err != nil {
		return err
	}
	if s.State != StreamIdle && s.State != StreamOpen && s.State != StreamHalfClosedLocal {
		return c.rstStream(fr.StreamID, http2.ErrCodeStreamClosed)
	}
	s.State = StreamOpen
	s.header.Write(fr.HeaderBlockFragment())
	if fr.HeadersEnded() {
		return c.finishHeaderBlock(s)
	}
	return nil
}

func (c *Connection) handleContinuation(fr *http2.ContinuationFrame) error {
	s, ok := c.streams[fr.StreamID]
	if !ok {
		return c.connError(http2.ErrCodeProtocol, "CONTINUATION on unknown stream")
	}
	s.header.Write(fr.HeaderBlockFragment())
	if fr.HeadersEnded() {
		return c.finishHeaderBlock(s)
	}
	return nil
}

func (c *Connection) finishHeaderBlock(s *Stream) error {
	fields, err := c.dec.DecodeFull(s.header.Bytes())
	if err != nil {
		return gwerr.New(gwerr.ErrPeerProtocol, err)
	}
	s.Header = fields
	s.done = true
	s.header.Reset()
	return nil
}

func (c *Connection) handleData(fr *http2.DataFrame) error {
	s, ok := c.streams[fr.StreamID]
	if !ok {
		return nil
	}
	n := int32(len(fr.Data()))
	s.Window -= n
	c.connWindow -= n
	if s.Window < 0 || c.connWindow < 0 {
		return c.connError(http2.ErrCodeFlowControl, "flow control window exceeded")
	}
	if fr.StreamEnded() {
		s.State = StreamHalfClosedRemote
	}
	return nil
}

// SendData writes a DATA frame, refusing if either flow-control window is
// exhausted per spec.md §4.7 ("If either window is zero the engine must
// not send DATA").
func (c *Connection) SendData(streamID uint32, data []byte, endStream bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.streams[streamID]
	if !ok {
		return fmt.Errorf("h2engine: unknown stream %d", streamID)
	}
	if s.Window <= 0 || c.peerConnWindow <= 0 {
		return fmt.Errorf("h2engine: flow control window exhausted")
	}
	n := int32(len(data))
	if n > s.Window {
		n = s.Window
	}
	if n > c.peerConnWindow {
		n = c.peerConnWindow
	}
	if err := c.fr.WriteData(streamID, endStream && n == int32(len(data)), data[:n]); err != nil {
		return err
	}
	s.Window -= n
	c.peerConnWindow -= n
	if endStream && n == int32(len(data)) {
		if s.State == StreamHalfClosedRemote {
			s.State = StreamClosed
		} else {
			s.State = StreamHalfClosedLocal
		}
	}
	return nil
}

// SendHeaders encodes fields with HPACK and writes a HEADERS frame.
func (c *Connection) SendHeaders(streamID uint32, fields []hpack.HeaderField, endStream bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buf.Reset()
	for _, f := range fields {
		if err := c.enc.WriteField(f); err != nil {
			return err
		}
	}
	return c.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      streamID,
		BlockFragment: c.buf.Bytes(),
		EndHeaders:    true,
		EndStream:     endStream,
	})
}

func (c *Connection) rstStream(id uint32, code http2.ErrCode) error {
	if s, ok := c.streams[id]; ok {
		s.State = StreamClosed
	}
	return c.fr.WriteRSTStream(id, code)
}

func (c *Connection) connError(code http2.ErrCode, msg string) error {
	_ = c.fr.WriteGoAway(c.lastStreamID, code, []byte(msg))
	return gwerr.New(gwerr.ErrPeerProtocol, fmt.Errorf("h2engine: %s", msg))
}

// ReadFrame reads and returns the next frame from the connection.
func (c *Connection) ReadFrame() (http2.Frame, error) {
	return c.fr.ReadFrame()
}

func (c *Connection) Stream(id uint32) (*Stream, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.streams[id]
	return s, ok
}
