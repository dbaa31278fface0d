// Package conntable implements C2: a mapping from socket descriptor to
// Connection. It rejects fd-indexed arrays (descriptors are unbounded) in
// favor of the kept context package's generic keyed store (ccx[T]), the
// same intrusive-dictionary idiom the teacher uses for its per-key config
// registries, specialized here to int (fd) keys.
package conntable

import (
	"context"
	"sync"
	"time"

	gwctx "github.com/blitzgw/gateway/context"
	"github.com/blitzgw/gateway/internal/bufpool"
)

// Protocol tags the variant a Connection has settled into. It is a tagged
// union, not a virtual-method hierarchy: the event loop switches on it.
type Protocol uint8

const (
	ProtoUnknown Protocol = iota
	ProtoHTTP1
	ProtoHTTP2
	ProtoHTTP3Stream
	ProtoRaw
)

// HTTP2State holds the subset of HTTP/2 connection state a Connection
// carries; the engine (internal/h2engine) owns its contents.
type HTTP2State struct {
	Streams map[uint32]interface{}
	Window  int32
}

// Connection is the per-descriptor record described in spec.md §3. Its
// sub-objects (TLS session, HTTP/2 state, upstream socket) must never hold
// a strong reference back to the Connection; callbacks needing the parent
// carry the fd and look it up again in the Table.
type Connection struct {
	FD       int
	ReadBuf  bufpool.Handle
	WriteBuf bufpool.Handle
	HasRead  bool
	HasWrite bool

	Proto Protocol

	TLS interface{} // *tlsterm.Session, kept as interface{} to avoid an import cycle
	H2  *HTTP2State

	Created    time.Time
	LastActive time.Time
	Requests   uint64

	mu sync.Mutex
}

func (c *Connection) Touch() {
	c.mu.Lock()
	c.LastActive = time.Now()
	c.mu.Unlock()
}

func (c *Connection) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.LastActive)
}

// Table is the fd -> *Connection dictionary.
type Table struct {
	store gwctx.Config[int]
	bufs  *bufpool.Pool
}

func New(ctx context.Context, bufs *bufpool.Pool) *Table {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Table{
		store: gwctx.New[int](ctx),
		bufs:  bufs,
	}
}

// Insert registers a new Connection on accept. Idempotent: inserting over
// an existing fd replaces the prior entry (the prior entry should already
// have been removed by Remove on close).
func (t *Table) Insert(fd int) *Connection {
	c := &Connection{
		FD:         fd,
		ReadBuf:    -1,
		WriteBuf:   -1,
		Created:    time.Now(),
		LastActive: time.Now(),
	}
	t.store.Store(fd, c)
	return c
}

// Lookup returns the Connection for fd, or (nil, false) if the descriptor is
// unknown. Per spec.md §4.2: a completion for an unknown descriptor must be
// ignored by the caller and the descriptor closed.
func (t *Table) Lookup(fd int) (*Connection, bool) {
	v, ok := t.store.Load(fd)
	if !ok {
		return nil, false
	}
	c, ok := v.(*Connection)
	return c, ok
}

// Remove releases any owned buffers and removes the entry in one step.
// Idempotent: removing an already-removed fd is a no-op.
func (t *Table) Remove(fd int) {
	v, loaded := t.store.LoadAndDelete(fd)
	if !loaded {
		return
	}
	c, ok := v.(*Connection)
	if !ok {
		return
	}
	if c.HasRead {
		t.bufs.Release(c.ReadBuf)
	}
	if c.HasWrite {
		t.bufs.Release(c.WriteBuf)
	}
}

// Len reports the number of live connections.
func (t *Table) Len() int {
	n := 0
	t.store.Walk(func(_ int, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// SweepIdle closes (via remove) every connection idle beyond maxIdle, calling
// onClose for each so the caller can actually close the underlying socket.
// This backs the once-per-second housekeeping pass spec.md §4.3 requires.
func (t *Table) SweepIdle(maxIdle time.Duration, onClose func(fd int)) {
	var stale []int
	t.store.Walk(func(fd int, v interface{}) bool {
		c, ok := v.(*Connection)
		if ok && c.IdleFor() > maxIdle {
			stale = append(stale, fd)
		}
		return true
	})
	for _, fd := range stale {
		t.Remove(fd)
		if onClose != nil {
			onClose(fd)
		}
	}
}
