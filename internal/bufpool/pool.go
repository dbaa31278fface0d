// Package bufpool implements C1: two symmetric fixed-size buffer pools
// (read/write) with O(1) acquire/release and no growth after startup. The
// free list is a slice of indices guarded by a sync.Mutex; the in-use
// counter is kept with sync/atomic.
package bufpool

import (
	"sync"
	"sync/atomic"

	"github.com/blitzgw/gateway/internal/gwerr"
)

// Handle identifies one owned buffer by its index; 0 is a valid handle and
// invalidHandle (-1) is the invalid one.
type Handle int32

const invalidHandle Handle = -1

// Pool is a fixed array of owned byte buffers plus a stack of free indices.
// It never grows after New: acquire on exhaustion returns ErrBufferExhausted
// and the caller must refuse new work rather than allocate.
type Pool struct {
	bufSize int
	bufs    [][]byte
	owned   []int32 // 0 free, 1 owned; guards against double-release

	mu   sync.Mutex
	free []Handle

	inUse int64
}

// New pre-allocates count buffers of bufSize bytes each.
func New(count, bufSize int) *Pool {
	p := &Pool{
		bufSize: bufSize,
		bufs:    make([][]byte, count),
		owned:   make([]int32, count),
		free:    make([]Handle, count),
	}
	for i := 0; i < count; i++ {
		p.bufs[i] = make([]byte, bufSize)
		p.free[i] = Handle(count - 1 - i) // pop from the tail, order doesn't matter
	}
	return p
}

// Acquire returns a free buffer handle, or ErrBufferExhausted if none remain.
func (p *Pool) Acquire() (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.free)
	if n == 0 {
		return invalidHandle, gwerr.New(gwerr.ErrBufferExhausted)
	}

	h := p.free[n-1]
	p.free = p.free[:n-1]
	p.owned[h] = 1
	atomic.AddInt64(&p.inUse, 1)
	return h, nil
}

// Release returns a buffer to the free stack. Double-release is an
// implementer error and is defended with a panic rather than silently
// corrupting the free list, matching the spec's debug-assertion contract.
func (p *Pool) Release(h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h < 0 || int(h) >= len(p.owned) {
		panic("bufpool: release of out-of-range handle")
	}
	if p.owned[h] == 0 {
		panic("bufpool: double release of buffer handle")
	}

	p.owned[h] = 0
	p.free = append(p.free, h)
	atomic.AddInt64(&p.inUse, -1)

	// zero the slab so a stale read never leaks into the next borrower.
	b := p.bufs[h]
	for i := range b {
		b[i] = 0
	}
}

// Bytes returns the backing slice for a held handle.
func (p *Pool) Bytes(h Handle) []byte {
	return p.bufs[h]
}

// InUse reports the number of buffers currently handed out.
func (p *Pool) InUse() int64 {
	return atomic.LoadInt64(&p.inUse)
}

// Cap returns the pool's fixed capacity in buffer count.
func (p *Pool) Cap() int {
	return len(p.bufs)
}

// BufSize returns the fixed per-buffer capacity.
func (p *Pool) BufSize() int {
	return p.bufSize
}
