// Package lb implements C10: weighted round-robin backend selection, a
// pooled-upstream-connection cache, request forwarding with bounded retry,
// and a periodic health checker paced with golang.org/x/time/rate (the
// ecosystem-standard companion to the rate limiter's token-bucket
// algorithm, used here for the checker's own outbound pacing rather than
// admission control).
package lb

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blitzgw/gateway/internal/gwerr"
	"github.com/blitzgw/gateway/internal/gwlog"
)

// Backend is the tuple spec.md §3 describes.
type Backend struct {
	Name            string
	Addr            string
	Weight          int
	HealthCheckPath string

	mu         sync.Mutex
	healthy    bool
	successes  uint64
	failures   uint64
	consecFail int
}

func NewBackend(name, addr string, weight int, healthCheckPath string) *Backend {
	if weight <= 0 {
		weight = 1
	}
	return &Backend{Name: name, Addr: addr, Weight: weight, HealthCheckPath: healthCheckPath, healthy: true}
}

func (b *Backend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *Backend) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successes++
	b.consecFail = 0
	b.healthy = true
}

func (b *Backend) recordFailure(threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.consecFail++
	if b.consecFail >= threshold {
		b.healthy = false
	}
}

// idleConn is one pooled upstream socket.
type idleConn struct {
	conn    net.Conn
	lastUse time.Time
}

// Pool is the per-process load balancer: backend set, weighted selector
// state, and the idle-connection pool for every backend.
type Pool struct {
	mu          sync.Mutex
	backends    []*Backend
	weightedSeq []*Backend // expanded weighted round-robin sequence
	cursor      int

	idle        map[string][]*idleConn
	maxPerBack  int
	idleTTL     time.Duration
	maxRetries  int
	dialTimeout time.Duration
}

func NewPool(backends []*Backend, maxPerBackend int, idleTTL time.Duration, maxRetries int, dialTimeout time.Duration) *Pool {
	p := &Pool{
		backends:    backends,
		idle:        map[string][]*idleConn{},
		maxPerBack:  maxPerBackend,
		idleTTL:     idleTTL,
		maxRetries:  maxRetries,
		dialTimeout: dialTimeout,
	}
	p.rebuildSequence()
	return p
}

func (p *Pool) rebuildSequence() {
	p.weightedSeq = p.weightedSeq[:0]
	for _, b := range p.backends {
		for i := 0; i < b.Weight; i++ {
			p.weightedSeq = append(p.weightedSeq, b)
		}
	}
}

// Select picks the next backend by weighted round robin among healthy
// backends. If none are healthy, it falls back to any backend so operators
// observe upstream errors rather than a silent stall (spec.md §4.10).
func (p *Pool) Select() *Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.weightedSeq) == 0 {
		return nil
	}

	start := p.cursor
	for i := 0; i < len(p.weightedSeq); i++ {
		idx := (start + i) % len(p.weightedSeq)
		b := p.weightedSeq[idx]
		if b.Healthy() {
			p.cursor = (idx + 1) % len(p.weightedSeq)
			return b
		}
	}

	b := p.weightedSeq[start%len(p.weightedSeq)]
	p.cursor = (start + 1) % len(p.weightedSeq)
	return b
}

// SelectExcluding behaves like Select but skips any backend whose Name is
// in tried, so a retry after a failed attempt lands on a different
// upstream rather than the one that just failed. It falls back to Select
// if every backend has already been tried.
func (p *Pool) SelectExcluding(tried map[string]bool) *Backend {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.weightedSeq) == 0 {
		return nil
	}

	start := p.cursor
	for i := 0; i < len(p.weightedSeq); i++ {
		idx := (start + i) % len(p.weightedSeq)
		b := p.weightedSeq[idx]
		if !tried[b.Name] && b.Healthy() {
			p.cursor = (idx + 1) % len(p.weightedSeq)
			return b
		}
	}

	for i := 0; i < len(p.weightedSeq); i++ {
		idx := (start + i) % len(p.weightedSeq)
		b := p.weightedSeq[idx]
		if !tried[b.Name] {
			p.cursor = (idx + 1) % len(p.weightedSeq)
			return b
		}
	}

	return nil
}

// MaxRetries reports the retry budget NewPool was configured with, for
// callers (internal/h1engine, internal/h2engine, or the composition
// root's reverse proxy handler) that loop Forward across backends.
func (p *Pool) MaxRetries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxRetries
}

// Acquire returns a live idle socket for b if one exists, else dials a new one.
func (p *Pool) Acquire(b *Backend) (net.Conn, error) {
	p.mu.Lock()
	list := p.idle[b.Name]
	for len(list) > 0 {
		last := list[len(list)-1]
		list = list[:len(list)-1]
		p.idle[b.Name] = list
		if time.Since(last.lastUse) < p.idleTTL {
			p.mu.Unlock()
			return last.conn, nil
		}
		_ = last.conn.Close()
	}
	p.idle[b.Name] = list
	p.mu.Unlock()

	d := net.Dialer{Timeout: p.dialTimeout}
	conn, err := d.Dial("tcp", b.Addr)
	if err != nil {
		return nil, gwerr.New(gwerr.ErrUpstreamFailure, err)
	}
	return conn, nil
}

// Release returns a socket to the idle set unless keep is false (peer
// closed, or the socket errored).
func (p *Pool) Release(b *Backend, conn net.Conn, keep bool) {
	if !keep {
		_ = conn.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.idle[b.Name]) >= p.maxPerBack {
		_ = conn.Close()
		return
	}
	p.idle[b.Name] = append(p.idle[b.Name], &idleConn{conn: conn, lastUse: time.Now()})
}

// SweepIdle closes pooled connections idle beyond the TTL.
func (p *Pool) SweepIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for name, list := range p.idle {
		kept := list[:0]
		for _, c := range list {
			if now.Sub(c.lastUse) > p.idleTTL {
				_ = c.conn.Close()
				continue
			}
			kept = append(kept, c)
		}
		p.idle[name] = kept
	}
}

// Forward writes req onto an acquired upstream connection for b and returns
// the raw response bytes that readResponse reads from it. On failure it is
// the caller's (the reverse proxy handler in cmd/blitzgw) responsibility to
// retry on a different backend within MaxRetries, per spec.md §4.10: failures after
// response bytes have reached the client are never retried.
func (p *Pool) Forward(b *Backend, req []byte, readResponse func(net.Conn) ([]byte, error)) ([]byte, error) {
	conn, err := p.Acquire(b)
	if err != nil {
		b.recordFailure(HealthFailThreshold)
		return nil, err
	}

	if _, err := conn.Write(req); err != nil {
		p.Release(b, conn, false)
		b.recordFailure(HealthFailThreshold)
		return nil, gwerr.New(gwerr.ErrUpstreamFailure, err)
	}

	resp, err := readResponse(conn)
	if err != nil {
		p.Release(b, conn, false)
		b.recordFailure(HealthFailThreshold)
		return nil, gwerr.New(gwerr.ErrUpstreamFailure, err)
	}

	p.Release(b, conn, true)
	b.recordSuccess()
	return resp, nil
}

const HealthFailThreshold = 3

// HealthChecker periodically GETs each backend's health path, marking a
// backend unhealthy after consecutive failures and healthy again after one
// success (spec.md §4.10). Pacing is a rate.Limiter rather than a bare
// ticker so bursts of backend additions during reload don't all fire their
// first check in the same instant.
type HealthChecker struct {
	pool      *Pool
	client    *http.Client
	limiter   *rate.Limiter
	interval  time.Duration
	threshold int
}

func NewHealthChecker(pool *Pool, interval, timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		pool:      pool,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Every(interval/time.Duration(max(len(pool.backends), 1))), 1),
		interval:  interval,
		threshold: HealthFailThreshold,
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Run checks every backend once per interval until ctx is cancelled.
func (hc *HealthChecker) Run(ctx context.Context) {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, b := range hc.pool.backends {
				if b.HealthCheckPath == "" {
					continue
				}
				if err := hc.limiter.Wait(ctx); err != nil {
					return
				}
				hc.check(b)
			}
		}
	}
}

func (hc *HealthChecker) check(b *Backend) {
	resp, err := hc.client.Get("http://" + b.Addr + b.HealthCheckPath)
	if err != nil {
		b.recordFailure(hc.threshold)
		gwlog.NewEntry(gwlog.WarnLevel, "health check failed").Field("backend", b.Name).ErrorAdd(err).Log()
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b.recordSuccess()
	} else {
		b.recordFailure(hc.threshold)
	}
}
