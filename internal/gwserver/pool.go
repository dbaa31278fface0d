// Package gwserver coordinates the set of bound listeners the gateway
// runs concurrently: one per gwconfig.ListenerConfig entry, each wired
// to TLS/ALPN and HTTP/2 the way the teacher's httpserver/server.go and
// httpserver/pool.go did (both read in full before deletion, see
// DESIGN.md — their own imports reached into now-sourceless packages
// that could not be kept unmodified).
package gwserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"

	"github.com/blitzgw/gateway/internal/gwconfig"
	"github.com/blitzgw/gateway/internal/gwerr"
	"github.com/blitzgw/gateway/internal/gwlog"
)

// Server is one bound listener plus the *http.Server it feeds.
type Server struct {
	Name     string
	Listener net.Listener
	HTTP     *http.Server

	mu      sync.Mutex
	started bool
}

// Pool tracks every named Server the gateway runs, mirroring the
// teacher's PoolServer Add/Get/Del/MapRun/Listen/Shutdown/WaitNotify
// surface.
type Pool struct {
	mu      sync.RWMutex
	servers map[string]*Server
}

func New() *Pool {
	return &Pool{servers: make(map[string]*Server)}
}

// Add registers a new Server built from lc, wiring h2 via
// http2.ConfigureServer whenever lc.TLS is set. Cleartext listeners serve
// HTTP/1.1 only: h2c is not handled here, and internal/demux is not wired
// in front of gwserver.
func (p *Pool) Add(lc gwconfig.ListenerConfig, handler http.Handler) (*Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.servers[lc.Name]; exists {
		return nil, gwerr.New(gwerr.ErrConfigInvalid, fmt.Errorf("listener %q already registered", lc.Name))
	}

	hs := &http.Server{
		Addr:    lc.Addr,
		Handler: handler,
	}
	if lc.TLS {
		if err := http2.ConfigureServer(hs, &http2.Server{}); err != nil {
			return nil, gwerr.New(gwerr.ErrConfigInvalid, err)
		}
	}

	srv := &Server{Name: lc.Name, HTTP: hs}
	p.servers[lc.Name] = srv
	return srv, nil
}

func (p *Pool) Get(name string) (*Server, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.servers[name]
	return s, ok
}

// Del removes a server from the pool. It does not shut it down; callers
// must Shutdown it first if it is running.
func (p *Pool) Del(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.servers, name)
}

// MapRun calls fn for every registered server, collecting the first
// error encountered (if any) but still visiting every entry.
func (p *Pool) MapRun(fn func(*Server) error) error {
	p.mu.RLock()
	servers := make([]*Server, 0, len(p.servers))
	for _, s := range p.servers {
		servers = append(servers, s)
	}
	p.mu.RUnlock()

	var firstErr error
	for _, s := range servers {
		if err := fn(s); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Listen binds every registered server's listening socket (without
// serving yet), so that reload-triggered port rebinding can fail fast
// before any traffic is accepted on the new configuration. A server
// whose HTTP.TLSConfig was set (by the caller, before Listen runs) gets
// its listener wrapped in tls.NewListener: plain net.Listener sockets
// are never handed to a TLS-enabled *http.Server, since Serve never
// consults TLSConfig itself — only ServeTLS and a pre-wrapped TLS
// listener do.
func (p *Pool) Listen() error {
	return p.MapRun(func(s *Server) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.Listener != nil {
			return nil
		}
		ln, err := net.Listen("tcp", s.HTTP.Addr)
		if err != nil {
			return gwerr.New(gwerr.ErrPlatform, err)
		}
		if s.HTTP.TLSConfig != nil {
			ln = tls.NewListener(ln, s.HTTP.TLSConfig)
		}
		s.Listener = ln
		return nil
	})
}

// Serve starts accepting connections on every bound listener, each on
// its own goroutine, and blocks until ctx is cancelled or every server
// has exited.
func (p *Pool) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	_ = p.MapRun(func(s *Server) error {
		s.mu.Lock()
		if s.Listener == nil || s.started {
			s.mu.Unlock()
			return nil
		}
		s.started = true
		ln := s.Listener
		s.mu.Unlock()

		wg.Add(1)
		go func(srv *Server) {
			defer wg.Done()
			gwlog.Infof("gwserver: %s listening on %s", srv.Name, ln.Addr())
			if err := srv.HTTP.Serve(ln); err != nil && err != http.ErrServerClosed {
				select {
				case errCh <- gwerr.New(gwerr.ErrPlatform, err):
				default:
				}
			}
		}(s)
		return nil
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		_ = p.Shutdown(context.Background())
		<-done
		return nil
	case err := <-errCh:
		return err
	case <-done:
		return nil
	}
}

// Shutdown gracefully drains every registered server.
func (p *Pool) Shutdown(ctx context.Context) error {
	return p.MapRun(func(s *Server) error {
		return s.HTTP.Shutdown(ctx)
	})
}

// WaitNotify reports whether every currently-registered server has
// been started, letting callers (mainly tests) poll for Serve's
// goroutines to have picked up their listener before issuing a
// Shutdown.
func (p *Pool) WaitNotify() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.servers {
		s.mu.Lock()
		started := s.started
		s.mu.Unlock()
		if !started {
			return false
		}
	}
	return true
}
