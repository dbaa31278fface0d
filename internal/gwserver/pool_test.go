package gwserver

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzgw/gateway/internal/gwconfig"
)

func TestAddGetDel(t *testing.T) {
	p := New()
	lc := gwconfig.ListenerConfig{Name: "plain", Addr: "127.0.0.1:0"}

	srv, err := p.Add(lc, http.NotFoundHandler())
	require.NoError(t, err)
	assert.Equal(t, "plain", srv.Name)

	got, ok := p.Get("plain")
	assert.True(t, ok)
	assert.Same(t, srv, got)

	p.Del("plain")
	_, ok = p.Get("plain")
	assert.False(t, ok)
}

func TestAddDuplicateNameRejected(t *testing.T) {
	p := New()
	lc := gwconfig.ListenerConfig{Name: "dup", Addr: "127.0.0.1:0"}
	_, err := p.Add(lc, http.NotFoundHandler())
	require.NoError(t, err)

	_, err = p.Add(lc, http.NotFoundHandler())
	assert.Error(t, err)
}

func TestListenAndServeShutdown(t *testing.T) {
	p := New()
	lc := gwconfig.ListenerConfig{Name: "plain", Addr: "127.0.0.1:0"}
	_, err := p.Add(lc, http.NotFoundHandler())
	require.NoError(t, err)

	require.NoError(t, p.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	assert.Eventually(t, p.WaitNotify, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after shutdown")
	}
}
