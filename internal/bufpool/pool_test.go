package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(2, 4096)

	h1, err := p.Acquire()
	require.NoError(t, err)
	h2, err := p.Acquire()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	assert.EqualValues(t, 2, p.InUse())

	p.Release(h1)
	assert.EqualValues(t, 1, p.InUse())

	h3, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, h1, h3)

	p.Release(h2)
	p.Release(h3)
	assert.EqualValues(t, 0, p.InUse())
}

func TestAcquireExhaustion(t *testing.T) {
	p := New(1, 64)

	_, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	require.Error(t, err)
}

func TestDoubleReleasePanics(t *testing.T) {
	p := New(1, 64)
	h, err := p.Acquire()
	require.NoError(t, err)

	p.Release(h)
	assert.Panics(t, func() {
		p.Release(h)
	})
}

func TestBytesZeroedOnRelease(t *testing.T) {
	p := New(1, 8)
	h, err := p.Acquire()
	require.NoError(t, err)

	b := p.Bytes(h)
	copy(b, []byte("abcdefgh"))
	p.Release(h)

	h2, err := p.Acquire()
	require.NoError(t, err)
	for _, c := range p.Bytes(h2) {
		assert.Equal(t, byte(0), c)
	}
}
