package conntable

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzgw/gateway/internal/bufpool"
)

func TestInsertLookupRemove(t *testing.T) {
	bp := bufpool.New(4, 64)
	tbl := New(context.Background(), bp)

	c := tbl.Insert(7)
	require.NotNil(t, c)

	got, ok := tbl.Lookup(7)
	require.True(t, ok)
	assert.Same(t, c, got)

	tbl.Remove(7)
	_, ok = tbl.Lookup(7)
	assert.False(t, ok)

	// idempotent
	tbl.Remove(7)
}

func TestLookupUnknownDescriptor(t *testing.T) {
	tbl := New(context.Background(), bufpool.New(1, 64))
	_, ok := tbl.Lookup(42)
	assert.False(t, ok)
}

func TestRemoveReleasesOwnedBuffers(t *testing.T) {
	bp := bufpool.New(1, 64)
	tbl := New(context.Background(), bp)

	c := tbl.Insert(1)
	h, err := bp.Acquire()
	require.NoError(t, err)
	c.ReadBuf = h
	c.HasRead = true

	assert.EqualValues(t, 1, bp.InUse())
	tbl.Remove(1)
	assert.EqualValues(t, 0, bp.InUse())
}

func TestSweepIdle(t *testing.T) {
	bp := bufpool.New(2, 64)
	tbl := New(context.Background(), bp)

	c := tbl.Insert(1)
	c.LastActive = time.Now().Add(-time.Hour)
	tbl.Insert(2) // fresh

	var closed []int
	tbl.SweepIdle(time.Minute, func(fd int) { closed = append(closed, fd) })

	assert.Equal(t, []int{1}, closed)
	_, ok := tbl.Lookup(1)
	assert.False(t, ok)
	_, ok = tbl.Lookup(2)
	assert.True(t, ok)
}
