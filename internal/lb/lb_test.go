package lb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWeightedRoundRobinRespectsWeight(t *testing.T) {
	b1 := NewBackend("b1", "10.0.0.1:80", 1, "")
	b2 := NewBackend("b2", "10.0.0.2:80", 2, "")
	pool := NewPool([]*Backend{b1, b2}, 4, time.Minute, 2, time.Second)

	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		counts[pool.Select().Name]++
	}

	assert.Equal(t, 2, counts["b1"])
	assert.Equal(t, 4, counts["b2"])
}

func TestSelectSkipsUnhealthyBackend(t *testing.T) {
	b1 := NewBackend("b1", "10.0.0.1:80", 1, "")
	b1.healthy = false
	b2 := NewBackend("b2", "10.0.0.2:80", 1, "")
	pool := NewPool([]*Backend{b1, b2}, 4, time.Minute, 2, time.Second)

	for i := 0; i < 4; i++ {
		assert.Equal(t, "b2", pool.Select().Name)
	}
}

func TestSelectFallsBackWhenAllUnhealthy(t *testing.T) {
	b1 := NewBackend("b1", "10.0.0.1:80", 1, "")
	b1.healthy = false
	pool := NewPool([]*Backend{b1}, 4, time.Minute, 2, time.Second)

	assert.NotNil(t, pool.Select())
}

func TestBackendHealthTransitions(t *testing.T) {
	b := NewBackend("b", "10.0.0.1:80", 1, "/health")
	assert.True(t, b.Healthy())

	b.recordFailure(3)
	b.recordFailure(3)
	assert.True(t, b.Healthy())
	b.recordFailure(3)
	assert.False(t, b.Healthy())

	b.recordSuccess()
	assert.True(t, b.Healthy())
}
