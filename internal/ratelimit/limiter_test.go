package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdmitBurstThenDeny(t *testing.T) {
	l := New(5, 100, 1.0, time.Minute, nil)

	admits := 0
	var lastVerdict Verdict
	for i := 0; i < 6; i++ {
		v := l.Admit("10.0.0.1")
		if v == Admit {
			admits++
		}
		lastVerdict = v
	}

	assert.Equal(t, 5, admits)
	assert.Equal(t, DenyGlobal, lastVerdict)
}

func TestPerIPIndependentBuckets(t *testing.T) {
	l := New(1000, 1, 1.0, time.Minute, nil)

	assert.Equal(t, Admit, l.Admit("10.0.0.1"))
	assert.Equal(t, DenyPerIP, l.Admit("10.0.0.1"))
	assert.Equal(t, Admit, l.Admit("10.0.0.2"))
}

func TestSweepEvictsIdleBuckets(t *testing.T) {
	l := New(1000, 1000, 1.0, time.Millisecond, nil)
	l.Admit("10.0.0.1")
	assert.Len(t, l.perIP, 1)

	time.Sleep(5 * time.Millisecond)
	l.Sweep(time.Now().Add(2 * time.Second))
	assert.Len(t, l.perIP, 0)
}

func TestKernelOffloadBypassesUserspace(t *testing.T) {
	l := New(1, 1, 1.0, time.Minute, nil)
	l.offload = alwaysEnabled{}

	for i := 0; i < 10; i++ {
		assert.Equal(t, Admit, l.Admit("10.0.0.1"))
	}
}

type alwaysEnabled struct{ noopOffload }

func (alwaysEnabled) Enabled() bool { return true }
