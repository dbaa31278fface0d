package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpSinkDoesNothing(t *testing.T) {
	s := NoOp()
	assert.NotPanics(t, func() {
		s.IncRequests("h1", "200")
		s.ObserveLatency("h1", 0.01)
		s.SetGaugeBackendHealthy("b1", true)
		s.IncRateLimited("global")
	})
}

func TestPromSinkRecordsCounters(t *testing.T) {
	s := NewPromSink()
	s.IncRequests("h2", "200")
	s.IncRequests("h2", "200")
	s.IncRateLimited("per-ip")
	s.SetGaugeBackendHealthy("backend-a", true)

	require.Equal(t, float64(2), testutil.ToFloat64(s.requests.WithLabelValues("h2", "200")))
	require.Equal(t, float64(1), testutil.ToFloat64(s.rateLimits.WithLabelValues("per-ip")))
	require.Equal(t, float64(1), testutil.ToFloat64(s.backendUp.WithLabelValues("backend-a")))
}
