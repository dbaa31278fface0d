package metrics

import "github.com/prometheus/client_golang/prometheus"

// PromSink is the thin Sink implementation backed by
// prometheus/client_golang. It never registers an HTTP handler itself
// (exposition is out of scope per spec.md §1); callers outside the core
// register promSink.Registry() wherever their own /metrics endpoint lives.
type PromSink struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	backendUp  *prometheus.GaugeVec
	rateLimits *prometheus.CounterVec
}

func NewPromSink() *PromSink {
	reg := prometheus.NewRegistry()
	s := &PromSink{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blitzgw_requests_total",
			Help: "Total requests handled, by protocol and status class.",
		}, []string{"proto", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "blitzgw_request_duration_seconds",
			Help: "Request handling latency, by protocol.",
		}, []string{"proto"}),
		backendUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "blitzgw_backend_healthy",
			Help: "1 if the backend is currently healthy, else 0.",
		}, []string{"backend"}),
		rateLimits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blitzgw_rate_limited_total",
			Help: "Requests denied by the rate limiter, by scope (global/per-ip).",
		}, []string{"scope"}),
	}
	reg.MustRegister(s.requests, s.latency, s.backendUp, s.rateLimits)
	return s
}

func (s *PromSink) Registry() *prometheus.Registry { return s.registry }

func (s *PromSink) IncRequests(proto, status string) {
	s.requests.WithLabelValues(proto, status).Inc()
}

func (s *PromSink) ObserveLatency(proto string, seconds float64) {
	s.latency.WithLabelValues(proto).Observe(seconds)
}

func (s *PromSink) SetGaugeBackendHealthy(backend string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	s.backendUp.WithLabelValues(backend).Set(v)
}

func (s *PromSink) IncRateLimited(scope string) {
	s.rateLimits.WithLabelValues(scope).Inc()
}
