// Package metrics defines the Sink boundary (spec.md §4.12): Prometheus
// exposition itself is out of scope per spec.md §1, so the core only ever
// calls this opaque interface. promadapter.go provides the one
// implementation that actually imports prometheus/client_golang, kept
// deliberately thin.
package metrics

// Sink is called by every component that needs to record an observation.
// The no-op Sink is the default; a real exporter is wired in by whatever
// process starts the gateway.
type Sink interface {
	IncRequests(proto, status string)
	ObserveLatency(proto string, seconds float64)
	SetGaugeBackendHealthy(backend string, healthy bool)
	IncRateLimited(scope string)
}

type noopSink struct{}

func (noopSink) IncRequests(string, string)             {}
func (noopSink) ObserveLatency(string, float64)          {}
func (noopSink) SetGaugeBackendHealthy(string, bool)     {}
func (noopSink) IncRateLimited(string)                   {}

func NoOp() Sink { return noopSink{} }
