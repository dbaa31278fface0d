// Package filter defines the plugin-filter boundary spec.md §9 "Dynamic
// dispatch" describes: a fixed-order list of objects with a two-method
// capability set, each returning continue/stop/error. The WASM plugin host
// itself is out of scope (spec.md §1); this is the pure interface contract.
package filter

// Verdict is the tri-state result of a filter stage.
type Verdict uint8

const (
	Continue Verdict = iota
	Stop
	Error
)

// Filter is one entry in the fixed-order pre/post request filter chain.
type Filter interface {
	OnRequest(path string, header map[string][]string) Verdict
	OnResponse(status int, header map[string]string) Verdict
}
