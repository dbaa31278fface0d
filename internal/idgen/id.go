// Package idgen mints connection and span identifiers for log correlation,
// grounded on bassosimone-nop's spanid.go idiom (a uuid per traced unit).
package idgen

import "github.com/google/uuid"

// NewSpanID returns a fresh identifier suitable for a gwlog "span" field,
// tying together every log line emitted while handling one connection or
// one upstream request attempt.
func NewSpanID() string {
	return uuid.NewString()
}
