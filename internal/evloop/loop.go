// Package evloop implements C3: a single-threaded cooperative scheduler
// over a completion queue. Go has no corpus-grounded io_uring binding (see
// DESIGN.md Open Decision), so completions are delivered over a bounded Go
// channel fed by per-operation goroutines (one per in-flight read/write),
// preserving the single-threaded *observable* state machine spec.md §5
// requires: exactly one goroutine (Loop.Run's caller) ever dispatches a
// completion and mutates connection/protocol state.
package evloop

import (
	"context"
	"time"

	"github.com/blitzgw/gateway/internal/gwerr"
)

// OpKind tags the operation that produced a completion.
type OpKind uint8

const (
	OpAccept OpKind = iota
	OpRead
	OpWrite
	OpSendTo // UDP send, QUIC datagram path
	OpRecvFrom
)

// Completion carries the tagged user-data word spec.md §4.3 describes:
// socket (FD) plus operation kind, decoded on completion.
type Completion struct {
	FD     int
	Kind   OpKind
	Data   []byte
	Err    error
}

// Submission describes one asynchronous operation to perform. Fn is run on
// its own goroutine; its result is delivered as exactly one Completion (or
// none, if the loop is stopped first).
type Submission struct {
	FD   int
	Kind OpKind
	Fn   func(ctx context.Context) (data []byte, err error)
}

// Loop is the single-threaded dispatcher. No operation on the same
// descriptor may be in flight simultaneously with itself; callers are
// responsible for not submitting a second read/write for an FD that
// already has one outstanding (the Connection's HasRead/HasWrite flags in
// internal/conntable exist for exactly this purpose).
type Loop struct {
	ctx       context.Context
	cancel    context.CancelFunc
	completed chan Completion
	submitCap int
	inFlight  int
}

// New builds a loop whose completion channel holds at most queueDepth
// undelivered completions. Submission-queue exhaustion (spec.md §4.3) is
// modeled as Submit returning an ErrSubmissionExhausted error when the
// channel is full: the caller
// must abort the triggering work cleanly (return the buffer, close the
// connection) rather than block or grow the queue.
func New(queueDepth int) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		ctx:       ctx,
		cancel:    cancel,
		completed: make(chan Completion, queueDepth),
		submitCap: queueDepth,
	}
}

// Submit starts s.Fn on its own goroutine. It returns an
// ErrSubmissionExhausted error without starting the goroutine if the
// completion channel is already at capacity undelivered completions deep,
// modeling a full submission queue.
func (l *Loop) Submit(s Submission) error {
	if len(l.completed) >= l.submitCap {
		return gwerr.New(gwerr.ErrSubmissionExhausted)
	}

	go func() {
		data, err := s.Fn(l.ctx)
		select {
		case l.completed <- Completion{FD: s.FD, Kind: s.Kind, Data: data, Err: err}:
		case <-l.ctx.Done():
		}
	}()
	return nil
}

// Next blocks until either a completion is ready, the once-per-second
// housekeeping tick fires (tick==true), or the loop is stopped (ok==false).
func (l *Loop) Next(housekeeping time.Duration) (c Completion, tick bool, ok bool) {
	timer := time.NewTimer(housekeeping)
	defer timer.Stop()

	select {
	case c, open := <-l.completed:
		if !open {
			return Completion{}, false, false
		}
		return c, false, true
	case <-timer.C:
		return Completion{}, true, true
	case <-l.ctx.Done():
		return Completion{}, false, false
	}
}

// Stop cancels all in-flight submissions and closes the loop.
func (l *Loop) Stop() {
	l.cancel()
}

// Done reports the loop's cancellation channel, for composing with select
// statements elsewhere (e.g. the reload manager's Poll call site).
func (l *Loop) Done() <-chan struct{} {
	return l.ctx.Done()
}
