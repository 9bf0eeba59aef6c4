// Package lifecycle owns run cancellation for dgramfire.
//
// A run has exactly one [Signal]. Workers only read it; the [Controller] is the
// single writer and fires it from either the duration timer or an external
// termination request, whichever happens first. Firing is idempotent and
// monotonic: once signaled, a Signal never resets.
package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cause names what fired a Signal.
type Cause string

const (
	CauseNone        Cause = ""
	CauseDuration    Cause = "duration"
	CauseTermination Cause = "termination"
	CauseCanceled    Cause = "canceled"
	CauseManual      Cause = "manual"
)

// Signal is the shared, idempotent cancellation flag of a run.
type Signal struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	fired  atomic.Bool
	cause  Cause
	stop   func() bool
}

// NewSignal creates an unsignaled Signal. Values of parent are visible through
// Context; cancellation of parent fires the Signal with CauseCanceled.
func NewSignal(parent context.Context) *Signal {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &Signal{ctx: ctx, cancel: cancel}
	s.stop = context.AfterFunc(parent, func() {
		s.SignalCause(CauseCanceled)
	})
	return s
}

// Signal fires the Signal manually. It reports whether this call fired it.
func (s *Signal) Signal() bool {
	return s.SignalCause(CauseManual)
}

// SignalCause fires the Signal, recording cause if this is the first call.
// Later calls are no-ops and return false.
func (s *Signal) SignalCause(cause Cause) bool {
	fired := false
	s.once.Do(func() {
		s.cause = cause
		s.fired.Store(true)
		s.cancel()
		fired = true
	})
	return fired
}

// IsSignaled is a non-blocking read of the flag.
func (s *Signal) IsSignaled() bool {
	return s.fired.Load()
}

// Done is closed once the Signal fires.
func (s *Signal) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is canceled once the Signal fires.
func (s *Signal) Context() context.Context {
	return s.ctx
}

// release detaches the Signal from its parent context.
func (s *Signal) release() {
	if s.stop != nil {
		s.stop()
	}
}

// Cause returns what fired the Signal, or CauseNone if it has not fired.
func (s *Signal) Cause() Cause {
	if !s.fired.Load() {
		return CauseNone
	}
	return s.cause
}
