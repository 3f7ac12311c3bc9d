package relay

import (
	"sync"
	"sync/atomic"
)

// AbortSignal is the one-shot cancellation flag for a single exchange. It is
// tripped exactly once, when the engine reports client disconnection or a
// native write fails, and stays set for the rest of the exchange. Every stage
// that performs a side-effecting write checks it first.
type AbortSignal struct {
	once sync.Once
	set  atomic.Bool
	done chan struct{}
}

// NewAbortSignal returns an untripped signal.
func NewAbortSignal() *AbortSignal {
	return &AbortSignal{done: make(chan struct{})}
}

// Trip sets the signal. Safe to call from any goroutine, any number of times.
func (s *AbortSignal) Trip() {
	s.once.Do(func() {
		s.set.Store(true)
		close(s.done)
	})
}

// Set reports whether the signal has been tripped.
func (s *AbortSignal) Set() bool { return s.set.Load() }

// Done returns a channel closed when the signal trips.
func (s *AbortSignal) Done() <-chan struct{} { return s.done }
