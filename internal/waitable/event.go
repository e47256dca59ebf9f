// Package waitable provides an auto-resetting event that one goroutine sets
// and another consumes.
package waitable

import "context"

// Event is an auto-resetting signal. Set marks it signaled; a single receive
// from C (or a successful Wait) consumes the signal and resets it. Multiple
// Set calls before a consumer observes the event collapse into one.
type Event struct {
	ch chan struct{}
}

// New returns an unsignaled Event.
func New() *Event {
	return &Event{ch: make(chan struct{}, 1)}
}

// Set signals the event. It never blocks.
func (e *Event) Set() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Reset clears a pending signal without waiting.
func (e *Event) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// C returns the channel that receives once per signal.
func (e *Event) C() <-chan struct{} {
	return e.ch
}

// IsSet reports whether a signal is pending, without consuming it.
func (e *Event) IsSet() bool {
	return len(e.ch) > 0
}

// Wait blocks until the event is signaled or ctx is done.
func (e *Event) Wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
