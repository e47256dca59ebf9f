// Package notifytest provides a scripted Notifier for exercising watchers
// without touching the filesystem.
package notifytest

import (
	"errors"
	"sync"

	"github.com/microsoft/wil-sub001/internal/notify"
	"github.com/microsoft/wil-sub001/internal/resource"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// Notifier hands out Subscriptions whose Arm results are queued by the test.
type Notifier struct {
	mu      sync.Mutex
	subs    []*Subscription
	openErr error
	seed    []error
}

// New returns an empty fake Notifier.
func New() *Notifier {
	return &Notifier{}
}

// FailOpen makes the next Open calls fail with err.
func (n *Notifier) FailOpen(err error) {
	n.mu.Lock()
	n.openErr = err
	n.mu.Unlock()
}

// SeedArm queues errs on every Subscription opened from now on.
func (n *Notifier) SeedArm(errs ...error) {
	n.mu.Lock()
	n.seed = append([]error(nil), errs...)
	n.mu.Unlock()
}

// Open implements notify.Notifier.
func (n *Notifier) Open(h *resource.Handle, recursive bool) (notify.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.openErr != nil {
		return nil, n.openErr
	}
	sub := &Subscription{recursive: recursive, results: append([]error(nil), n.seed...)}
	n.subs = append(n.subs, sub)
	return sub, nil
}

// Last returns the most recently opened Subscription, or nil.
func (n *Notifier) Last() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.subs) == 0 {
		return nil
	}
	return n.subs[len(n.subs)-1]
}

// Subscription records arms and lets the test fire changes.
type Subscription struct {
	mu        sync.Mutex
	recursive bool
	armed     *waitable.Event
	results   []error
	arms      int
	closed    bool
}

// Recursive reports the flag the subscription was opened with.
func (s *Subscription) Recursive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recursive
}

// QueueArm sets the result of a future Arm call. Results are consumed in
// order; once the queue is empty Arm succeeds.
func (s *Subscription) QueueArm(err error) {
	s.mu.Lock()
	s.results = append(s.results, err)
	s.mu.Unlock()
}

// Arm implements notify.Subscription.
func (s *Subscription) Arm(ev *waitable.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return notify.ErrClosed
	}
	s.arms++
	var err error
	if len(s.results) > 0 {
		err = s.results[0]
		s.results = s.results[1:]
	}
	if notify.Armed(err) {
		s.armed = ev
	}
	return err
}

// Fire simulates a change. It reports whether an armed event was set.
func (s *Subscription) Fire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.armed == nil {
		return false
	}
	s.armed.Set()
	s.armed = nil
	return true
}

// IsArmed reports whether a Fire would currently be delivered.
func (s *Subscription) IsArmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed != nil
}

// Arms returns how many times Arm was called.
func (s *Subscription) Arms() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arms
}

// Closed reports whether Close was called.
func (s *Subscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements notify.Subscription.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("subscription closed twice")
	}
	s.closed = true
	s.armed = nil
	return nil
}
