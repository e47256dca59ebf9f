package executor

import (
	"context"
	"sync"

	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// Binding ties one event to one handler.
type Binding struct {
	pool    *Pool
	ev      *waitable.Event
	handler func()

	ctx    context.Context
	cancel context.CancelFunc
	rearm  chan struct{}

	mu        sync.Mutex
	released  bool
	needRearm bool
	inflight  chan struct{} // closed when the current invocation returns
}

// Rearm makes the binding deliver the next signal. Calls on an armed or
// released binding are ignored.
func (b *Binding) Rearm() {
	b.mu.Lock()
	if b.released || !b.needRearm {
		b.mu.Unlock()
		return
	}
	b.needRearm = false
	b.mu.Unlock()

	select {
	case b.rearm <- struct{}{}:
	default:
	}
}

// ReleaseBlocking unregisters the binding and waits for an in-flight handler
// to return. Calling it from the binding's own handler deadlocks; use
// ReleaseNonblocking there.
func (b *Binding) ReleaseBlocking() {
	inflight := b.release()
	if inflight != nil {
		<-inflight
	}
}

// ReleaseNonblocking unregisters the binding without waiting. An invocation
// that is already running finishes normally; no new one starts.
func (b *Binding) ReleaseNonblocking() {
	_ = b.release()
}

func (b *Binding) release() chan struct{} {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return nil
	}
	b.released = true
	inflight := b.inflight
	b.mu.Unlock()

	b.cancel()
	b.pool.forget(b)
	return inflight
}

// dispatch waits for the event, runs one invocation, and then waits for
// both that invocation to finish and a Rearm before listening again.
func (b *Binding) dispatch() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-b.ev.C():
		}

		if err := b.pool.sem.Acquire(b.ctx, 1); err != nil {
			return
		}

		b.mu.Lock()
		if b.released {
			b.mu.Unlock()
			b.pool.sem.Release(1)
			return
		}
		done := make(chan struct{})
		b.inflight = done
		b.needRearm = true
		b.mu.Unlock()

		go b.invoke(done)

		select {
		case <-done:
		case <-b.ctx.Done():
			return
		}
		select {
		case <-b.rearm:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Binding) invoke(done chan struct{}) {
	p := b.pool
	p.running.Add(1)
	p.invocations.Add(1)
	defer func() {
		p.running.Add(-1)
		p.sem.Release(1)

		b.mu.Lock()
		if b.inflight == done {
			b.inflight = nil
		}
		b.mu.Unlock()
		close(done)
	}()

	b.handler()
	log.Debug(log.CatExecutor, "handler returned")
}
