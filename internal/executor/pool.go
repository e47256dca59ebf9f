// Package executor runs handlers on a bounded pool of goroutines when a
// waitable event is signaled.
//
// A Binding delivers at most one invocation per signal and then goes inert
// until Rearm is called, so invocations of one binding never overlap. Bindings
// are torn down with ReleaseBlocking from any goroutine other than the
// binding's own handler, or with ReleaseNonblocking from inside it.
package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// DefaultWorkers is the pool size used when Config.Workers is not positive.
const DefaultWorkers = 4

// ErrPoolClosed is returned by Bind after Close.
var ErrPoolClosed = errors.New("executor pool closed")

// Config controls pool sizing.
type Config struct {
	// Workers bounds how many handlers run at once across all bindings.
	Workers int `mapstructure:"workers"`
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Bindings    int
	Running     int64
	Invocations uint64
}

// Pool owns the worker budget shared by all of its bindings.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	bindings map[*Binding]struct{}
	closed   bool

	running     atomic.Int64
	invocations atomic.Uint64
}

// NewPool creates a Pool. Workers <= 0 means DefaultWorkers.
func NewPool(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:      semaphore.NewWeighted(int64(workers)),
		ctx:      ctx,
		cancel:   cancel,
		bindings: make(map[*Binding]struct{}),
	}
}

// Bind registers handler to run once the next time ev is set.
func (p *Pool) Bind(ev *waitable.Event, handler func()) (*Binding, error) {
	if ev == nil {
		return nil, errors.New("event is nil")
	}
	if handler == nil {
		return nil, errors.New("handler is nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	ctx, cancel := context.WithCancel(p.ctx)
	b := &Binding{
		pool:    p,
		ev:      ev,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		rearm:   make(chan struct{}, 1),
	}
	p.bindings[b] = struct{}{}
	go b.dispatch()

	log.Debug(log.CatExecutor, "binding registered", "bindings", len(p.bindings))
	return b, nil
}

// Close releases every remaining binding, waiting for in-flight handlers.
// It must not be called from inside a handler.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	remaining := make([]*Binding, 0, len(p.bindings))
	for b := range p.bindings {
		remaining = append(remaining, b)
	}
	p.mu.Unlock()

	for _, b := range remaining {
		b.ReleaseBlocking()
	}
	p.cancel()
}

// Stats reports current activity.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	bindings := len(p.bindings)
	p.mu.Unlock()
	return Stats{
		Bindings:    bindings,
		Running:     p.running.Load(),
		Invocations: p.invocations.Load(),
	}
}

func (p *Pool) forget(b *Binding) {
	p.mu.Lock()
	delete(p.bindings, b)
	p.mu.Unlock()
}
