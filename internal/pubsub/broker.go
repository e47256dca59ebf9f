package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

const defaultBufferSize = 64

// ErrBrokerClosed is returned by PublishWait once Close has been called.
var ErrBrokerClosed = errors.New("broker closed")

// subscriber is one subscription. gone is closed when the subscription ends,
// before ch is closed, so a waiting publisher can give up on it first.
type subscriber[T any] struct {
	ch       chan Event[T]
	gone     chan struct{}
	goneOnce sync.Once
}

func (s *subscriber[T]) leave() {
	s.goneOnce.Do(func() { close(s.gone) })
}

// Broker fans events out to every current subscriber.
//
// Publish never blocks and counts what it could not deliver; log lines use it.
// PublishWait applies back-pressure instead, for events that must not be lost
// such as delivered changes headed for the journal.
type Broker[T any] struct {
	mu         sync.RWMutex
	subs       map[*subscriber[T]]struct{}
	bufferSize int

	done      chan struct{}
	closeOnce sync.Once

	dropped atomic.Uint64
}

// NewBroker creates a new broker with the default buffer size (64).
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithBuffer[T](defaultBufferSize)
}

// NewBrokerWithBuffer creates a broker whose subscriptions buffer size events.
func NewBrokerWithBuffer[T any](size int) *Broker[T] {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &Broker[T]{
		subs:       make(map[*subscriber[T]]struct{}),
		done:       make(chan struct{}),
		bufferSize: size,
	}
}

func (b *Broker[T]) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Subscribe returns a channel of events. It is closed when ctx is cancelled
// or the broker is closed.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed() {
		ch := make(chan Event[T])
		close(ch)
		return ch
	}

	sub := &subscriber[T]{
		ch:   make(chan Event[T], b.bufferSize),
		gone: make(chan struct{}),
	}
	b.subs[sub] = struct{}{}

	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return // Close owns the channel now
		}
		// Release a PublishWait blocked on us before waiting for the lock it holds.
		sub.leave()

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; !ok {
			return // Already closed
		}
		delete(b.subs, sub)
		close(sub.ch)
	}()

	return sub.ch
}

func (b *Broker[T]) event(eventType EventType, payload T) Event[T] {
	return Event[T]{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publish sends an event to all subscribers without blocking. A subscriber
// whose buffer is full misses the event and the miss is counted in Dropped.
func (b *Broker[T]) Publish(eventType EventType, payload T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return
	}

	event := b.event(eventType, payload)
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1) // Full buffer
		}
	}
}

// PublishWait sends an event to all subscribers, waiting for buffer space.
// Subscribers that end while it waits are skipped. It returns ctx.Err() if
// ctx ends first, counting the undelivered copies as dropped, and
// ErrBrokerClosed if the broker is closed.
func (b *Broker[T]) PublishWait(ctx context.Context, eventType EventType, payload T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed() {
		return ErrBrokerClosed
	}

	event := b.event(eventType, payload)
	pending := len(b.subs)
	for sub := range b.subs {
		select {
		case sub.ch <- event:
		case <-sub.gone:
		case <-b.done:
			return ErrBrokerClosed
		case <-ctx.Done():
			b.dropped.Add(uint64(pending))
			return ctx.Err()
		}
		pending--
	}
	return nil
}

// Close shuts down the broker and all subscriber channels. It is safe to call
// more than once.
func (b *Broker[T]) Close() {
	// Closing done first wakes any PublishWait so the write lock can be taken.
	b.closeOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.leave()
		close(sub.ch)
	}
	b.subs = nil
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}
