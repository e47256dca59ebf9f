package changewatch

import (
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/failfast"
	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/notify"
	"github.com/microsoft/wil-sub001/internal/resource"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// stateResources is everything that must be torn down exactly once.
type stateResources struct {
	handle    *resource.Handle
	sub       notify.Subscription
	ev        *waitable.Event
	binding   *executor.Binding
	ownedPool *executor.Pool
}

type watcherState struct {
	id        string
	path      string
	recursive bool
	callback  func(ChangeKind)

	// refs starts at 1 for the owner. A running handler holds one more.
	refs atomic.Int64

	// mu serializes the decision of who finalizes, and guards res.
	mu  sync.Mutex
	res *stateResources

	failFast   failfast.Func
	tracer     trace.Tracer
	onFinalize func(id string)
}

// tryAddRef takes a reference only if the state is still live. A false
// return means finalization has begun and the caller must not touch the
// state again, not even to release.
func (s *watcherState) tryAddRef() bool {
	for {
		n := s.refs.Load()
		if n < 1 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops the owner's reference. It must never run on the binding's
// own handler goroutine: on the last reference it blocks until any handler
// that is still unwinding has returned.
func (s *watcherState) release() {
	if s.refs.Add(-1) != 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.res
	s.res = nil
	s.finalizeFromOwner(res)
}

// releaseFromCallback drops the handler's reference at the end of every
// invocation. rearm asks for the next notification if the state survives.
func (s *watcherState) releaseFromCallback(rearm bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs.Add(-1) == 0 {
		res := s.res
		s.res = nil
		s.finalizeFromHandler(res)
		return
	}
	if rearm && s.res != nil {
		s.res.binding.Rearm()
	}
}

func (s *watcherState) finalizeFromOwner(res *stateResources) {
	if res == nil {
		return
	}
	res.binding.ReleaseBlocking()
	s.closeResources(res, "owner")
}

// finalizeFromHandler runs on the binding's own handler goroutine, so it
// must not wait for that handler to finish.
func (s *watcherState) finalizeFromHandler(res *stateResources) {
	if res == nil {
		return
	}
	res.binding.ReleaseNonblocking()
	s.closeResources(res, "handler")
}

func (s *watcherState) closeResources(res *stateResources, by string) {
	if err := res.sub.Close(); err != nil {
		log.ErrorErr(log.CatWatcher, "closing subscription", err, "id", s.id)
	}
	if err := res.handle.Close(); err != nil {
		log.ErrorErr(log.CatWatcher, "closing handle", err, "id", s.id)
	}
	res.ev.Reset()
	if res.ownedPool != nil {
		// The binding is already released, so this does not wait on it.
		res.ownedPool.Close()
	}
	log.Debug(log.CatWatcher, "watch finalized", "id", s.id, "path", s.path, "by", by)
	if s.onFinalize != nil {
		s.onFinalize(s.id)
	}
}
