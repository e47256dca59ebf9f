package changewatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/resource"
	"github.com/microsoft/wil-sub001/internal/tracing"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// Watcher is the owning handle of a change watch. The zero value is an
// unarmed Watcher. A Watcher must not be copied; use Take to move it.
type Watcher struct {
	state atomic.Pointer[watcherState]
}

// Create watches relativePath beneath root. Callback runs on an executor
// goroutine, never concurrently with itself.
func Create(root, relativePath string, recursive bool, callback func(ChangeKind), opts ...Option) (*Watcher, error) {
	return createAt(root, relativePath, recursive, callback, newOptions(opts))
}

// CreateFromHandle watches the object behind h. The watcher duplicates h;
// the caller keeps ownership of its own handle.
func CreateFromHandle(h *resource.Handle, recursive bool, callback func(ChangeKind), opts ...Option) (*Watcher, error) {
	return createFromHandle(h, recursive, callback, newOptions(opts))
}

// MustCreate is like Create but panics on error.
func MustCreate(root, relativePath string, recursive bool, callback func(ChangeKind), opts ...Option) *Watcher {
	w, err := Create(root, relativePath, recursive, callback, opts...)
	if err != nil {
		panic(err)
	}
	return w
}

// MustCreateFromHandle is like CreateFromHandle but panics on error.
func MustCreateFromHandle(h *resource.Handle, recursive bool, callback func(ChangeKind), opts ...Option) *Watcher {
	w, err := CreateFromHandle(h, recursive, callback, opts...)
	if err != nil {
		panic(err)
	}
	return w
}

// CreateOrExit is like Create but hands any error to the fail-fast hook,
// which by default terminates the process.
func CreateOrExit(root, relativePath string, recursive bool, callback func(ChangeKind), opts ...Option) *Watcher {
	o := newOptions(opts)
	w, err := createAt(root, relativePath, recursive, callback, o)
	if err != nil {
		o.FailFast(err)
		return nil
	}
	return w
}

// CreateFromHandleOrExit is like CreateFromHandle but hands any error to the
// fail-fast hook.
func CreateFromHandleOrExit(h *resource.Handle, recursive bool, callback func(ChangeKind), opts ...Option) *Watcher {
	o := newOptions(opts)
	w, err := createFromHandle(h, recursive, callback, o)
	if err != nil {
		o.FailFast(err)
		return nil
	}
	return w
}

func createAt(root, relativePath string, recursive bool, callback func(ChangeKind), o Options) (*Watcher, error) {
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	h, err := resource.Open(root, relativePath)
	if err != nil {
		return nil, fmt.Errorf("opening watched resource: %w", err)
	}
	return create(h, recursive, callback, o)
}

func createFromHandle(h *resource.Handle, recursive bool, callback func(ChangeKind), o Options) (*Watcher, error) {
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	if h == nil {
		return nil, errors.New("handle is nil")
	}
	dup, err := h.Dup()
	if err != nil {
		return nil, fmt.Errorf("duplicating watched handle: %w", err)
	}
	return create(dup, recursive, callback, o)
}

// create takes ownership of h. On failure everything built so far,
// including h, is released before returning.
func create(h *resource.Handle, recursive bool, callback func(ChangeKind), o Options) (w *Watcher, err error) {
	id := o.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := &watcherState{
		id:         id,
		path:       h.Path(),
		recursive:  recursive,
		callback:   callback,
		failFast:   o.FailFast,
		tracer:     o.Tracer,
		onFinalize: o.onFinalize,
	}
	s.refs.Store(1)

	_, span := s.tracer.Start(context.Background(), tracing.SpanCreate,
		trace.WithAttributes(
			attribute.String(tracing.AttrWatchID, s.id),
			attribute.String(tracing.AttrWatchPath, s.path),
			attribute.Bool(tracing.AttrRecursive, recursive),
		),
	)
	defer span.End()

	res := &stateResources{handle: h, ev: waitable.New()}
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		log.ErrorErr(log.CatWatcher, "watch setup failed", err, "path", s.path)
		if res.sub != nil {
			_ = res.sub.Close()
		}
		_ = res.handle.Close()
		if res.ownedPool != nil {
			res.ownedPool.Close()
		}
	}()

	res.sub, err = o.Notifier.Open(h, recursive)
	if err != nil {
		return nil, fmt.Errorf("opening change subscription: %w", err)
	}
	if armErr := res.sub.Arm(res.ev); classify(armErr) != outcomeModify {
		return nil, fmt.Errorf("arming change subscription: %w", armErr)
	}

	pool := o.Pool
	if pool == nil {
		pool = executor.NewPool(executor.Config{Workers: 1})
		res.ownedPool = pool
	}

	// Hold mu until the binding is recorded so a handler that fires at once
	// cannot observe a state without one.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.res = res
	res.binding, err = pool.Bind(res.ev, s.onSignal)
	if err != nil {
		s.res = nil
		return nil, fmt.Errorf("binding executor: %w", err)
	}

	log.Info(log.CatWatcher, "watch created", "id", s.id, "path", s.path, "recursive", recursive)
	w = &Watcher{}
	w.state.Store(s)
	return w, nil
}

// Reset releases the watch. It is safe to call from any goroutine, more than
// once, and from inside the Watcher's own callback. Reset does not wait for
// a notification that has not fired yet.
func (w *Watcher) Reset() {
	if w == nil {
		return
	}
	if s := w.state.Swap(nil); s != nil {
		s.release()
	}
}

// Close is Reset for io.Closer callers. It always returns nil.
func (w *Watcher) Close() error {
	w.Reset()
	return nil
}

// Armed reports whether w still owns a watch.
func (w *Watcher) Armed() bool {
	return w != nil && w.state.Load() != nil
}

// ID returns the watch id used in logs and traces, or "" when unarmed.
func (w *Watcher) ID() string {
	if w == nil {
		return ""
	}
	if s := w.state.Load(); s != nil {
		return s.id
	}
	return ""
}

// Take moves the watch out of w into a new Watcher, leaving w unarmed.
func (w *Watcher) Take() *Watcher {
	moved := &Watcher{}
	if w != nil {
		moved.state.Store(w.state.Swap(nil))
	}
	return moved
}

// Swap exchanges the watches owned by w and other. It is not atomic with
// respect to concurrent use of both watchers.
func (w *Watcher) Swap(other *Watcher) {
	if w == nil || other == nil || w == other {
		return
	}
	mine := w.state.Load()
	w.state.Store(other.state.Swap(mine))
}
