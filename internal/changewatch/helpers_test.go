package changewatch_test

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/microsoft/wil-sub001/internal/changewatch"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
	quiet   = 150 * time.Millisecond
)

// recorder collects callback invocations and checks they never overlap.
type recorder struct {
	mu      sync.Mutex
	kinds   []changewatch.ChangeKind
	calls   chan changewatch.ChangeKind
	active  atomic.Int32
	overlap atomic.Bool

	// during runs inside the callback, if set.
	during func(changewatch.ChangeKind)
}

func newRecorder() *recorder {
	return &recorder{calls: make(chan changewatch.ChangeKind, 64)}
}

func (r *recorder) callback(kind changewatch.ChangeKind) {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)

	r.mu.Lock()
	r.kinds = append(r.kinds, kind)
	during := r.during
	r.mu.Unlock()
	if during != nil {
		during(kind)
	}
	r.calls <- kind
}

func (r *recorder) Kinds() []changewatch.ChangeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]changewatch.ChangeKind(nil), r.kinds...)
}

func (r *recorder) next(t *testing.T) changewatch.ChangeKind {
	t.Helper()
	select {
	case kind := <-r.calls:
		return kind
	case <-time.After(waitFor):
		require.FailNow(t, "callback was not invoked")
		return 0
	}
}

func (r *recorder) none(t *testing.T) {
	t.Helper()
	select {
	case kind := <-r.calls:
		require.FailNow(t, "unexpected callback", "kind: %s", kind)
	case <-time.After(quiet):
	}
}

// finalizations counts finalize hook calls.
type finalizations struct {
	n    atomic.Int32
	done chan string
}

func newFinalizations() *finalizations {
	return &finalizations{done: make(chan string, 8)}
}

func (f *finalizations) hook(id string) {
	f.n.Add(1)
	f.done <- id
}

func (f *finalizations) Count() int {
	return int(f.n.Load())
}

func (f *finalizations) wait(t *testing.T) string {
	t.Helper()
	select {
	case id := <-f.done:
		return id
	case <-time.After(waitFor):
		require.FailNow(t, "watch was not finalized")
		return ""
	}
}

// failures records fail-fast calls instead of exiting.
type failures struct {
	mu   sync.Mutex
	errs []error
}

func (f *failures) hook(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *failures) Errors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
