package changewatch_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/wil-sub001/internal/changewatch"
	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/notify"
	"github.com/microsoft/wil-sub001/internal/notify/notifytest"
	"github.com/microsoft/wil-sub001/internal/resource"
)

type fixture struct {
	root     string
	notifier *notifytest.Notifier
	rec      *recorder
	fin      *finalizations
	fail     *failures
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "watched.txt", "v1")
	return &fixture{
		root:     root,
		notifier: notifytest.New(),
		rec:      newRecorder(),
		fin:      newFinalizations(),
		fail:     &failures{},
	}
}

func (f *fixture) options(extra ...changewatch.Option) []changewatch.Option {
	return append([]changewatch.Option{
		changewatch.WithNotifier(f.notifier),
		changewatch.WithFailFast(f.fail.hook),
		changewatch.WithFinalizeHook(f.fin.hook),
	}, extra...)
}

func (f *fixture) create(t *testing.T, extra ...changewatch.Option) (*changewatch.Watcher, *notifytest.Subscription) {
	t.Helper()
	w, err := changewatch.Create(f.root, "watched.txt", false, f.rec.callback, f.options(extra...)...)
	require.NoError(t, err)
	t.Cleanup(w.Reset)
	sub := f.notifier.Last()
	require.NotNil(t, sub)
	return w, sub
}

// fire delivers a change once the handler has armed the subscription again.
func fire(t *testing.T, sub *notifytest.Subscription) {
	t.Helper()
	require.Eventually(t, sub.IsArmed, waitFor, tick, "subscription was not re-armed")
	require.True(t, sub.Fire())
}

func TestWatcher_ModifyRearms(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)
	require.True(t, w.Armed())
	require.NotEmpty(t, w.ID())
	require.Equal(t, 1, sub.Arms(), "create arms once")

	for range 3 {
		fire(t, sub)
		require.Equal(t, changewatch.Modify, f.rec.next(t))
	}
	require.Eventually(t, func() bool { return sub.Arms() == 4 }, waitFor, tick)
	require.Equal(t, 0, f.fin.Count())

	w.Reset()
	require.Empty(t, w.ID())
	require.Equal(t, 1, f.fin.Count(), "owner finalizes synchronously")
	require.True(t, sub.Closed())
	assert.False(t, f.rec.overlap.Load())
}

func TestWatcher_PartialAccessIsModify(t *testing.T) {
	f := newFixture(t)
	_, sub := f.create(t)
	sub.QueueArm(errors.Join(notify.ErrPartialAccess, errors.New("2 directories")))

	fire(t, sub)
	require.Equal(t, changewatch.Modify, f.rec.next(t))

	fire(t, sub)
	require.Equal(t, changewatch.Modify, f.rec.next(t))
}

func TestWatcher_DeleteIsTerminal(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)
	sub.QueueArm(notify.ErrResourceGone)

	fire(t, sub)
	require.Equal(t, changewatch.Delete, f.rec.next(t))

	require.Eventually(t, func() bool { return sub.Arms() == 2 }, waitFor, tick)
	require.False(t, sub.Fire(), "nothing re-arms after delete")
	f.rec.none(t)

	w.Reset()
	require.Equal(t, 1, f.fin.Count())
	require.True(t, sub.Closed())
	require.Equal(t, []changewatch.ChangeKind{changewatch.Delete}, f.rec.Kinds())
}

func TestWatcher_AccessRevokedIsSilent(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)
	sub.QueueArm(notify.ErrAccessRevoked)

	fire(t, sub)
	require.Eventually(t, func() bool { return sub.Arms() == 2 }, waitFor, tick)
	f.rec.none(t)
	require.False(t, sub.IsArmed())

	w.Reset()
	require.Equal(t, 1, f.fin.Count())
	require.True(t, sub.Closed())
	require.Empty(t, f.rec.Kinds())
	require.Empty(t, f.fail.Errors())
}

func TestWatcher_UnexpectedArmErrorFailsFast(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)
	boom := errors.New("primitive misbehaved")
	sub.QueueArm(boom)

	fire(t, sub)
	require.Eventually(t, func() bool { return len(f.fail.Errors()) == 1 }, waitFor, tick)
	require.ErrorIs(t, f.fail.Errors()[0], boom)
	require.Contains(t, f.fail.Errors()[0].Error(), w.ID())
	f.rec.none(t)

	w.Reset()
	require.Equal(t, 1, f.fin.Count())
}

// Scenario C: no change ever happens.
func TestWatcher_ResetWithoutChanges(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)

	w.Reset()
	require.False(t, w.Armed())
	require.True(t, sub.Closed())
	require.Equal(t, 1, f.fin.Count())

	w.Reset()
	require.NoError(t, w.Close())
	require.Equal(t, 1, f.fin.Count())
	require.Empty(t, f.rec.Kinds())
}

// Scenario D: the callback tears down its own watcher.
func TestWatcher_ResetFromOwnCallback(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)

	returned := make(chan struct{})
	f.rec.during = func(changewatch.ChangeKind) {
		w.Reset()
		close(returned)
	}

	fire(t, sub)
	select {
	case <-returned:
	case <-time.After(waitFor):
		require.FailNow(t, "Reset blocked inside the callback")
	}
	require.Equal(t, changewatch.Modify, f.rec.next(t))

	f.fin.wait(t)
	require.True(t, sub.Closed())
	require.False(t, sub.Fire())
	f.rec.none(t)
	require.Equal(t, 1, f.fin.Count())
}

func TestWatcher_OwnerResetDuringCallbackDefersFinalize(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	f.rec.during = func(changewatch.ChangeKind) {
		close(entered)
		<-unblock
	}

	fire(t, sub)
	<-entered

	w.Reset()
	require.Equal(t, 0, f.fin.Count(), "the running handler still holds a reference")
	require.False(t, sub.Closed())

	close(unblock)
	f.rec.next(t)
	f.fin.wait(t)
	require.True(t, sub.Closed())
	require.Equal(t, 1, f.fin.Count())
}

func TestCreate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := changewatch.Create(f.root, "watched.txt", false, nil, f.options()...)
	require.Error(t, err)

	_, err = changewatch.Create(f.root, "../escape", false, f.rec.callback, f.options()...)
	require.ErrorIs(t, err, resource.ErrNotLocal)

	_, err = changewatch.Create(f.root, "missing.txt", false, f.rec.callback, f.options()...)
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = changewatch.CreateFromHandle(nil, false, f.rec.callback, f.options()...)
	require.Error(t, err)
	require.Nil(t, f.notifier.Last(), "nothing was opened")
}

func TestCreate_UnwindsWhenOpenFails(t *testing.T) {
	f := newFixture(t)
	f.notifier.FailOpen(errors.New("no watches left"))

	w, err := changewatch.Create(f.root, "watched.txt", false, f.rec.callback, f.options()...)
	require.Error(t, err)
	require.Nil(t, w)
	require.Equal(t, 0, f.fin.Count())
}

func TestCreate_UnwindsWhenFirstArmFails(t *testing.T) {
	f := newFixture(t)
	f.notifier.SeedArm(notify.ErrResourceGone)

	_, err := changewatch.Create(f.root, "watched.txt", false, f.rec.callback, f.options()...)
	require.ErrorIs(t, err, notify.ErrResourceGone)
	require.True(t, f.notifier.Last().Closed())
}

func TestCreate_UnwindsWhenBindFails(t *testing.T) {
	f := newFixture(t)
	pool := executor.NewPool(executor.Config{Workers: 1})
	pool.Close()

	_, err := changewatch.Create(f.root, "watched.txt", false, f.rec.callback, f.options(changewatch.WithPool(pool))...)
	require.ErrorIs(t, err, executor.ErrPoolClosed)
	require.True(t, f.notifier.Last().Closed())
}

func TestCreate_PassesRecursiveFlag(t *testing.T) {
	f := newFixture(t)
	w, err := changewatch.Create(f.root, "", true, f.rec.callback, f.options()...)
	require.NoError(t, err)
	defer w.Reset()
	require.True(t, f.notifier.Last().Recursive())
}

func TestCreateFromHandle_LeavesCallerHandleOpen(t *testing.T) {
	f := newFixture(t)
	h, err := resource.Open(f.root, "watched.txt")
	require.NoError(t, err)

	w, err := changewatch.CreateFromHandle(h, false, f.rec.callback, f.options()...)
	require.NoError(t, err)
	w.Reset()

	require.NoError(t, h.Check())
	require.NoError(t, h.Close())
}

func TestErrorPolicies(t *testing.T) {
	f := newFixture(t)

	require.Panics(t, func() {
		changewatch.MustCreate(f.root, "missing.txt", false, f.rec.callback, f.options()...)
	})

	w := changewatch.CreateOrExit(f.root, "missing.txt", false, f.rec.callback, f.options()...)
	require.Nil(t, w)
	require.Len(t, f.fail.Errors(), 1)

	require.Panics(t, func() {
		changewatch.MustCreateFromHandle(nil, false, f.rec.callback, f.options()...)
	})
	require.Nil(t, changewatch.CreateFromHandleOrExit(nil, false, f.rec.callback, f.options()...))
	require.Len(t, f.fail.Errors(), 2)

	ok := changewatch.MustCreate(f.root, "watched.txt", false, f.rec.callback, f.options()...)
	require.True(t, ok.Armed())
	ok.Reset()
}

func TestWatcher_TakeAndSwap(t *testing.T) {
	f := newFixture(t)
	w, sub := f.create(t)
	id := w.ID()

	moved := w.Take()
	require.False(t, w.Armed())
	require.True(t, moved.Armed())
	require.Equal(t, id, moved.ID())

	w.Reset()
	require.False(t, sub.Closed(), "the moved-from watcher owns nothing")

	var empty changewatch.Watcher
	empty.Swap(moved)
	require.Equal(t, id, empty.ID())
	require.False(t, moved.Armed())

	empty.Reset()
	require.True(t, sub.Closed())
	require.Equal(t, 1, f.fin.Count())
}

func TestWatcher_SharedPool(t *testing.T) {
	f := newFixture(t)
	writeFile(t, f.root, "other.txt", "v1")
	pool := executor.NewPool(executor.Config{Workers: 2})
	defer pool.Close()

	w1, sub1 := f.create(t, changewatch.WithPool(pool))
	other := newRecorder()
	w2, err := changewatch.Create(f.root, "other.txt", false, other.callback, f.options(changewatch.WithPool(pool))...)
	require.NoError(t, err)
	sub2 := f.notifier.Last()
	require.Equal(t, 2, pool.Stats().Bindings)

	fire(t, sub1)
	fire(t, sub2)
	require.Equal(t, changewatch.Modify, f.rec.next(t))
	require.Equal(t, changewatch.Modify, other.next(t))

	w1.Reset()
	w2.Reset()
	require.Equal(t, 0, pool.Stats().Bindings)
	require.Equal(t, 2, f.fin.Count())
}

func TestChangeKind_String(t *testing.T) {
	require.Equal(t, "modify", changewatch.Modify.String())
	require.Equal(t, "delete", changewatch.Delete.String())
}

func TestCreate_WithID(t *testing.T) {
	f := newFixture(t)
	w, _ := f.create(t, changewatch.WithID("journal-7"))
	require.Equal(t, "journal-7", w.ID())

	w.Reset()
	require.Equal(t, "journal-7", f.fin.wait(t))
}

func TestCreateOrExit_ResolvesOptionsOnce(t *testing.T) {
	f := newFixture(t)
	applied := 0
	counting := func(*changewatch.Options) { applied++ }

	require.Nil(t, changewatch.CreateOrExit(f.root, "missing.txt", false, f.rec.callback, f.options(counting)...))
	require.Equal(t, 1, applied)
	require.Len(t, f.fail.Errors(), 1)

	applied = 0
	require.Nil(t, changewatch.CreateFromHandleOrExit(nil, false, f.rec.callback, f.options(counting)...))
	require.Equal(t, 1, applied)
	require.Len(t, f.fail.Errors(), 2)
}
