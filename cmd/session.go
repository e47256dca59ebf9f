package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/wil-sub001/internal/cachemanager"
	"github.com/microsoft/wil-sub001/internal/changewatch"
	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/journal"
	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/notify"
	"github.com/microsoft/wil-sub001/internal/pubsub"
)

// publishTimeout bounds how long a callback waits on a slow subscriber.
const publishTimeout = 2 * time.Second

// change is what a watcher callback publishes to the session broker.
type change struct {
	WatchID string
	Path    string
	Kind    changewatch.ChangeKind
}

// sessionOptions configures one run of the watch command.
type sessionOptions struct {
	Paths       []string
	Recursive   bool
	QuietWindow time.Duration
	Out         io.Writer
	Journal     *journal.Journal // nil disables recording
	Pool        *executor.Pool
	Tracer      trace.Tracer
	Notifier    notify.Notifier // nil uses fsnotify
	FailFast    func(error)     // nil uses the process-wide default
}

// sessionResult summarizes a finished session.
type sessionResult struct {
	Delivered  uint64
	Suppressed uint64
	Deleted    int
}

// runSession watches every path until ctx is done or every watched object
// has been deleted. Change lines go to Out; the journal records all of them,
// including lines hidden by the quiet window.
func runSession(ctx context.Context, opts sessionOptions) (sessionResult, error) {
	if len(opts.Paths) == 0 {
		return sessionResult{}, errors.New("no paths to watch")
	}

	broker := pubsub.NewBrokerWithBuffer[change](256)
	quiet := cachemanager.NewQuietWindow(opts.QuietWindow)

	// Subscribers outlive ctx so that changes delivered before shutdown are
	// still printed and recorded; they end when the broker closes.
	var wg sync.WaitGroup
	subscribe := func(fn func(pubsub.Event[change])) {
		ch := broker.Subscribe(context.Background())
		wg.Add(1)
		go func() {
			defer wg.Done()
			pubsub.Forward(context.Background(), ch, fn)
		}()
	}

	subscribe(func(ev pubsub.Event[change]) {
		c := ev.Payload
		if !quiet.Allow(c.Path + "|" + c.Kind.String()) {
			return
		}
		_, _ = fmt.Fprintln(opts.Out, formatChange(ev.Timestamp, c.Kind, c.Path))
	})
	if opts.Journal != nil {
		subscribe(func(ev pubsub.Event[change]) {
			c := ev.Payload
			_, err := opts.Journal.Record(context.Background(), journal.Entry{
				WatchID:    c.WatchID,
				Path:       c.Path,
				Kind:       c.Kind.String(),
				RecordedAt: ev.Timestamp,
			})
			if err != nil {
				log.ErrorErr(log.CatJournal, "Failed to record change", err, "path", c.Path)
			}
		})
	}

	var (
		delivered atomic.Uint64
		deleted   atomic.Int32
		allGone   = make(chan struct{})
		goneOnce  sync.Once
	)
	remaining := atomic.Int32{}
	remaining.Store(int32(len(opts.Paths)))

	watchers := make([]*changewatch.Watcher, 0, len(opts.Paths))
	shutdown := func() {
		for _, w := range watchers {
			w.Reset()
		}
		broker.Close()
		wg.Wait()
	}

	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			shutdown()
			return sessionResult{}, fmt.Errorf("resolving %s: %w", p, err)
		}
		id := uuid.NewString()
		callback := func(kind changewatch.ChangeKind) {
			delivered.Add(1)
			eventType := pubsub.ModifiedEvent
			if kind == changewatch.Delete {
				eventType = pubsub.DeletedEvent
				deleted.Add(1)
				if remaining.Add(-1) == 0 {
					goneOnce.Do(func() { close(allGone) })
				}
			}
			pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			defer cancel()
			if err := broker.PublishWait(pubCtx, eventType, change{WatchID: id, Path: abs, Kind: kind}); err != nil {
				log.Warn(log.CatCLI, "Change not published", "path", abs, "error", err)
			}
		}

		watchOpts := []changewatch.Option{changewatch.WithID(id)}
		if opts.Pool != nil {
			watchOpts = append(watchOpts, changewatch.WithPool(opts.Pool))
		}
		if opts.Tracer != nil {
			watchOpts = append(watchOpts, changewatch.WithTracer(opts.Tracer))
		}
		if opts.Notifier != nil {
			watchOpts = append(watchOpts, changewatch.WithNotifier(opts.Notifier))
		}
		if opts.FailFast != nil {
			watchOpts = append(watchOpts, changewatch.WithFailFast(opts.FailFast))
		}

		w, err := changewatch.Create(abs, "", opts.Recursive, callback, watchOpts...)
		if err != nil {
			shutdown()
			return sessionResult{}, fmt.Errorf("watching %s: %w", p, err)
		}
		watchers = append(watchers, w)
		log.Info(log.CatCLI, "Watching", "path", abs, "id", id, "recursive", opts.Recursive)
	}

	select {
	case <-ctx.Done():
		log.Info(log.CatCLI, "Stopping on request")
	case <-allGone:
		log.Info(log.CatCLI, "Every watched path was deleted")
	}
	shutdown()

	if dropped := broker.Dropped(); dropped > 0 {
		log.Warn(log.CatCLI, "Changes dropped by slow subscribers", "count", dropped)
	}
	return sessionResult{
		Delivered:  delivered.Load(),
		Suppressed: quiet.Suppressed(),
		Deleted:    int(deleted.Load()),
	}, nil
}
