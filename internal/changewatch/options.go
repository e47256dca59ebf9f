package changewatch

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/wil-sub001/internal/executor"
	"github.com/microsoft/wil-sub001/internal/failfast"
	"github.com/microsoft/wil-sub001/internal/notify"
	"github.com/microsoft/wil-sub001/internal/tracing"
)

// Options carries the collaborators a Watcher is built from.
type Options struct {
	// Notifier opens the change subscription. Default: fsnotify.
	Notifier notify.Notifier
	// Pool runs completion handlers. Default: a private single-worker pool
	// owned by the watcher.
	Pool *executor.Pool
	// FailFast handles broken invariants. Default: failfast.Exit.
	FailFast failfast.Func
	// Tracer records create and notify spans. Default: the global provider.
	Tracer trace.Tracer
	// ID names the watch in logs and traces. Default: a random UUID.
	ID string

	onFinalize func(id string)
}

// Option adjusts Options.
type Option func(*Options)

// WithNotifier sets the notification primitive.
func WithNotifier(n notify.Notifier) Option {
	return func(o *Options) { o.Notifier = n }
}

// WithPool shares an executor pool between watchers.
func WithPool(p *executor.Pool) Option {
	return func(o *Options) { o.Pool = p }
}

// WithFailFast replaces the fatal-error handler.
func WithFailFast(fn failfast.Func) Option {
	return func(o *Options) { o.FailFast = fn }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// WithID sets the watch id, so callers can correlate their own records
// with the watcher's logs and spans.
func WithID(id string) Option {
	return func(o *Options) { o.ID = id }
}

func newOptions(opts []Option) Options {
	var o Options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.Notifier == nil {
		o.Notifier = notify.NewFSNotifier()
	}
	if o.FailFast == nil {
		o.FailFast = failfast.Exit
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer(tracing.InstrumentationName)
	}
	return o
}
