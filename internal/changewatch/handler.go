package changewatch

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/notify"
	"github.com/microsoft/wil-sub001/internal/tracing"
)

type outcome int

const (
	outcomeModify outcome = iota
	outcomeDelete
	outcomeRevoked
	outcomeFatal
)

func (o outcome) String() string {
	switch o {
	case outcomeModify:
		return "modify"
	case outcomeDelete:
		return "delete"
	case outcomeRevoked:
		return "revoked"
	default:
		return "fatal"
	}
}

// classify maps the result of re-arming to what the handler does next.
func classify(err error) outcome {
	switch {
	case notify.Armed(err):
		return outcomeModify
	case errors.Is(err, notify.ErrResourceGone):
		return outcomeDelete
	case errors.Is(err, notify.ErrAccessRevoked):
		return outcomeRevoked
	default:
		return outcomeFatal
	}
}

// onSignal is the completion handler run by the executor binding.
func (s *watcherState) onSignal() {
	if !s.tryAddRef() {
		return
	}

	s.mu.Lock()
	res := s.res
	s.mu.Unlock()

	_, span := s.tracer.Start(context.Background(), tracing.SpanNotify,
		trace.WithAttributes(
			attribute.String(tracing.AttrWatchID, s.id),
			attribute.String(tracing.AttrWatchPath, s.path),
		),
	)
	defer span.End()

	// Re-arming both subscribes for the next change and reports why this
	// notification fired.
	err := res.sub.Arm(res.ev)
	result := classify(err)
	span.SetAttributes(attribute.String(tracing.AttrOutcome, result.String()))

	switch result {
	case outcomeModify:
		s.deliver(span, Modify)
		span.AddEvent(tracing.EventRearmed)
		s.releaseFromCallback(true)
	case outcomeDelete:
		s.deliver(span, Delete)
		span.AddEvent(tracing.EventTerminal)
		s.releaseFromCallback(false)
	case outcomeRevoked:
		log.Info(log.CatWatcher, "access revoked, watch stopped", "id", s.id, "path", s.path)
		span.AddEvent(tracing.EventTerminal)
		s.releaseFromCallback(false)
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "re-arm failed")
		s.failFast(fmt.Errorf("watch %s on %s: re-arm failed: %w", s.id, s.path, err))
		// Only reached when the fail-fast hook returns.
		s.releaseFromCallback(false)
	}
}

func (s *watcherState) deliver(span trace.Span, kind ChangeKind) {
	span.SetAttributes(attribute.String(tracing.AttrChangeKind, kind.String()))
	log.Debug(log.CatWatcher, "delivering change", "id", s.id, "path", s.path, "kind", kind)
	s.callback(kind)
}
