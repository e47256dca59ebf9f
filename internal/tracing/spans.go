package tracing

// Span names.
const (
	SpanCreate = "changewatch.create"
	SpanNotify = "changewatch.notify"
)

// Span attribute keys.
const (
	AttrWatchID    = "watch.id"
	AttrWatchPath  = "watch.path"
	AttrRecursive  = "watch.recursive"
	AttrChangeKind = "change.kind"
	AttrOutcome    = "change.outcome"
)

// Span event names.
const (
	EventRearmed  = "watch.rearmed"
	EventTerminal = "watch.terminal"
)
