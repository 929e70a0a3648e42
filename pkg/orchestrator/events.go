package orchestrator

import "context"

// EventType names one frame of the push API the core exposes to the web
// layer (spec.md §6): the core never speaks HTTP or SSE itself, it only
// calls a narrow publish interface (spec.md §9: "event emitters ...
// narrow publish interface owned by the web layer").
type EventType string

const (
	EventStatus       EventType = "status"
	EventAgentMessage EventType = "agent_message"
	EventToolStarted  EventType = "tool_started"
	EventToolResult   EventType = "tool_result"
	EventVerification EventType = "verification"
	EventSummary      EventType = "summary"
	EventError        EventType = "error"
	EventDone         EventType = "done"
)

// Event is one frame published during a HandleRequest run.
type Event struct {
	Type EventType
	Data map[string]any
}

// EventSink is the narrow interface the web layer implements to receive
// frames as a run progresses. Publish must not block the caller for long;
// a web layer fanning out to slow subscribers should buffer internally.
type EventSink interface {
	Publish(Event)
}

// noopSink discards every event; used when a caller doesn't need the
// push API (e.g. tests, batch/offline use).
type noopSink struct{}

func (noopSink) Publish(Event) {}

// NoopSink returns an EventSink that discards everything it receives.
func NoopSink() EventSink { return noopSink{} }

type sinkCtxKey struct{}

// withSink attaches sink to ctx so deep collaborators (the executor,
// in particular) can publish without threading a sink parameter
// through every workflow.Dependencies interface.
func withSink(ctx context.Context, sink EventSink) context.Context {
	return context.WithValue(ctx, sinkCtxKey{}, sink)
}

// sinkFromContext retrieves the sink attached by withSink, defaulting
// to a no-op so collaborators never nil-check.
func sinkFromContext(ctx context.Context) EventSink {
	if sink, ok := ctx.Value(sinkCtxKey{}).(EventSink); ok && sink != nil {
		return sink
	}
	return noopSink{}
}
