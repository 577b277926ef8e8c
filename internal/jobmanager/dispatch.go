package jobmanager

import (
	"context"
)

// Sink consumes manager events. A sink error is logged and does not stop
// delivery to the remaining sinks.
type Sink interface {
	HandleEvent(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, e Event) error

// HandleEvent calls f.
func (f SinkFunc) HandleEvent(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Dispatch delivers events to sinks in emission order until ctx is done.
// Each event reaches every sink before the next event is read.
func (m *Manager) Dispatch(ctx context.Context, sinks ...Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-m.events:
			m.deliver(ctx, e, sinks)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, e Event, sinks []Sink) {
	for i, sink := range sinks {
		if err := sink.HandleEvent(ctx, e); err != nil {
			m.logger.WithError(err).Warn("event sink failed",
				"sink", i,
				"event", eventName(e),
			)
		}
	}
	switch ev := e.(type) {
	case NewBlock:
		m.logger.LogJobDistribution(ev.Job.ID(), ev.Job.Height(), true, len(sinks))
	case UpdatedBlock:
		m.logger.LogJobDistribution(ev.Job.ID(), ev.Job.Height(), !ev.SameHeight, len(sinks))
	}
}

func eventName(e Event) string {
	switch e.(type) {
	case NewBlock:
		return "new_block"
	case UpdatedBlock:
		return "updated_block"
	case ShareResult:
		return "share_result"
	default:
		return "unknown"
	}
}
