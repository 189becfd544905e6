package metrics

import "github.com/kilianp07/evstation/core/events"

// MetricsSink records the outcome of reallocation passes.
type MetricsSink interface {
	RecordReallocation(ev events.Reallocation) error
}

// SessionRecorder records session lifecycle events.
type SessionRecorder interface {
	RecordSession(ev events.SessionEvent) error
}

// FailureEvent describes a reallocation pass aborted by an integrity error.
type FailureEvent struct {
	StationID string
	Trigger   events.SessionAction
	Reason    string
}

// FailureRecorder records aborted reallocation passes.
type FailureRecorder interface {
	RecordReallocationFailure(ev FailureEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordReallocation(events.Reallocation) error { return nil }
func (NopSink) RecordSession(events.SessionEvent) error      { return nil }
func (NopSink) RecordReallocationFailure(FailureEvent) error { return nil }
