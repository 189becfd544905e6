package metrics

import (
	"errors"

	"github.com/kilianp07/evstation/core/events"
)

// MultiSink fans events out to multiple sinks. Every sink receives the event
// even when an earlier one fails; the errors are joined.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordReallocation forwards the reallocation to all sinks.
func (m *MultiSink) RecordReallocation(ev events.Reallocation) error {
	var errs []error
	for _, s := range m.Sinks {
		if err := s.RecordReallocation(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordSession forwards session events to sinks supporting them.
func (m *MultiSink) RecordSession(ev events.SessionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(SessionRecorder); ok {
			if err := rec.RecordSession(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RecordReallocationFailure forwards failures to sinks supporting them.
func (m *MultiSink) RecordReallocationFailure(ev FailureEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		if rec, ok := s.(FailureRecorder); ok {
			if err := rec.RecordReallocationFailure(ev); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
