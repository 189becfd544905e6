// Package metrics defines the sinks recording station activity. Sinks such
// as PromSink and InfluxSink (infra/metrics) receive every completed
// reallocation and session event and can be combined with NewMultiSink.
// NewMetricsSink builds the configured sinks from the registry and returns a
// MultiSink automatically when several are configured.
package metrics
