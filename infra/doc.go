// Package infra groups the adapters that connect the station core to the
// outside world: zerolog logging, Sentry, the MQTT setpoint publisher and
// telemetry subscriber, Prometheus and InfluxDB sinks, and the SQLite KPI
// store. Adapters implement interfaces declared under core.
package infra
