package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/evstation/core/events"
	coremetrics "github.com/kilianp07/evstation/core/metrics"
)

// PromSink exposes the station allocation as Prometheus gauges and counters.
type PromSink struct {
	available       *prometheus.GaugeVec
	grid            *prometheus.GaugeVec
	allocated       *prometheus.GaugeVec
	activeSessions  *prometheus.GaugeVec
	chargerPower    *prometheus.GaugeVec
	batteryCapacity *prometheus.GaugeVec
	batteryPower    *prometheus.GaugeVec
	reallocations   *prometheus.CounterVec
	failures        *prometheus.CounterVec
	sessionEvents   *prometheus.CounterVec
}

// NewPromSink registers station metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gauge := func(name, help string, labels ...string) (*prometheus.GaugeVec, error) {
		return register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels))
	}
	counter := func(name, help string, labels ...string) (*prometheus.CounterVec, error) {
		return register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	}

	s := &PromSink{}
	var errs []error
	var err error
	s.available, err = gauge("evstation_available_power_kw", "Power available to the sessions (grid plus battery)", "station_id")
	errs = append(errs, err)
	s.grid, err = gauge("evstation_grid_capacity_kw", "Grid feed capacity", "station_id")
	errs = append(errs, err)
	s.allocated, err = gauge("evstation_allocated_power_kw", "Power allocated to all sessions", "station_id")
	errs = append(errs, err)
	s.activeSessions, err = gauge("evstation_active_sessions", "Number of active charging sessions", "station_id")
	errs = append(errs, err)
	s.chargerPower, err = gauge("evstation_charger_allocated_power_kw", "Power allocated per charger", "station_id", "charger_id")
	errs = append(errs, err)
	s.batteryCapacity, err = gauge("evstation_battery_capacity_kwh", "Current battery capacity", "station_id")
	errs = append(errs, err)
	s.batteryPower, err = gauge("evstation_battery_power_kw", "Battery power, positive when discharging", "station_id")
	errs = append(errs, err)
	s.reallocations, err = counter("evstation_reallocations_total", "Completed reallocation passes", "station_id", "trigger")
	errs = append(errs, err)
	s.failures, err = counter("evstation_reallocation_failures_total", "Reallocation passes rejected by the battery", "station_id", "trigger")
	errs = append(errs, err)
	s.sessionEvents, err = counter("evstation_session_events_total", "Session lifecycle events", "station_id", "action")
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordReallocation updates the gauges to the latest allocation.
func (s *PromSink) RecordReallocation(ev events.Reallocation) error {
	id := ev.StationID
	s.available.WithLabelValues(id).Set(float64(ev.AvailablePower))
	s.grid.WithLabelValues(id).Set(float64(ev.GridCapacity))
	s.allocated.WithLabelValues(id).Set(float64(ev.AllocatedPower))
	s.activeSessions.WithLabelValues(id).Set(float64(len(ev.Sessions)))
	for charger, p := range ev.ChargerPower {
		s.chargerPower.WithLabelValues(id, charger).Set(float64(p))
	}
	if ev.HasBattery {
		s.batteryCapacity.WithLabelValues(id).Set(ev.BatteryCapacity)
		s.batteryPower.WithLabelValues(id).Set(float64(ev.BatteryPower))
	}
	s.reallocations.WithLabelValues(id, string(ev.Trigger)).Inc()
	return nil
}

// RecordSession counts session lifecycle events.
func (s *PromSink) RecordSession(ev events.SessionEvent) error {
	s.sessionEvents.WithLabelValues(ev.StationID, string(ev.Action)).Inc()
	return nil
}

// RecordReallocationFailure counts passes rejected by the battery.
func (s *PromSink) RecordReallocationFailure(ev coremetrics.FailureEvent) error {
	s.failures.WithLabelValues(ev.StationID, string(ev.Trigger)).Inc()
	return nil
}
