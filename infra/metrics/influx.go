package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/evstation/core/events"
	coremetrics "github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/infra/logger"
)

// InfluxConfig holds the connection settings of an InfluxSink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes station events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordReallocation writes one station point followed by one point per
// session in a single request.
func (s *InfluxSink) RecordReallocation(ev events.Reallocation) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(ev.Sessions)+1)
	p := write.NewPointWithMeasurement("station_reallocation").
		AddTag("station_id", ev.StationID).
		AddTag("trigger", string(ev.Trigger)).
		AddField("available_power_kw", ev.AvailablePower).
		AddField("allocated_power_kw", ev.AllocatedPower).
		AddField("grid_capacity_kw", ev.GridCapacity).
		AddField("active_sessions", len(ev.Sessions)).
		SetTime(ev.Time)
	if ev.HasBattery {
		p = p.AddField("battery_power_kw", ev.BatteryPower).
			AddField("battery_capacity_kwh", round3(ev.BatteryCapacity))
	}
	points = append(points, p)
	for _, a := range ev.Sessions {
		points = append(points, write.NewPointWithMeasurement("session_allocation").
			AddTag("station_id", ev.StationID).
			AddTag("charger_id", a.ChargerID).
			AddTag("connector_id", strconv.Itoa(a.ConnectorID)).
			AddTag("session_id", a.SessionID).
			AddField("power_kw", a.PowerKW).
			SetTime(ev.Time))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordSession persists a session lifecycle event.
func (s *InfluxSink) RecordSession(ev events.SessionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("session_event").
		AddTag("station_id", ev.StationID).
		AddTag("action", string(ev.Action)).
		AddTag("charger_id", ev.ChargerID).
		AddTag("session_id", ev.SessionID).
		AddField("vehicle_max_power_kw", ev.VehicleMaxPower).
		AddField("allocated_power_kw", ev.AllocatedPower).
		AddField("consumed_energy_kwh", round3(ev.ConsumedEnergy)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
