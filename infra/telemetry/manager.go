// Package telemetry applies the meter reports chargers publish over MQTT as
// session power updates.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/evstation/config"
	"github.com/kilianp07/evstation/core/station"
	"github.com/kilianp07/evstation/infra/logger"
	infmqtt "github.com/kilianp07/evstation/infra/mqtt"
)

// PowerUpdater receives the decoded meter reports.
type PowerUpdater interface {
	FindSession(sessionID string) (station.Session, error)
	PowerUpdate(sessionID string, consumedPower float64, vehicleMaxPower int) (station.Session, error)
}

type subscriber interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newClient = func(opts *paho.ClientOptions) subscriber { return paho.NewClient(opts) }

// MeterReport is the payload published by a connector.
type MeterReport struct {
	SessionID       string   `json:"session_id"`
	ConsumedPower   *float64 `json:"consumed_power"`
	VehicleMaxPower *int     `json:"vehicle_max_power"`
}

// MeterTopic is the subscription filter covering every connector of a
// station.
func MeterTopic(prefix, stationID string) string {
	return fmt.Sprintf("%s/%s/chargers/+/connectors/+/meter", prefix, stationID)
}

// Manager subscribes to meter reports and forwards them to the station.
type Manager struct {
	cfg     config.TelemetryConfig
	topic   string
	cli     subscriber
	station PowerUpdater
	log     logger.Logger

	messages    *prometheus.CounterVec
	lastApplied prometheus.Gauge
}

// NewManager connects a dedicated MQTT client. Metrics are registered on reg
// when it is not nil.
func NewManager(mqttCfg infmqtt.Config, cfg config.TelemetryConfig, stationID string, st PowerUpdater, reg prometheus.Registerer) (*Manager, error) {
	mqttCfg.SetDefaults()
	opts, err := infmqtt.NewClientOptions(mqttCfg)
	if err != nil {
		return nil, err
	}
	opts.SetClientID(mqttCfg.ClientID + "-telemetry")
	cli := newClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	m := &Manager{
		cfg:     cfg,
		topic:   MeterTopic(mqttCfg.TopicPrefix, stationID),
		cli:     cli,
		station: st,
		log:     logger.New("telemetry"),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evstation_telemetry_messages_total",
			Help: "Meter reports received, by outcome",
		}, []string{"result"}),
		lastApplied: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evstation_telemetry_last_applied_timestamp_seconds",
			Help: "Unix timestamp of the last applied meter report",
		}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.messages, m.lastApplied} {
			if err := reg.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					return nil, err
				}
			}
		}
	}
	return m, nil
}

// Start subscribes and blocks until the context is done.
func (m *Manager) Start(ctx context.Context) error {
	if token := m.cli.Subscribe(m.topic, m.cfg.QoS, m.onMeter); token.Wait() && token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", m.topic, token.Error())
	}
	m.log.Infof("listening for meter reports on %s", m.topic)
	<-ctx.Done()
	if m.cli.IsConnected() {
		m.cli.Disconnect(250)
	}
	return nil
}

func (m *Manager) onMeter(_ paho.Client, msg paho.Message) {
	if err := m.process(msg.Payload(), msg.Topic()); err != nil {
		m.log.Warnf("meter report on %s: %v", msg.Topic(), err)
	}
}

func (m *Manager) process(payload []byte, topic string) error {
	var rep MeterReport
	if err := json.Unmarshal(payload, &rep); err != nil {
		m.messages.WithLabelValues("invalid").Inc()
		return err
	}
	if rep.SessionID == "" || rep.ConsumedPower == nil || rep.VehicleMaxPower == nil {
		m.messages.WithLabelValues("invalid").Inc()
		return errors.New("session_id, consumed_power and vehicle_max_power are required")
	}
	// A connector may only report for the session plugged into it.
	charger, connector := connectorFromTopic(topic)
	cur, err := m.station.FindSession(rep.SessionID)
	if err != nil {
		m.messages.WithLabelValues("rejected").Inc()
		return err
	}
	if cur.ChargerID != charger || strconv.Itoa(cur.ConnectorID) != connector {
		m.messages.WithLabelValues("rejected").Inc()
		return fmt.Errorf("session %s runs on %s/%d, not %s/%s", cur.ID, cur.ChargerID, cur.ConnectorID, charger, connector)
	}
	sess, err := m.station.PowerUpdate(rep.SessionID, *rep.ConsumedPower, *rep.VehicleMaxPower)
	if err != nil {
		m.messages.WithLabelValues("rejected").Inc()
		return err
	}
	m.messages.WithLabelValues("applied").Inc()
	m.lastApplied.SetToCurrentTime()
	m.log.Debugw("meter report applied", map[string]any{
		"session_id":      sess.ID,
		"charger_id":      charger,
		"connector_id":    connector,
		"allocated_power": sess.AllocatedPower,
	})
	return nil
}

// connectorFromTopic extracts the charger and connector of a meter topic.
func connectorFromTopic(topic string) (string, string) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return "", ""
	}
	return parts[len(parts)-4], parts[len(parts)-2]
}
