package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/evstation/core/events"
	coremon "github.com/kilianp07/evstation/core/monitoring"
	"github.com/kilianp07/evstation/infra/logger"
)

// Setpoint is the payload sent to a connector.
type Setpoint struct {
	StationID   string `json:"station_id"`
	ChargerID   string `json:"charger_id"`
	ConnectorID int    `json:"connector_id"`
	SessionID   string `json:"session_id,omitempty"`
	PowerKW     int    `json:"power_kw"`
	Timestamp   int64  `json:"timestamp"`
}

// SetpointTopic returns the topic of one connector.
func SetpointTopic(prefix, stationID, chargerID string, connectorID int) string {
	return fmt.Sprintf("%s/%s/chargers/%s/connectors/%d/setpoint", prefix, stationID, chargerID, connectorID)
}

// SummaryTopic returns the retained topic carrying the whole allocation.
func SummaryTopic(prefix, stationID string) string {
	return fmt.Sprintf("%s/%s/allocation", prefix, stationID)
}

type connectorKey struct {
	charger   string
	connector int
}

// SetpointPublisher forwards reallocation outcomes to the chargers over MQTT.
type SetpointPublisher struct {
	cli        pahoClient
	prefix     string
	qos        map[string]byte
	maxRetries int
	backoff    time.Duration
	logger     logger.Logger

	mu       sync.Mutex
	previous map[connectorKey]bool
}

// NewSetpointPublisher connects to the broker.
func NewSetpointPublisher(cfg Config) (*SetpointPublisher, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_setpoints")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &SetpointPublisher{
		cli:        c,
		prefix:     cfg.TopicPrefix,
		qos:        cfg.QoS,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Duration(cfg.BackoffMS) * time.Millisecond,
		logger:     log,
		previous:   make(map[connectorKey]bool),
	}, nil
}

// PublishReallocation sends one setpoint per active session, a zero setpoint
// to every connector freed since the previous call and the retained station
// summary. A zero setpoint that could not be delivered is sent again on the
// next call. Retries stop when ctx is done.
func (p *SetpointPublisher) PublishReallocation(ctx context.Context, ev events.Reallocation) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := ev.Time.UnixMilli()
	current := make(map[connectorKey]bool, len(ev.Sessions))
	var errs []error
	for _, a := range ev.Sessions {
		key := connectorKey{a.ChargerID, a.ConnectorID}
		current[key] = true
		sp := Setpoint{
			StationID:   ev.StationID,
			ChargerID:   a.ChargerID,
			ConnectorID: a.ConnectorID,
			SessionID:   a.SessionID,
			PowerKW:     a.PowerKW,
			Timestamp:   ts,
		}
		if err := p.publishJSON(ctx, SetpointTopic(p.prefix, ev.StationID, a.ChargerID, a.ConnectorID), p.qosFor("setpoint"), false, sp); err != nil {
			errs = append(errs, err)
		}
	}
	next := make(map[connectorKey]bool, len(current))
	for key := range current {
		next[key] = true
	}
	for key := range p.previous {
		if current[key] {
			continue
		}
		sp := Setpoint{StationID: ev.StationID, ChargerID: key.charger, ConnectorID: key.connector, Timestamp: ts}
		if err := p.publishJSON(ctx, SetpointTopic(p.prefix, ev.StationID, key.charger, key.connector), p.qosFor("setpoint"), false, sp); err != nil {
			errs = append(errs, err)
			next[key] = true
		}
	}
	p.previous = next

	if err := p.publishJSON(ctx, SummaryTopic(p.prefix, ev.StationID), p.qosFor("summary"), true, ev); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run publishes every reallocation received on ch until the context is
// canceled or the channel is closed.
func (p *SetpointPublisher) Run(ctx context.Context, ch <-chan events.Reallocation) {
	defer coremon.Recover()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := p.PublishReallocation(ctx, ev); err != nil {
				p.logger.Errorf("publish setpoints: %v", err)
			}
		}
	}
}

func (p *SetpointPublisher) qosFor(kind string) byte {
	if q, ok := p.qos[kind]; ok {
		return q
	}
	return 0
}

func (p *SetpointPublisher) publishJSON(ctx context.Context, topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var publishErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("publish %s: %w", topic, err)
		}
		token := p.cli.Publish(topic, qos, retained, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published %s", topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d on %s failed: %v", attempt+1, topic, publishErr)
		if attempt < p.maxRetries {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish %s: %w", topic, ctx.Err())
			case <-time.After(p.backoff * time.Duration(1<<attempt)):
			}
		}
	}
	coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "topic": topic})
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

// Disconnect gracefully closes the MQTT connection.
func (p *SetpointPublisher) Disconnect() {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
}
