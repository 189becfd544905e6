package station

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/evstation/core/allocation"
	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/battery"
	"github.com/kilianp07/evstation/core/events"
	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/internal/eventbus"
)

// Station shares the grid feed and the optional battery between the active
// charging sessions.
type Station struct {
	id           string
	gridCapacity int
	battery      *battery.Battery
	chargers     []*charger
	chargersByID map[string]*charger
	sessions     map[string]*session

	allocator allocation.Allocator
	logger    logger.Logger
	metrics   metrics.MetricsSink
	store     auditlog.Store
	stops     StopRecorder
	sessionEv *eventbus.TypedBus[events.SessionEvent]
	reallocEv *eventbus.TypedBus[events.Reallocation]
	now       func() time.Time

	mu sync.Mutex
}

// NewStation builds a station from cfg. A nil allocator selects the fair-share
// strategy, a nil logger discards everything and a nil clock defaults to
// time.Now.
func NewStation(cfg Config, alloc allocation.Allocator, log logger.Logger, clock func() time.Time) (*Station, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if alloc == nil {
		alloc = allocation.FairShareAllocator{}
	}
	if clock == nil {
		clock = time.Now
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	s := &Station{
		id:           cfg.ID,
		gridCapacity: cfg.GridCapacity,
		chargersByID: make(map[string]*charger, len(cfg.Chargers)),
		sessions:     make(map[string]*session),
		allocator:    alloc,
		logger:       log,
		metrics:      metrics.NopSink{},
		now:          clock,
	}
	for _, cc := range cfg.Chargers {
		ch := newCharger(cc)
		s.chargers = append(s.chargers, ch)
		s.chargersByID[ch.id] = ch
	}
	if b := cfg.Battery; b != nil {
		s.battery = battery.New(b.InitialCapacity, b.Power, clock)
	}
	return s, nil
}

// ID returns the station identifier.
func (s *Station) ID() string { return s.id }

// GridCapacity returns the grid feed in kW.
func (s *Station) GridCapacity() int { return s.gridCapacity }

// SetMetricsSink configures the sink receiving reallocation outcomes.
func (s *Station) SetMetricsSink(sink metrics.MetricsSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = metrics.NopSink{}
	}
	s.metrics = sink
}

// SetLogStore configures the store persisting one record per reallocation.
func (s *Station) SetLogStore(store auditlog.Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// StopRecorder persists finished sessions. It is called synchronously, under
// the station lock, for every stopped session.
type StopRecorder interface {
	RecordStop(ctx context.Context, ev events.SessionEvent) error
}

// SetStopRecorder configures where stopped sessions are persisted.
func (s *Station) SetStopRecorder(r StopRecorder) {
	s.mu.Lock()
	s.stops = r
	s.mu.Unlock()
}

// SetEventBuses configures where session and reallocation events are
// published. Either bus may be nil.
func (s *Station) SetEventBuses(sessions *eventbus.TypedBus[events.SessionEvent], reallocations *eventbus.TypedBus[events.Reallocation]) {
	s.mu.Lock()
	s.sessionEv = sessions
	s.reallocEv = reallocations
	s.mu.Unlock()
}

// StartSession opens a session on a free connector and rebalances the
// station. The returned snapshot carries the power granted to the vehicle.
func (s *Station) StartSession(chargerID string, connectorID int, vehicleMaxPower int) (Session, error) {
	if vehicleMaxPower <= 0 {
		return Session{}, clientError("vehicleMaxPower must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.chargersByID[chargerID]
	if !ok {
		return Session{}, notFound("Charger %s does not exist", chargerID)
	}
	conn, err := ch.connector(connectorID)
	if err != nil {
		return Session{}, err
	}
	if !conn.available() {
		return Session{}, clientError("Connector already in use")
	}

	sess := newSession(ch, conn, vehicleMaxPower, s.now())
	conn.session = sess
	s.sessions[sess.id] = sess
	s.logger.Infof("session %s started on %s/%d (vehicle max %d kW)", sess.id, ch.id, conn.id, vehicleMaxPower)

	if err := s.reallocate(events.SessionStarted, sess.id); err != nil {
		return Session{}, err
	}
	s.publishSession(events.SessionStarted, sess)
	return sess.snapshot(), nil
}

// StopSession finalises the consumed energy, frees the connector and
// rebalances the remaining sessions.
func (s *Station) StopSession(sessionID string, consumedEnergy float64) (Session, error) {
	if consumedEnergy < 0 {
		return Session{}, clientError("consumedEnergy must be non-negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.findSession(sessionID)
	if err != nil {
		return Session{}, err
	}
	sess.consumed += consumedEnergy
	sess.stoppedAt = s.now()
	sess.allocatedPower = 0
	sess.connector.session = nil
	delete(s.sessions, sess.id)
	s.logger.Infof("session %s stopped after %.2f kWh", sess.id, sess.consumed)

	if err := s.reallocate(events.SessionStopped, sess.id); err != nil {
		return Session{}, err
	}
	s.publishSession(events.SessionStopped, sess)
	return sess.snapshot(), nil
}

// PowerUpdate records the power consumed since the last report and the
// vehicle's current ceiling, then rebalances the station.
func (s *Station) PowerUpdate(sessionID string, consumedPower float64, vehicleMaxPower int) (Session, error) {
	if consumedPower < 0 {
		return Session{}, clientError("consumedPower must be non-negative")
	}
	if vehicleMaxPower <= 0 {
		return Session{}, clientError("vehicleMaxPower must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.findSession(sessionID)
	if err != nil {
		return Session{}, err
	}
	sess.vehicleMaxPower = vehicleMaxPower
	sess.consumed += consumedPower

	if err := s.reallocate(events.SessionUpdated, sess.id); err != nil {
		return Session{}, err
	}
	s.publishSession(events.SessionUpdated, sess)
	return sess.snapshot(), nil
}

// FindSession returns the active session with the given ID.
func (s *Station) FindSession(sessionID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.findSession(sessionID)
	if err != nil {
		return Session{}, err
	}
	return sess.snapshot(), nil
}

// Sessions returns the active sessions ordered by charger then connector.
func (s *Station) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.orderedSessions() {
		out = append(out, sess.snapshot())
	}
	return out
}

// Chargers describes the configured chargers in configuration order.
func (s *Station) Chargers() []ChargerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChargerInfo, len(s.chargers))
	for i, ch := range s.chargers {
		out[i] = ch.info()
	}
	return out
}

// Battery returns a snapshot of the battery, or false when the station has
// none.
func (s *Station) Battery() (battery.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery == nil {
		return battery.State{}, false
	}
	return s.battery.State(), true
}

// AvailablePower is the grid capacity plus what the battery can deliver.
func (s *Station) AvailablePower() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.availablePower()
}

func (s *Station) availablePower() int {
	if s.battery == nil {
		return s.gridCapacity
	}
	return s.gridCapacity + s.battery.MaxAvailablePower()
}

func (s *Station) findSession(id string) (*session, error) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound("Session %s does not exist", id)
	}
	return sess, nil
}

func (s *Station) orderedSessions() []*session {
	out := make([]*session, 0, len(s.sessions))
	for _, ch := range s.chargers {
		out = append(out, ch.sessions()...)
	}
	return out
}

func (s *Station) publishSession(action events.SessionAction, sess *session) {
	ev := events.SessionEvent{
		StationID:       s.id,
		Action:          action,
		SessionID:       sess.id,
		ChargerID:       sess.charger.id,
		ConnectorID:     sess.connector.id,
		VehicleMaxPower: sess.vehicleMaxPower,
		ConsumedEnergy:  sess.consumed,
		AllocatedPower:  sess.allocatedPower,
		Time:            s.now(),
	}
	if rec, ok := s.metrics.(metrics.SessionRecorder); ok {
		if err := rec.RecordSession(ev); err != nil {
			s.logger.Warnf("record session %s: %v", sess.id, err)
		}
	}
	if action == events.SessionStopped && s.stops != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := s.stops.RecordStop(ctx, ev); err != nil {
			s.logger.Warnf("record stop %s: %v", sess.id, err)
		}
	}
	if s.sessionEv != nil {
		s.sessionEv.Publish(ev)
	}
}

func (s *Station) String() string {
	return fmt.Sprintf("station %s (%d kW grid, %d chargers)", s.id, s.gridCapacity, len(s.chargers))
}
