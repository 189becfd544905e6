package station

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evstation/core/allocation"
	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/battery"
	"github.com/kilianp07/evstation/core/events"
	"github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/monitoring"
	"github.com/kilianp07/evstation/internal/eventbus"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func parisConfig(grid int) Config {
	return Config{
		ID:           "EV_STATION_PARIS_15",
		GridCapacity: grid,
		Chargers: []ChargerConfig{
			{ID: "CP001", MaxPower: 200, Connectors: 2},
			{ID: "CP002", MaxPower: 200, Connectors: 2},
			{ID: "CP003", MaxPower: 300, Connectors: 2},
		},
		Battery: &BatteryConfig{InitialCapacity: 200, Power: 100},
	}
}

func newTestStation(t *testing.T, cfg Config) (*Station, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := NewStation(cfg, nil, nil, clock.Now)
	require.NoError(t, err)
	return s, clock
}

func TestNewStation_Topology(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(400))

	chargers := s.Chargers()
	require.Len(t, chargers, 3)
	ids := []string{chargers[0].ID, chargers[1].ID, chargers[2].ID}
	assert.Equal(t, []string{"CP001", "CP002", "CP003"}, ids)
	assert.Equal(t, 300, chargers[2].MaxPower)
	connectors := 0
	for _, c := range chargers {
		connectors += c.Connectors
		assert.Equal(t, []int{0, 1}, c.Available)
	}
	assert.Equal(t, 6, connectors)

	b, ok := s.Battery()
	require.True(t, ok)
	assert.Equal(t, 200.0, b.InitialCapacity)
	assert.Equal(t, 100, b.MaxPower)
	assert.Equal(t, 500, s.AvailablePower())
}

func TestNewStation_InvalidConfig(t *testing.T) {
	tests := map[string]func(*Config){
		"missing id":          func(c *Config) { c.ID = "" },
		"negative grid":       func(c *Config) { c.GridCapacity = -1 },
		"huge grid":           func(c *Config) { c.GridCapacity = math.MaxInt },
		"huge battery power":  func(c *Config) { c.Battery.Power = MaxPowerKW + 1 },
		"no chargers":         func(c *Config) { c.Chargers = nil },
		"duplicate charger":   func(c *Config) { c.Chargers[1].ID = "CP001" },
		"zero connectors":     func(c *Config) { c.Chargers[0].Connectors = 0 },
		"zero charger power":  func(c *Config) { c.Chargers[0].MaxPower = 0 },
		"zero battery power":  func(c *Config) { c.Battery.Power = 0 },
		"empty battery store": func(c *Config) { c.Battery.InitialCapacity = 0 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := parisConfig(400)
			mutate(&cfg)
			_, err := NewStation(cfg, nil, nil, nil)
			assert.Error(t, err)
		})
	}
}

func TestStartSession(t *testing.T) {
	s, clock := newTestStation(t, parisConfig(400))

	sess, err := s.StartSession("CP001", 0, 142)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, 142, sess.AllocatedPower)
	assert.Equal(t, clock.Now(), sess.StartedAt)
	assert.True(t, sess.Active())

	found, err := s.FindSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess, found)
	assert.Equal(t, []int{1}, s.Chargers()[0].Available)
}

func TestStartSession_Errors(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(400))
	_, err := s.StartSession("CP001", 0, 100)
	require.NoError(t, err)

	_, err = s.StartSession("CP004", 0, 100)
	assert.True(t, IsNotFound(err), "unknown charger: %v", err)
	assert.EqualError(t, err, "Charger CP004 does not exist")

	_, err = s.StartSession("CP001", 2, 100)
	assert.True(t, IsNotFound(err), "unknown connector: %v", err)

	_, err = s.StartSession("CP001", -1, 100)
	assert.True(t, IsNotFound(err))

	_, err = s.StartSession("CP001", 0, 100)
	assert.True(t, IsClient(err), "occupied connector: %v", err)
	assert.EqualError(t, err, "Connector already in use")

	_, err = s.StartSession("CP002", 0, 0)
	assert.True(t, IsClient(err))
	assert.Len(t, s.Sessions(), 1)
}

func TestStopSession(t *testing.T) {
	s, clock := newTestStation(t, parisConfig(400))
	sess, err := s.StartSession("CP001", 0, 100)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	stopped, err := s.StopSession(sess.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, stopped.ConsumedEnergy)
	assert.Equal(t, 0, stopped.AllocatedPower)
	require.NotNil(t, stopped.StoppedAt)
	assert.Equal(t, clock.Now(), *stopped.StoppedAt)
	assert.False(t, stopped.Active())
	assert.Empty(t, s.Sessions())

	_, err = s.StopSession(sess.ID, 100)
	assert.True(t, IsNotFound(err), "already stopped: %v", err)
	_, err = s.FindSession(sess.ID)
	assert.True(t, IsNotFound(err))
	_, err = s.PowerUpdate(sess.ID, 1, 100)
	assert.True(t, IsNotFound(err))

	_, err = s.StopSession("invalid", 100)
	assert.True(t, IsNotFound(err))

	// the connector is free again
	_, err = s.StartSession("CP001", 0, 100)
	assert.NoError(t, err)
}

func TestStopSession_NegativeEnergy(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(400))
	sess, err := s.StartSession("CP001", 0, 100)
	require.NoError(t, err)
	_, err = s.StopSession(sess.ID, -1)
	assert.True(t, IsClient(err))
	assert.Len(t, s.Sessions(), 1)
}

func TestPowerUpdate(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(400))
	a, err := s.StartSession("CP001", 0, 150)
	require.NoError(t, err)
	b, err := s.StartSession("CP001", 1, 150)
	require.NoError(t, err)

	a, err = s.FindSession(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, a.AllocatedPower)

	b, err = s.PowerUpdate(b.ID, 12.5, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, b.AllocatedPower)
	assert.Equal(t, 12.5, b.ConsumedEnergy)
	assert.Equal(t, 40, b.VehicleMaxPower)

	a, err = s.FindSession(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 150, a.AllocatedPower)

	b, err = s.PowerUpdate(b.ID, 7.5, 40)
	require.NoError(t, err)
	assert.Equal(t, 20.0, b.ConsumedEnergy)

	_, err = s.PowerUpdate(b.ID, -1, 40)
	assert.True(t, IsClient(err))
	_, err = s.PowerUpdate(b.ID, 1, 0)
	assert.True(t, IsClient(err))
}

func allocated(t *testing.T, s *Station, id string) int {
	t.Helper()
	sess, err := s.FindSession(id)
	require.NoError(t, err)
	return sess.AllocatedPower
}

func currentCapacity(t *testing.T, s *Station) float64 {
	t.Helper()
	b, ok := s.Battery()
	require.True(t, ok)
	return b.CurrentCapacity
}

func TestOneDayInTheLife(t *testing.T) {
	s, clock := newTestStation(t, parisConfig(350))

	s1, err := s.StartSession("CP001", 0, 200)
	require.NoError(t, err)
	s2, err := s.StartSession("CP002", 0, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, allocated(t, s, s1.ID))
	assert.Equal(t, 200, allocated(t, s, s2.ID))

	clock.Advance(time.Hour)
	_, err = s.PowerUpdate(s1.ID, 200, 100)
	require.NoError(t, err)
	_, err = s.PowerUpdate(s2.ID, 200, 100)
	require.NoError(t, err)

	got, err := s.FindSession(s1.ID)
	require.NoError(t, err)
	assert.Equal(t, 200.0, got.ConsumedEnergy)
	// the battery covered the missing 50 kW for one hour
	assert.Equal(t, 150.0, math.Round(currentCapacity(t, s)))

	s3, err := s.StartSession("CP003", 0, 300)
	require.NoError(t, err)
	assert.Equal(t, 100, allocated(t, s, s1.ID))
	assert.Equal(t, 100, allocated(t, s, s2.ID))
	assert.Equal(t, 250, allocated(t, s, s3.ID))

	_, err = s.StopSession(s1.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, allocated(t, s, s2.ID))
	assert.Equal(t, 300, allocated(t, s, s3.ID))

	_, err = s.StopSession(s2.ID, 100)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = s.PowerUpdate(s3.ID, 200, 200)
	require.NoError(t, err)
	// recharged from the grid surplus back to its initial capacity
	assert.Equal(t, 200.0, math.Round(currentCapacity(t, s)))
	b, _ := s.Battery()
	assert.Equal(t, 0, b.AllocatedPower, "a full battery is not charged further")
}

func TestReallocation_RespectsBudget(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(350))
	demands := []struct {
		charger   string
		connector int
		power     int
	}{
		{"CP001", 0, 150}, {"CP001", 1, 150}, {"CP002", 0, 80},
		{"CP002", 1, 300}, {"CP003", 0, 300}, {"CP003", 1, 33},
	}
	for _, d := range demands {
		_, err := s.StartSession(d.charger, d.connector, d.power)
		require.NoError(t, err)

		st := s.Status()
		total := 0
		for _, ch := range st.PowerAllocation {
			perCharger := 0
			for _, sess := range ch.Sessions {
				assert.LessOrEqual(t, sess.AllocatedPower, sess.VehicleMaxPower)
				assert.GreaterOrEqual(t, sess.AllocatedPower, 0)
				perCharger += sess.AllocatedPower
			}
			assert.LessOrEqual(t, perCharger, ch.MaxPower)
			total += perCharger
		}
		assert.LessOrEqual(t, total, st.AvailablePower)
	}
}

func TestStation_NoBattery(t *testing.T) {
	cfg := parisConfig(100)
	cfg.Battery = nil
	s, _ := newTestStation(t, cfg)

	a, err := s.StartSession("CP001", 0, 200)
	require.NoError(t, err)
	assert.Equal(t, 100, a.AllocatedPower)
	b, err := s.StartSession("CP003", 0, 200)
	require.NoError(t, err)
	assert.Equal(t, 50, b.AllocatedPower)
	assert.Equal(t, 50, allocated(t, s, a.ID))

	_, ok := s.Battery()
	assert.False(t, ok)
	assert.Nil(t, s.Status().Battery)
}

func TestStatus_JSONShape(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(350))
	sess, err := s.StartSession("CP002", 1, 120)
	require.NoError(t, err)

	raw, err := json.Marshal(s.Status())
	require.NoError(t, err)
	var out struct {
		StationID      string `json:"stationId"`
		ActiveSessions []struct {
			SessionID   string `json:"sessionId"`
			ChargerID   string `json:"chargerId"`
			ConnectorID int    `json:"connectorId"`
		} `json:"activeSessions"`
		PowerAllocation []struct {
			ChargerID string `json:"chargerId"`
			MaxPower  int    `json:"maxPower"`
			Sessions  []struct {
				SessionID       string  `json:"sessionId"`
				AllocatedPower  int     `json:"allocatedPower"`
				VehicleMaxPower int     `json:"vehicleMaxPower"`
				ConsumedPower   float64 `json:"consumedPower"`
			} `json:"sessions"`
		} `json:"powerAllocation"`
		AvailablePower int `json:"availablePower"`
		GridCapacity   int `json:"gridCapacity"`
		Battery        *struct {
			MaxPower          int     `json:"maxPower"`
			CurrentCapacity   float64 `json:"currentCapacity"`
			MaxAvailablePower int     `json:"maxAvailablePower"`
			AllocatedPower    int     `json:"allocatedPower"`
		} `json:"battery"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))

	assert.Equal(t, "EV_STATION_PARIS_15", out.StationID)
	require.Len(t, out.ActiveSessions, 1)
	assert.Equal(t, sess.ID, out.ActiveSessions[0].SessionID)
	assert.Equal(t, 1, out.ActiveSessions[0].ConnectorID)
	require.Len(t, out.PowerAllocation, 3)
	assert.Empty(t, out.PowerAllocation[0].Sessions)
	require.Len(t, out.PowerAllocation[1].Sessions, 1)
	assert.Equal(t, 120, out.PowerAllocation[1].Sessions[0].AllocatedPower)
	assert.Equal(t, 450, out.AvailablePower)
	assert.Equal(t, 350, out.GridCapacity)
	require.NotNil(t, out.Battery)
	assert.Equal(t, 100, out.Battery.MaxPower)
	assert.Equal(t, 0, out.Battery.AllocatedPower, "full battery stays idle")
}

type recordingSink struct {
	mu       sync.Mutex
	reallocs []events.Reallocation
	sessions []events.SessionEvent
	failures []metrics.FailureEvent
}

func (r *recordingSink) RecordReallocation(ev events.Reallocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reallocs = append(r.reallocs, ev)
	return nil
}

func (r *recordingSink) RecordSession(ev events.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, ev)
	return nil
}

func (r *recordingSink) RecordReallocationFailure(ev metrics.FailureEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, ev)
	return errors.New("sink offline")
}

type memStore struct {
	records []auditlog.Record
}

func (m *memStore) Append(_ context.Context, rec auditlog.Record) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Query(context.Context, auditlog.Query) ([]auditlog.Record, error) {
	return m.records, nil
}

func (m *memStore) Close() error { return nil }

func TestStation_EmitsEvents(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(350))
	sink := &recordingSink{}
	store := &memStore{}
	sessionBus := eventbus.NewTyped[events.SessionEvent]()
	reallocBus := eventbus.NewTyped[events.Reallocation]()
	defer sessionBus.Close()
	defer reallocBus.Close()
	sessionCh := sessionBus.Subscribe()
	reallocCh := reallocBus.Subscribe()

	s.SetMetricsSink(sink)
	s.SetLogStore(store)
	s.SetEventBuses(sessionBus, reallocBus)

	a, err := s.StartSession("CP001", 0, 300)
	require.NoError(t, err)
	_, err = s.StartSession("CP003", 1, 300)
	require.NoError(t, err)
	_, err = s.StopSession(a.ID, 10)
	require.NoError(t, err)

	require.Len(t, sink.reallocs, 3)
	second := sink.reallocs[1]
	assert.Equal(t, events.SessionStarted, second.Trigger)
	assert.Equal(t, 450, second.AvailablePower)
	assert.Equal(t, 450, second.AllocatedPower)
	assert.Equal(t, map[string]int{"CP001": 200, "CP002": 0, "CP003": 250}, second.ChargerPower)
	assert.True(t, second.HasBattery)
	assert.Equal(t, 100, second.BatteryPower)
	assert.Len(t, second.Sessions, 2)

	require.Len(t, sink.sessions, 3)
	assert.Equal(t, events.SessionStopped, sink.sessions[2].Action)
	assert.Equal(t, 10.0, sink.sessions[2].ConsumedEnergy)

	require.Len(t, store.records, 3)
	assert.Equal(t, events.SessionStopped, store.records[2].Trigger)
	assert.Equal(t, a.ID, store.records[2].SessionID)

	first := <-sessionCh
	assert.Equal(t, a.ID, first.SessionID)
	assert.Equal(t, 200, first.AllocatedPower)
	ev := <-reallocCh
	assert.Equal(t, 200, ev.ChargerPower["CP001"])
}

type overAllocator struct {
	enabled bool
}

func (o *overAllocator) Allocate(chargers []allocation.ChargerNode, available int) map[string]int {
	out := allocation.FairShareAllocator{}.Allocate(chargers, available)
	if o.enabled {
		for id := range out {
			out[id] = 10_000
		}
	}
	return out
}

type recordingMonitor struct {
	monitoring.NopMonitor
	errs []error
}

func (m *recordingMonitor) CaptureException(err error, _ map[string]string) {
	m.errs = append(m.errs, err)
}

func TestReallocation_BatteryRejection(t *testing.T) {
	mon := &recordingMonitor{}
	monitoring.Init(mon)
	defer monitoring.Init(nil)

	alloc := &overAllocator{}
	clock := newFakeClock()
	s, err := NewStation(parisConfig(350), alloc, nil, clock.Now)
	require.NoError(t, err)
	sink := &recordingSink{}
	s.SetMetricsSink(sink)

	sess, err := s.StartSession("CP001", 0, 150)
	require.NoError(t, err)
	require.Equal(t, 150, sess.AllocatedPower)

	alloc.enabled = true
	_, err = s.PowerUpdate(sess.ID, 5, 180)
	require.Error(t, err)
	assert.Equal(t, KindPhysicalLimit, KindOf(err))
	assert.True(t, errors.Is(err, battery.ErrPowerLimit))

	assert.Equal(t, 150, allocated(t, s, sess.ID), "allocations are not written back on failure")
	b, _ := s.Battery()
	assert.Equal(t, 0, b.AllocatedPower)
	require.Len(t, mon.errs, 1)
	require.Len(t, sink.failures, 1)
	assert.Equal(t, events.SessionUpdated, sink.failures[0].Trigger)
	assert.Len(t, sink.reallocs, 1)
}

func TestStation_ConcurrentEvents(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(350))
	var wg sync.WaitGroup
	for _, ch := range []string{"CP001", "CP002", "CP003"} {
		for conn := 0; conn < 2; conn++ {
			wg.Add(1)
			go func(ch string, conn int) {
				defer wg.Done()
				sess, err := s.StartSession(ch, conn, 120)
				if !assert.NoError(t, err) {
					return
				}
				_, err = s.PowerUpdate(sess.ID, 1, 90)
				assert.NoError(t, err)
				_ = s.Status()
			}(ch, conn)
		}
	}
	wg.Wait()

	st := s.Status()
	assert.Len(t, st.ActiveSessions, 6)
	total := 0
	for _, ch := range st.PowerAllocation {
		for _, sess := range ch.Sessions {
			total += sess.AllocatedPower
		}
	}
	assert.Equal(t, 450, total)
}

func TestErrorKinds(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.False(t, IsNotFound(nil))
	wrapped := &Error{Kind: KindPhysicalLimit, Msg: "battery", Err: battery.ErrInsufficientCapacity}
	assert.True(t, errors.Is(wrapped, battery.ErrInsufficientCapacity))
	assert.Equal(t, "physical_limit", KindPhysicalLimit.String())
	assert.Contains(t, wrapped.Error(), "not enough capacity")
}

type stopLog struct {
	stops []events.SessionEvent
	err   error
}

func (l *stopLog) RecordStop(ctx context.Context, ev events.SessionEvent) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("no deadline")
	}
	l.stops = append(l.stops, ev)
	return l.err
}

func TestStation_RecordsEveryStop(t *testing.T) {
	s, _ := newTestStation(t, parisConfig(350))
	rec := &stopLog{}
	s.SetStopRecorder(rec)
	bus := eventbus.NewTyped[events.SessionEvent]()
	defer bus.Close()
	_ = bus.Subscribe() // never drained
	s.SetEventBuses(bus, nil)

	n := 3 * eventbus.DefaultBuffer
	for i := 0; i < n; i++ {
		sess, err := s.StartSession("CP002", 1, 50)
		require.NoError(t, err)
		_, err = s.StopSession(sess.ID, 2)
		require.NoError(t, err)
	}
	require.Len(t, rec.stops, n)
	assert.Equal(t, "CP002", rec.stops[0].ChargerID)
	assert.Equal(t, 2.0, rec.stops[n-1].ConsumedEnergy)
	assert.Positive(t, bus.Dropped())

	rec.err = errors.New("disk full")
	sess, err := s.StartSession("CP001", 0, 50)
	require.NoError(t, err)
	_, err = s.StopSession(sess.ID, 1)
	assert.NoError(t, err)
}
