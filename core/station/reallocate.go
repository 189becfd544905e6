package station

import (
	"context"
	"time"

	"github.com/kilianp07/evstation/core/allocation"
	"github.com/kilianp07/evstation/core/auditlog"
	"github.com/kilianp07/evstation/core/events"
	"github.com/kilianp07/evstation/core/metrics"
	"github.com/kilianp07/evstation/core/monitoring"
)

const auditTimeout = 2 * time.Second

// reallocate recomputes the power of every active session. It must be
// called with s.mu held. On a battery integrity failure nothing is written
// back and the previous allocations stay in place.
func (s *Station) reallocate(trigger events.SessionAction, sessionID string) error {
	ordered := s.orderedSessions()
	tree := make([]allocation.ChargerNode, 0, len(s.chargers))
	for _, ch := range s.chargers {
		sessions := ch.sessions()
		if len(sessions) == 0 {
			continue
		}
		node := allocation.ChargerNode{ID: ch.id, MaxPower: ch.maxPower}
		for _, sess := range sessions {
			node.Sessions = append(node.Sessions, allocation.SessionNode{ID: sess.id, MaxPower: sess.vehicleMaxPower})
		}
		tree = append(tree, node)
	}

	available := s.availablePower()
	powers := s.allocator.Allocate(tree, available)
	total := allocation.Total(powers)

	batteryPower := 0
	if s.battery != nil {
		batteryPower = s.batteryPower(total)
		if err := s.battery.AllocatePower(batteryPower); err != nil {
			return s.failReallocation(trigger, &Error{
				Kind: KindPhysicalLimit,
				Msg:  "battery rejected allocation",
				Err:  err,
			})
		}
	}

	for _, sess := range ordered {
		sess.allocatedPower = powers[sess.id]
	}

	s.logger.Debugw("power reallocated", map[string]any{
		"station":         s.id,
		"trigger":         string(trigger),
		"session":         sessionID,
		"available_power": available,
		"allocated_power": total,
		"battery_power":   batteryPower,
		"allocations":     powers,
	})
	s.emitReallocation(trigger, sessionID, available, total, batteryPower, ordered)
	return nil
}

// batteryPower derives the battery setpoint from the allocated total:
// positive when the sessions draw more than the grid, negative to recharge
// from the surplus, limited to the rated power and zero once full.
func (s *Station) batteryPower(total int) int {
	p := total - s.gridCapacity
	if p < 0 {
		if -p > s.battery.MaxPower() {
			p = -s.battery.MaxPower()
		}
		if s.battery.IsFull() {
			p = 0
		}
	}
	return p
}

func (s *Station) failReallocation(trigger events.SessionAction, err error) error {
	s.logger.Errorf("reallocation on %s failed: %v", trigger, err)
	monitoring.CaptureException(err, map[string]string{
		"station": s.id,
		"trigger": string(trigger),
	})
	if rec, ok := s.metrics.(metrics.FailureRecorder); ok {
		if rerr := rec.RecordReallocationFailure(metrics.FailureEvent{
			StationID: s.id,
			Trigger:   trigger,
			Reason:    err.Error(),
		}); rerr != nil {
			s.logger.Warnf("record reallocation failure: %v", rerr)
		}
	}
	return err
}

func (s *Station) emitReallocation(trigger events.SessionAction, sessionID string, available, total, batteryPower int, ordered []*session) {
	ev := events.Reallocation{
		StationID:      s.id,
		Trigger:        trigger,
		SessionID:      sessionID,
		GridCapacity:   s.gridCapacity,
		AvailablePower: available,
		AllocatedPower: total,
		Sessions:       make([]events.SessionAllocation, 0, len(ordered)),
		ChargerPower:   make(map[string]int, len(s.chargers)),
		Time:           s.now(),
	}
	for _, ch := range s.chargers {
		ev.ChargerPower[ch.id] = 0
	}
	for _, sess := range ordered {
		ev.Sessions = append(ev.Sessions, events.SessionAllocation{
			SessionID:   sess.id,
			ChargerID:   sess.charger.id,
			ConnectorID: sess.connector.id,
			PowerKW:     sess.allocatedPower,
		})
		ev.ChargerPower[sess.charger.id] += sess.allocatedPower
	}
	if s.battery != nil {
		ev.HasBattery = true
		ev.BatteryPower = batteryPower
		ev.BatteryCapacity = s.battery.CurrentCapacity()
	}

	if err := s.metrics.RecordReallocation(ev); err != nil {
		s.logger.Warnf("record reallocation: %v", err)
	}
	if s.reallocEv != nil {
		s.reallocEv.Publish(ev)
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := s.store.Append(ctx, auditlog.FromReallocation(ev)); err != nil {
			s.logger.Warnf("append audit log: %v", err)
		}
	}
}
