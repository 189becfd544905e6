// Package auditlog persists one record per reallocation pass so that the
// allocations granted to each session can be inspected after the fact.
package auditlog

import (
	"context"
	"time"

	"github.com/kilianp07/evstation/core/events"
)

// Record captures one reallocation decision.
type Record struct {
	Timestamp      time.Time                  `json:"timestamp"`
	StationID      string                     `json:"station_id"`
	Trigger        events.SessionAction       `json:"trigger"`
	SessionID      string                     `json:"session_id"`
	GridCapacity   int                        `json:"grid_capacity"`
	AvailablePower int                        `json:"available_power"`
	BatteryPower   int                        `json:"battery_power"`
	Allocations    []events.SessionAllocation `json:"allocations"`
}

// FromReallocation builds the record logged for a reallocation event.
func FromReallocation(ev events.Reallocation) Record {
	return Record{
		Timestamp:      ev.Time,
		StationID:      ev.StationID,
		Trigger:        ev.Trigger,
		SessionID:      ev.SessionID,
		GridCapacity:   ev.GridCapacity,
		AvailablePower: ev.AvailablePower,
		BatteryPower:   ev.BatteryPower,
		Allocations:    ev.Sessions,
	}
}

// Query defines filters for retrieving records. Zero values match everything.
// SessionID matches the triggering session or any session allocated power.
type Query struct {
	Start     time.Time
	End       time.Time
	SessionID string
	Trigger   events.SessionAction
}

// Store persists Records and supports querying.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

func (q Query) matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Trigger != "" && r.Trigger != q.Trigger {
		return false
	}
	if q.SessionID == "" || r.SessionID == q.SessionID {
		return true
	}
	for _, a := range r.Allocations {
		if a.SessionID == q.SessionID {
			return true
		}
	}
	return false
}
