package events

import "time"

// SessionAction identifies what happened to a session.
type SessionAction string

const (
	SessionStarted SessionAction = "start"
	SessionUpdated SessionAction = "power_update"
	SessionStopped SessionAction = "stop"
)

// SessionEvent is published once the triggering event and its reallocation
// have completed.
type SessionEvent struct {
	StationID       string
	Action          SessionAction
	SessionID       string
	ChargerID       string
	ConnectorID     int
	VehicleMaxPower int
	ConsumedEnergy  float64
	AllocatedPower  int
	Time            time.Time
}
