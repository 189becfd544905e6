package station

import "github.com/kilianp07/evstation/core/battery"

// Status is a read-only snapshot of the station.
type Status struct {
	StationID       string              `json:"stationId"`
	ActiveSessions  []ActiveSession     `json:"activeSessions"`
	PowerAllocation []ChargerAllocation `json:"powerAllocation"`
	AvailablePower  int                 `json:"availablePower"`
	GridCapacity    int                 `json:"gridCapacity"`
	Battery         *battery.State      `json:"battery"`
}

// ActiveSession locates a running session.
type ActiveSession struct {
	SessionID   string `json:"sessionId"`
	ChargerID   string `json:"chargerId"`
	ConnectorID int    `json:"connectorId"`
}

// ChargerAllocation lists the power granted on one charger.
type ChargerAllocation struct {
	ChargerID string              `json:"chargerId"`
	MaxPower  int                 `json:"maxPower"`
	Sessions  []SessionAllocation `json:"sessions"`
}

// SessionAllocation is the power granted to one session.
type SessionAllocation struct {
	SessionID       string  `json:"sessionId"`
	AllocatedPower  int     `json:"allocatedPower"`
	VehicleMaxPower int     `json:"vehicleMaxPower"`
	ConsumedPower   float64 `json:"consumedPower"`
}

// Status returns the current allocation of every charger, idle ones
// included.
func (s *Station) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		StationID:       s.id,
		ActiveSessions:  []ActiveSession{},
		PowerAllocation: make([]ChargerAllocation, 0, len(s.chargers)),
		AvailablePower:  s.availablePower(),
		GridCapacity:    s.gridCapacity,
	}
	for _, ch := range s.chargers {
		ca := ChargerAllocation{ChargerID: ch.id, MaxPower: ch.maxPower, Sessions: []SessionAllocation{}}
		for _, sess := range ch.sessions() {
			st.ActiveSessions = append(st.ActiveSessions, ActiveSession{
				SessionID:   sess.id,
				ChargerID:   ch.id,
				ConnectorID: sess.connector.id,
			})
			ca.Sessions = append(ca.Sessions, SessionAllocation{
				SessionID:       sess.id,
				AllocatedPower:  sess.allocatedPower,
				VehicleMaxPower: sess.vehicleMaxPower,
				ConsumedPower:   sess.consumed,
			})
		}
		st.PowerAllocation = append(st.PowerAllocation, ca)
	}
	if s.battery != nil {
		b := s.battery.State()
		st.Battery = &b
	}
	return st
}
