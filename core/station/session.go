package station

import (
	"time"

	"github.com/google/uuid"
)

// Session is a snapshot of a charging session handed out to callers.
type Session struct {
	ID              string     `json:"sessionId"`
	ChargerID       string     `json:"chargerId"`
	ConnectorID     int        `json:"connectorId"`
	VehicleMaxPower int        `json:"vehicleMaxPower"`
	ConsumedEnergy  float64    `json:"consumedEnergy"`
	AllocatedPower  int        `json:"allocatedPower"`
	StartedAt       time.Time  `json:"startedAt"`
	StoppedAt       *time.Time `json:"stoppedAt,omitempty"`
}

// Active reports whether the session was not stopped when the snapshot was
// taken.
func (s Session) Active() bool { return s.StoppedAt == nil }

type session struct {
	id              string
	charger         *charger
	connector       *connector
	vehicleMaxPower int
	consumed        float64
	allocatedPower  int
	startedAt       time.Time
	stoppedAt       time.Time
}

func newSession(ch *charger, conn *connector, vehicleMaxPower int, now time.Time) *session {
	return &session{
		id:              uuid.NewString(),
		charger:         ch,
		connector:       conn,
		vehicleMaxPower: vehicleMaxPower,
		startedAt:       now,
	}
}

func (s *session) snapshot() Session {
	out := Session{
		ID:              s.id,
		ChargerID:       s.charger.id,
		ConnectorID:     s.connector.id,
		VehicleMaxPower: s.vehicleMaxPower,
		ConsumedEnergy:  s.consumed,
		AllocatedPower:  s.allocatedPower,
		StartedAt:       s.startedAt,
	}
	if !s.stoppedAt.IsZero() {
		stopped := s.stoppedAt
		out.StoppedAt = &stopped
	}
	return out
}
