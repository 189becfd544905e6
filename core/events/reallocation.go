package events

import "time"

// SessionAllocation is the power granted to one session.
type SessionAllocation struct {
	SessionID   string `json:"session_id"`
	ChargerID   string `json:"charger_id"`
	ConnectorID int    `json:"connector_id"`
	PowerKW     int    `json:"power_kw"`
}

// Reallocation describes the outcome of a reallocation pass.
type Reallocation struct {
	StationID      string              `json:"station_id"`
	Trigger        SessionAction       `json:"trigger"`
	SessionID      string              `json:"session_id"`
	GridCapacity   int                 `json:"grid_capacity"`
	AvailablePower int                 `json:"available_power"`
	AllocatedPower int                 `json:"allocated_power"`
	Sessions       []SessionAllocation `json:"sessions"`
	// ChargerPower is the allocated power summed per charger, idle chargers
	// included at zero.
	ChargerPower    map[string]int `json:"charger_power"`
	HasBattery      bool           `json:"has_battery"`
	BatteryPower    int            `json:"battery_power"`
	BatteryCapacity float64        `json:"battery_capacity"`
	Time            time.Time      `json:"time"`
}
