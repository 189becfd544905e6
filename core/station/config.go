package station

import (
	"errors"
	"fmt"
)

// MaxPowerKW bounds every configured power so that grid plus battery always
// fits in an int.
const MaxPowerKW = 1_000_000

// Config describes the station topology. It is treated as immutable once
// the station is built.
type Config struct {
	ID           string          `json:"id"`
	GridCapacity int             `json:"grid_capacity"`
	Chargers     []ChargerConfig `json:"chargers"`
	Battery      *BatteryConfig  `json:"battery"`
}

// ChargerConfig describes one charger and its number of connectors.
type ChargerConfig struct {
	ID         string `json:"id"`
	MaxPower   int    `json:"max_power"`
	Connectors int    `json:"connectors"`
}

// BatteryConfig describes the optional battery buffer.
type BatteryConfig struct {
	InitialCapacity float64 `json:"initial_capacity"` // kWh
	Power           int     `json:"power"`            // kW, charge and discharge
}

// Validate checks the topology for consistency.
func (c Config) Validate() error {
	if c.ID == "" {
		return errors.New("station: id is required")
	}
	if c.GridCapacity < 0 || c.GridCapacity > MaxPowerKW {
		return fmt.Errorf("station: grid_capacity must be within [0,%d], got %d", MaxPowerKW, c.GridCapacity)
	}
	if len(c.Chargers) == 0 {
		return errors.New("station: at least one charger is required")
	}
	seen := make(map[string]bool, len(c.Chargers))
	for i, ch := range c.Chargers {
		if ch.ID == "" {
			return fmt.Errorf("station: charger %d has no id", i)
		}
		if seen[ch.ID] {
			return fmt.Errorf("station: duplicate charger id %q", ch.ID)
		}
		seen[ch.ID] = true
		if ch.MaxPower <= 0 {
			return fmt.Errorf("station: charger %s max_power must be positive", ch.ID)
		}
		if ch.Connectors <= 0 {
			return fmt.Errorf("station: charger %s needs at least one connector", ch.ID)
		}
	}
	if b := c.Battery; b != nil {
		if b.InitialCapacity <= 0 {
			return errors.New("station: battery initial_capacity must be positive")
		}
		if b.Power <= 0 || b.Power > MaxPowerKW {
			return fmt.Errorf("station: battery power must be within [1,%d]", MaxPowerKW)
		}
	}
	return nil
}
