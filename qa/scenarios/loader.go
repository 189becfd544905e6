package scenarios

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/evstation/core/events"
	"github.com/kilianp07/evstation/core/station"
)

type ChargerDef struct {
	ID         string `yaml:"id"`
	MaxPower   int    `yaml:"max_power"`
	Connectors int    `yaml:"connectors"`
}

type BatteryDef struct {
	InitialCapacity float64 `yaml:"initial_capacity"`
	Power           int     `yaml:"power"`
}

type StationDef struct {
	ID           string       `yaml:"id"`
	GridCapacity int          `yaml:"grid_capacity"`
	Chargers     []ChargerDef `yaml:"chargers"`
	Battery      *BatteryDef  `yaml:"battery,omitempty"`
}

// ToConfig converts the definition to a station configuration.
func (d StationDef) ToConfig() station.Config {
	cfg := station.Config{ID: d.ID, GridCapacity: d.GridCapacity}
	for _, c := range d.Chargers {
		cfg.Chargers = append(cfg.Chargers, station.ChargerConfig{ID: c.ID, MaxPower: c.MaxPower, Connectors: c.Connectors})
	}
	if d.Battery != nil {
		cfg.Battery = &station.BatteryConfig{InitialCapacity: d.Battery.InitialCapacity, Power: d.Battery.Power}
	}
	return cfg
}

// Step is one session event. Sessions are referred to by an alias chosen in
// the scenario since real session IDs are generated.
type Step struct {
	AtMinutes       int            `yaml:"at_minutes"`
	Action          string         `yaml:"action"`
	Session         string         `yaml:"session"`
	Charger         string         `yaml:"charger,omitempty"`
	Connector       int            `yaml:"connector,omitempty"`
	VehicleMaxPower int            `yaml:"vehicle_max_power,omitempty"`
	ConsumedPower   float64        `yaml:"consumed_power,omitempty"`
	ConsumedEnergy  float64        `yaml:"consumed_energy,omitempty"`
	Expect          map[string]int `yaml:"expect,omitempty"`
	ExpectBattery   *float64       `yaml:"expect_battery_capacity,omitempty"`
	ExpectError     string         `yaml:"expect_error,omitempty"`
}

type Scenario struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Strategy    string     `yaml:"strategy,omitempty"`
	Station     StationDef `yaml:"station"`
	Steps       []Step     `yaml:"steps"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks the station and the ordering of steps.
func (sc Scenario) Validate() error {
	if err := sc.Station.ToConfig().Validate(); err != nil {
		return err
	}
	last := 0
	for i, st := range sc.Steps {
		if st.AtMinutes < last {
			return fmt.Errorf("step %d: at_minutes goes back in time", i)
		}
		last = st.AtMinutes
		if st.Session == "" {
			return fmt.Errorf("step %d: session alias is required", i)
		}
		switch events.SessionAction(st.Action) {
		case events.SessionStarted, events.SessionUpdated, events.SessionStopped:
		default:
			return fmt.Errorf("step %d: unknown action %q", i, st.Action)
		}
	}
	return nil
}
