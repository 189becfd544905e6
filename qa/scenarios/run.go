package scenarios

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/kilianp07/evstation/core/allocation"
	"github.com/kilianp07/evstation/core/events"
	"github.com/kilianp07/evstation/core/logger"
	"github.com/kilianp07/evstation/core/station"
)

// Epoch is the virtual time of minute zero.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Allocation is the power granted to one session after a step. Session is
// the scenario label, SessionID the station identifier.
type Allocation struct {
	Session         string `json:"session"`
	SessionID       string `json:"session_id"`
	ChargerID       string `json:"charger_id"`
	ConnectorID     int    `json:"connector_id"`
	VehicleMaxPower int    `json:"vehicle_max_power"`
	PowerKW         int    `json:"power_kw"`
}

// StepResult is the station state right after a step.
type StepResult struct {
	Index           int          `json:"index"`
	Time            time.Time    `json:"time"`
	Action          string       `json:"action"`
	Session         string       `json:"session"`
	Error           string       `json:"error,omitempty"`
	Allocations     []Allocation `json:"allocations"`
	AllocatedPower  int          `json:"allocated_power"`
	AvailablePower  int          `json:"available_power"`
	BatteryCapacity *float64     `json:"battery_capacity,omitempty"`
	BatteryPower    int          `json:"battery_power"`
	Fairness        float64      `json:"fairness"`
	Satisfaction    float64      `json:"satisfaction"`
	Mismatches      []string     `json:"mismatches,omitempty"`
}

// Result is the outcome of one scenario run under a strategy.
type Result struct {
	Name     string       `json:"name"`
	Strategy string       `json:"strategy"`
	Steps    []StepResult `json:"steps"`
}

// Failed reports whether any step diverged from its expectations.
func (r *Result) Failed() bool { return len(r.Mismatches()) > 0 }

// Mismatches lists every unmet expectation prefixed by its step.
func (r *Result) Mismatches() []string {
	var out []string
	for _, s := range r.Steps {
		for _, m := range s.Mismatches {
			out = append(out, fmt.Sprintf("step %d (%s %s): %s", s.Index, s.Action, s.Session, m))
		}
	}
	return out
}

// Run replays the scenario against a fresh station driven by a virtual
// clock. An error is returned only when the scenario cannot be set up;
// unmet expectations are reported in the result.
func Run(sc *Scenario) (*Result, error) {
	strategy := sc.Strategy
	if strategy == "" {
		strategy = allocation.StrategyFairShare
	}
	alloc, err := allocation.New(strategy)
	if err != nil {
		return nil, err
	}
	now := Epoch
	st, err := station.NewStation(sc.Station.ToConfig(), alloc, logger.NopLogger{}, func() time.Time { return now })
	if err != nil {
		return nil, err
	}

	res := &Result{Name: sc.Name, Strategy: strategy}
	ids := map[string]string{}
	for i, step := range sc.Steps {
		now = Epoch.Add(time.Duration(step.AtMinutes) * time.Minute)
		err := apply(st, step, ids)
		sr := snapshot(st, ids)
		sr.Index = i
		sr.Time = now
		sr.Action = step.Action
		sr.Session = step.Session
		if err != nil {
			sr.Error = err.Error()
		}
		sr.Mismatches = check(step, sr, err)
		res.Steps = append(res.Steps, sr)
	}
	return res, nil
}

func apply(st *station.Station, step Step, ids map[string]string) error {
	id, ok := ids[step.Session]
	if !ok {
		id = step.Session
	}
	switch events.SessionAction(step.Action) {
	case events.SessionStarted:
		sess, err := st.StartSession(step.Charger, step.Connector, step.VehicleMaxPower)
		if err != nil {
			return err
		}
		ids[step.Session] = sess.ID
		return nil
	case events.SessionUpdated:
		_, err := st.PowerUpdate(id, step.ConsumedPower, step.VehicleMaxPower)
		return err
	case events.SessionStopped:
		_, err := st.StopSession(id, step.ConsumedEnergy)
		return err
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

func snapshot(st *station.Station, ids map[string]string) StepResult {
	aliases := make(map[string]string, len(ids))
	for alias, id := range ids {
		aliases[id] = alias
	}
	status := st.Status()
	sr := StepResult{AvailablePower: status.AvailablePower, Allocations: []Allocation{}}
	var allocated, demand []float64
	for _, ch := range status.PowerAllocation {
		for _, s := range ch.Sessions {
			var conn int
			for _, a := range status.ActiveSessions {
				if a.SessionID == s.SessionID {
					conn = a.ConnectorID
				}
			}
			sr.Allocations = append(sr.Allocations, Allocation{
				Session:         aliases[s.SessionID],
				SessionID:       s.SessionID,
				ChargerID:       ch.ChargerID,
				ConnectorID:     conn,
				VehicleMaxPower: s.VehicleMaxPower,
				PowerKW:         s.AllocatedPower,
			})
			sr.AllocatedPower += s.AllocatedPower
			allocated = append(allocated, float64(s.AllocatedPower))
			demand = append(demand, float64(s.VehicleMaxPower))
		}
	}
	sr.Fairness = JainIndex(allocated, demand)
	sr.Satisfaction = MeanSatisfaction(allocated, demand)
	if b := status.Battery; b != nil {
		c := b.CurrentCapacity
		sr.BatteryCapacity = &c
		sr.BatteryPower = b.AllocatedPower
	}
	return sr
}

func check(step Step, sr StepResult, err error) []string {
	var out []string
	switch {
	case err != nil && step.ExpectError == "":
		out = append(out, "unexpected error: "+err.Error())
	case err != nil && station.KindOf(err).String() != step.ExpectError:
		out = append(out, fmt.Sprintf("expected %s error, got %s: %v", step.ExpectError, station.KindOf(err), err))
	case err == nil && step.ExpectError != "":
		out = append(out, fmt.Sprintf("expected %s error, got none", step.ExpectError))
	}

	aliases := make([]string, 0, len(step.Expect))
	for alias := range step.Expect {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		want := step.Expect[alias]
		got := 0
		for _, a := range sr.Allocations {
			if a.Session == alias {
				got = a.PowerKW
			}
		}
		if got != want {
			out = append(out, fmt.Sprintf("%s: expected %d kW, got %d kW", alias, want, got))
		}
	}

	if step.ExpectBattery != nil {
		switch {
		case sr.BatteryCapacity == nil:
			out = append(out, "expected a battery")
		case math.Abs(*sr.BatteryCapacity-*step.ExpectBattery) > 0.05:
			out = append(out, fmt.Sprintf("battery: expected %.1f kWh, got %.2f kWh", *step.ExpectBattery, *sr.BatteryCapacity))
		}
	}
	return out
}
