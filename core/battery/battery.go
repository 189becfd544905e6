// Package battery models the station energy buffer.
//
// The buffer discharges to cover demand above the grid capacity and recharges
// from surplus grid power. Its capacity is projected linearly from the last
// anchor using the currently allocated power; no degradation is modelled.
package battery

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// MinimumCapacityRatio is the share of the initial capacity kept in reserve to
// protect the battery from deep discharge.
const MinimumCapacityRatio = 0.1

var (
	// ErrPowerLimit is returned when the requested power exceeds the rated power.
	ErrPowerLimit = errors.New("cannot allocate more power than the battery can sustain")
	// ErrInsufficientCapacity is returned when the battery is below its reserve.
	ErrInsufficientCapacity = errors.New("not enough capacity to allocate power")
)

// Battery tracks a single energy buffer. Positive allocated power means the
// battery discharges into the station, negative means it charges from the grid.
//
// Battery is not safe for concurrent use; the owning station serialises access.
type Battery struct {
	initialCapacity float64 // kWh
	maxPower        int     // kW, charge and discharge
	allocatedPower  int
	capacity        float64 // kWh at lastUpdate
	lastUpdate      time.Time
	now             func() time.Time
}

// State is a point-in-time view of the battery.
type State struct {
	InitialCapacity   float64 `json:"initialCapacity"`
	CurrentCapacity   float64 `json:"currentCapacity"`
	MinimumCapacity   float64 `json:"minimumCapacity"`
	MaxPower          int     `json:"maxPower"`
	MaxAvailablePower int     `json:"maxAvailablePower"`
	AllocatedPower    int     `json:"allocatedPower"`
	Full              bool    `json:"full"`
}

// New returns a fully charged battery. A nil clock defaults to time.Now.
func New(initialCapacity float64, maxPower int, clock func() time.Time) *Battery {
	if clock == nil {
		clock = time.Now
	}
	return &Battery{
		initialCapacity: initialCapacity,
		maxPower:        maxPower,
		capacity:        initialCapacity,
		lastUpdate:      clock(),
		now:             clock,
	}
}

// InitialCapacity returns the nominal capacity in kWh.
func (b *Battery) InitialCapacity() float64 { return b.initialCapacity }

// MaxPower returns the rated charge and discharge power.
func (b *Battery) MaxPower() int { return b.maxPower }

// AllocatedPower returns the power committed by the last allocation.
func (b *Battery) AllocatedPower() int { return b.allocatedPower }

// MinimumCapacity returns the reserve below which the battery is not used.
func (b *Battery) MinimumCapacity() float64 {
	return b.initialCapacity * MinimumCapacityRatio
}

// CurrentCapacity projects the anchored capacity to now, clamped to
// [0, initial capacity].
func (b *Battery) CurrentCapacity() float64 {
	return b.capacityAt(b.now())
}

func (b *Battery) capacityAt(t time.Time) float64 {
	hours := t.Sub(b.lastUpdate).Hours()
	c := b.capacity - float64(b.allocatedPower)*hours
	return math.Max(0, math.Min(c, b.initialCapacity))
}

// MaxAvailablePower is the discharge power the station may count on: zero
// once the reserve is reached, the rated power otherwise.
func (b *Battery) MaxAvailablePower() int {
	if b.CurrentCapacity() < b.MinimumCapacity() {
		return 0
	}
	return b.maxPower
}

// IsFull reports whether the battery should not be charged any further.
func (b *Battery) IsFull() bool {
	return b.CurrentCapacity() >= b.initialCapacity
}

// AllocatePower re-anchors the capacity to now and commits the new power.
// Discharging is refused once the capacity is below the reserve. Unlike a
// reserve check applied to every request, charging and idling are accepted
// below the reserve, within the rated power, so a drained battery can
// recover instead of failing every later reallocation. A rejected allocation
// leaves the battery untouched.
func (b *Battery) AllocatePower(power int) error {
	now := b.now()
	capacity := b.capacityAt(now)

	if abs(power) > b.maxPower {
		return fmt.Errorf("%w: requested %d kW, rated %d kW", ErrPowerLimit, power, b.maxPower)
	}
	if power > 0 && capacity < b.MinimumCapacity() {
		return fmt.Errorf("%w: %.2f kWh left, reserve %.2f kWh", ErrInsufficientCapacity, capacity, b.MinimumCapacity())
	}
	b.capacity = capacity
	b.lastUpdate = now
	b.allocatedPower = power
	return nil
}

// State returns a snapshot of the battery.
func (b *Battery) State() State {
	current := b.CurrentCapacity()
	avail := b.maxPower
	if current < b.MinimumCapacity() {
		avail = 0
	}
	return State{
		InitialCapacity:   b.initialCapacity,
		CurrentCapacity:   current,
		MinimumCapacity:   b.MinimumCapacity(),
		MaxPower:          b.maxPower,
		MaxAvailablePower: avail,
		AllocatedPower:    b.allocatedPower,
		Full:              current >= b.initialCapacity,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
