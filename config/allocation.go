package config

import (
	"fmt"
	"slices"

	"github.com/kilianp07/evstation/core/allocation"
)

// AllocationConfig selects the power sharing strategy.
type AllocationConfig struct {
	Strategy string `json:"strategy"`
}

// SetDefaults applies sane defaults.
func (c *AllocationConfig) SetDefaults() {
	if c.Strategy == "" {
		c.Strategy = allocation.StrategyFairShare
	}
}

// Validate checks the strategy against the registered ones.
func (c AllocationConfig) Validate() error {
	if c.Strategy == "" {
		return nil
	}
	if known := allocation.Strategies(); !slices.Contains(known, c.Strategy) {
		return fmt.Errorf("allocation: unknown strategy %q (known: %v)", c.Strategy, known)
	}
	return nil
}
