package allocation

import "github.com/kilianp07/evstation/core/factory"

const (
	// StrategyFairShare selects FairShareAllocator.
	StrategyFairShare = "fair_share"
	// StrategyEvenShare selects EvenShareAllocator.
	StrategyEvenShare = "even_share"
)

var registry = factory.NewRegistry[Allocator]()

func init() {
	_ = registry.Register(StrategyFairShare, func(map[string]any) (Allocator, error) {
		return FairShareAllocator{}, nil
	})
	_ = registry.Register(StrategyEvenShare, func(map[string]any) (Allocator, error) {
		return EvenShareAllocator{}, nil
	})
}

// New returns the allocator registered under name. An empty name selects the
// fair-share strategy.
func New(name string) (Allocator, error) {
	if name == "" {
		name = StrategyFairShare
	}
	return registry.Create(factory.ModuleConfig{Type: name})
}

// Strategies lists the registered strategy names.
func Strategies() []string { return registry.Names() }
