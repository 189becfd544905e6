package allocation

// FairShareAllocator runs Balance at the charger level, using each vehicle
// maximum as node cap, and then across all sessions with the charger-derived
// caps against the global budget.
//
// The two phases are not re-optimised against each other: once a charger
// ceiling has shaped its session caps, the global split only sees those caps.
type FairShareAllocator struct{}

// Allocate implements Allocator.
func (FairShareAllocator) Allocate(chargers []ChargerNode, available int) map[string]int {
	var flat []Node
	for _, c := range chargers {
		nodes := make([]Node, len(c.Sessions))
		for i, s := range c.Sessions {
			nodes[i] = Node{ID: s.ID, Cap: s.MaxPower}
		}
		caps := Balance(c.MaxPower, nodes)
		for _, n := range nodes {
			flat = append(flat, Node{ID: n.ID, Cap: caps[n.ID]})
		}
	}
	return Balance(available, flat)
}
