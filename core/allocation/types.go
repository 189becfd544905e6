package allocation

// SessionNode is a leaf of the allocation hierarchy.
type SessionNode struct {
	ID       string
	MaxPower int // power accepted by the vehicle
}

// ChargerNode groups the sessions sharing the same charger ceiling.
type ChargerNode struct {
	ID       string
	MaxPower int
	Sessions []SessionNode
}

// Allocator distributes the available power between the sessions of the
// hierarchy. The returned map holds one entry per session.
type Allocator interface {
	Allocate(chargers []ChargerNode, available int) map[string]int
}

// Node is a capped demand taking part in a fair-share split.
type Node struct {
	ID  string
	Cap int
}

// Total sums the power of an allocation result.
func Total(assignments map[string]int) int {
	sum := 0
	for _, p := range assignments {
		sum += p
	}
	return sum
}
