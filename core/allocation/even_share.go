package allocation

// EvenShareAllocator caps every session of a saturated charger to an even
// share of the charger power, ignoring how much the other vehicles on that
// charger accept. Sessions of chargers whose combined vehicle demand fits
// keep their vehicle maximum. The global split is the same as
// FairShareAllocator.
//
// With a 300 kW charger and vehicles accepting 400 and 100 kW the caps become
// 150/100, where FairShareAllocator yields 200/100.
type EvenShareAllocator struct{}

// Allocate implements Allocator.
func (EvenShareAllocator) Allocate(chargers []ChargerNode, available int) map[string]int {
	var flat []Node
	for _, c := range chargers {
		if len(c.Sessions) == 0 {
			continue
		}
		demand := 0
		for _, s := range c.Sessions {
			demand += s.MaxPower
		}
		perSession := -1
		if c.MaxPower < demand {
			perSession = c.MaxPower / len(c.Sessions)
		}
		for _, s := range c.Sessions {
			cap := s.MaxPower
			if perSession >= 0 && perSession < cap {
				cap = perSession
			}
			flat = append(flat, Node{ID: s.ID, Cap: cap})
		}
	}
	return Balance(available, flat)
}
