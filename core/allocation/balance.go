package allocation

import "sort"

// Balance splits available between nodes so that no node can receive more
// without taking power from a node that has not reached its own cap.
//
// Each round hands every unsaturated node ceil(remaining/unsaturated) units,
// bounded by its headroom and by the power left. The loop stops once all
// nodes are saturated or no whole unit remains. Every round either saturates
// a node or exhausts the budget, so at most len(nodes)+1 rounds run.
func Balance(available int, nodes []Node) map[string]int {
	assignments := make(map[string]int, len(nodes))
	if len(nodes) == 0 {
		return assignments
	}
	ordered := make([]Node, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	for _, n := range ordered {
		assignments[n.ID] = 0
	}

	remaining := available
	unfilled := make([]Node, 0, len(ordered))
	for {
		unfilled = unfilled[:0]
		for _, n := range ordered {
			if assignments[n.ID] < n.Cap {
				unfilled = append(unfilled, n)
			}
		}
		if len(unfilled) == 0 {
			break
		}
		share := ceilDiv(remaining, len(unfilled))
		if share <= 0 {
			break
		}
		for _, n := range unfilled {
			add := min(share, n.Cap-assignments[n.ID], remaining)
			if add <= 0 {
				continue
			}
			assignments[n.ID] += add
			remaining -= add
		}
	}
	return assignments
}

// ceilDiv rounds a/b up without overflowing near math.MaxInt.
func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}
