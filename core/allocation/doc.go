// Package allocation splits a station power budget between charging sessions.
//
// The budget is described as a two-level hierarchy: chargers, each with a
// power ceiling, and the sessions plugged into them, each with the maximum
// power its vehicle accepts. Allocators are pure functions of that hierarchy
// and the available power; they never mutate their input.
//
// Key components:
//   - Balance: the max-min fair-share primitive (integral water-filling).
//   - FairShareAllocator: caps each session by a fair split of its charger,
//     then fair-shares the global budget. This is the default strategy.
//   - EvenShareAllocator: caps each session of a saturated charger to an even
//     per-session share of the charger before the global split.
//
// Allocation is computed in whole power units (kW). A leftover smaller than
// the number of unsaturated sessions is handed out one unit at a time in
// session ID order, so the result does not depend on input ordering.
package allocation
