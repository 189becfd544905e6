// Package station holds the charging station topology and its active
// sessions, and rebalances the power budget after every session event.
//
// A Station is built once from Config and passed explicitly to its users. All
// methods are safe for concurrent use: a single mutex spans the handling of an
// event and the reallocation pass it triggers, so the allocator always works
// on a consistent snapshot of the active sessions.
package station
