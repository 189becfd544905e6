// Package events defines the station events emitted on the event bus.
//
// Available event types:
//   - SessionEvent: a session was started, updated or stopped
//   - Reallocation: the result of a completed reallocation pass
package events
