// Package broadcast pushes periodic state snapshots to connected overlay
// WebSocket clients. A single actor goroutine owns the client set; snapshots
// are pulled from the poll engine on a tick loop and fanned out through
// per-client writer goroutines so one slow client never blocks the rest.
package broadcast
