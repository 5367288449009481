// Package connection implements the EventSub WebSocket session manager.
//
// The session manager:
//   - Holds at most one transport to the EventSub server
//   - Runs every lifecycle decision on a single event loop goroutine
//   - Supervises liveness from session_keepalive frames
//   - Follows session_reconnect to the server-supplied URL after a grace period
//   - Reconnects with exponential backoff and jitter, bounded by an attempt budget
//   - Binds each welcomed session to a conduit shard
//   - Hands notifications, in order, to a Handler on a dedicated goroutine
package connection
