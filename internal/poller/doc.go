// Package poller implements the conduit shard monitor.
//
// The monitor:
//   - Reads the conduit's shards from Helix on a fixed interval
//   - Skips the check while the session is not connected
//   - Re-binds the shard to the current session when Twitch reports it
//     disabled, missing, or bound to a different session
package poller
