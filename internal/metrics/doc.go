// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Session lifecycle state, transitions and close codes
//   - Frame and notification rates, parse errors, revocations
//   - Conduit shard update results and Helix request latency
//   - Writer row outcomes and relay consumer counts
package metrics
