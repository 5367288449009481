// Package relay re-broadcasts notifications to local WebSocket consumers.
//
// Each consumer gets a buffered send queue and its own write pump. A consumer
// that falls a full buffer behind is disconnected rather than allowed to slow
// delivery to the others.
package relay
