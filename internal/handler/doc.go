// Package handler routes EventSub notifications to application handlers by
// subscription type.
//
// A Registry satisfies connection.Handler. Handlers registered for a type run
// in registration order; taps see every notification regardless of type and
// feed persistence and the local relay.
package handler
