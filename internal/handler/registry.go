package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/eventsub-receiver/internal/connection"
)

// ErrNoBroadcaster is returned when a notification's event carries no
// broadcaster id.
var ErrNoBroadcaster = errors.New("event has no broadcaster id")

// Event is a notification resolved to the broadcaster it concerns.
type Event struct {
	BroadcasterID string
	Notification  connection.Notification
}

// Func handles one event.
type Func func(ctx context.Context, e Event) error

// Sink receives every notification. Deliver must not block.
type Sink interface {
	Deliver(e Event)
}

// Registry maps subscription types to handlers.
type Registry struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Func
	taps     []Sink
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger.With("component", "handler"),
		handlers: make(map[string][]Func),
	}
}

// Register adds fn for subscriptionType.
func (r *Registry) Register(subscriptionType string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[subscriptionType] = append(r.handlers[subscriptionType], fn)
}

// RegisterTyped adds a handler that receives the event decoded into T. A
// notification whose event does not decode is logged and skipped.
func RegisterTyped[T any](r *Registry, subscriptionType string, fn func(ctx context.Context, e Event, payload T) error) {
	r.Register(subscriptionType, func(ctx context.Context, e Event) error {
		var payload T
		if err := json.Unmarshal(e.Notification.Payload.Event, &payload); err != nil {
			r.logger.Warn("event decode failed",
				"subscription_type", subscriptionType,
				"message_id", e.Notification.Metadata.MessageID,
				"error", err,
			)
			return nil
		}
		return fn(ctx, e, payload)
	})
}

// Tap adds a sink that receives every notification.
func (r *Registry) Tap(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taps = append(r.taps, s)
}

// Types returns the subscription types with at least one handler.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// ProcessEvent delivers a notification to the taps and to every handler
// registered for its subscription type. Handler failures are joined into the
// returned error; a panicking handler does not stop the ones after it.
func (r *Registry) ProcessEvent(ctx context.Context, subscriptionType string, n connection.Notification) error {
	r.mu.RLock()
	handlers := r.handlers[subscriptionType]
	taps := r.taps
	r.mu.RUnlock()

	broadcasterID, idErr := BroadcasterID(n.Payload.Event)
	e := Event{BroadcasterID: broadcasterID, Notification: n}

	for _, tap := range taps {
		tap.Deliver(e)
	}

	if len(handlers) == 0 {
		r.logger.Debug("no handler for subscription type", "subscription_type", subscriptionType)
		return nil
	}
	if idErr != nil {
		return fmt.Errorf("%s %s: %w", subscriptionType, n.Metadata.MessageID, idErr)
	}

	var errs []error
	for _, fn := range handlers {
		if err := r.call(ctx, fn, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) call(ctx context.Context, fn Func, e Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return fn(ctx, e)
}

// broadcasterFields are checked in order; a gift or raid names the receiving
// channel in to_broadcaster_user_id.
var broadcasterFields = []string{"to_broadcaster_user_id", "broadcaster_user_id"}

// BroadcasterID extracts the receiving broadcaster's user id from an event
// body. Events that wrap their content in a data array are read from the
// first element.
func BroadcasterID(event json.RawMessage) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(event, &fields); err != nil {
		return "", fmt.Errorf("decode event: %w", err)
	}

	if id := firstString(fields); id != "" {
		return id, nil
	}

	if raw, ok := fields["data"]; ok {
		var data []map[string]json.RawMessage
		if err := json.Unmarshal(raw, &data); err == nil && len(data) > 0 {
			if id := firstString(data[0]); id != "" {
				return id, nil
			}
		}
	}

	return "", ErrNoBroadcaster
}

func firstString(fields map[string]json.RawMessage) string {
	for _, key := range broadcasterFields {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}
