package connection

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/metrics"
)

// ParseMessage decodes a single EventSub frame. Frames without a
// message_type are rejected.
func ParseMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("unmarshal frame: %w", err)
	}
	if msg.Metadata.MessageType == "" {
		return Message{}, ErrInvalidMessageType
	}
	return msg, nil
}

// handleFrame classifies one inbound frame from the current transport.
// Frames are handled strictly in arrival order on the event loop.
func (m *manager) handleFrame(ev frameEvent) {
	if m.transport == nil || ev.gen != m.transport.gen {
		m.droppedFrames++
		return
	}
	m.framesReceived++

	msg, err := ParseMessage(ev.msg.Data)
	if err != nil {
		m.parseErrors++
		metrics.ParseErrors.Inc()
		m.logger.Warn("failed to parse frame", "error", err, "bytes", len(ev.msg.Data))
		return
	}

	kind := msg.Kind()
	metrics.FramesReceived.WithLabelValues(kind.String()).Inc()

	switch kind {
	case KindWelcome:
		m.onWelcome(msg)
	case KindKeepalive:
		m.onKeepalive(msg)
	case KindNotification:
		m.onNotification(msg, ev.msg.ReceivedAt)
	case KindReconnect:
		m.onReconnect(msg)
	case KindRevocation:
		m.onRevocation(msg)
	default:
		m.logger.Debug("ignoring frame", "message_type", msg.Metadata.MessageType)
	}
}

func (m *manager) onWelcome(msg Message) {
	p := msg.Payload.Session
	if p == nil {
		m.logger.Warn("session_welcome without session payload", "message_id", msg.Metadata.MessageID)
		return
	}

	m.session.applyWelcome(p, m.clock.Now())
	m.transport.welcomed = true

	m.logger.Info("session welcome",
		"session_id", m.session.ID,
		"keepalive_timeout", m.session.KeepaliveTimeout,
		"reconnect_url", m.session.hasReconnectURL(),
	)

	if m.session.KeepaliveTimeout > 0 {
		gen := m.transport.gen
		first := m.keepalive.start(m.session.KeepaliveTimeout, func() {
			m.postTimer(keepaliveDue{gen: gen})
		})
		m.logger.Debug("keepalive monitor started", "first_check", first)
	}

	if m.session.ID != "" {
		m.updateTransport(m.session.ID)
	}
}

func (m *manager) onKeepalive(msg Message) {
	m.session.touch(m.clock.Now())
	if p := msg.Payload.Session; p != nil && p.KeepaliveTimeoutSeconds > 0 {
		m.session.KeepaliveTimeout = p.KeepaliveTimeoutSeconds
	}
}

func (m *manager) onNotification(msg Message, receivedAt time.Time) {
	if !m.transport.welcomed {
		m.droppedFrames++
		m.logger.Warn("notification before session welcome, dropping",
			"message_id", msg.Metadata.MessageID,
			"subscription_type", msg.Metadata.SubscriptionType,
		)
		return
	}

	subType := msg.Metadata.SubscriptionType
	if subType == "" || !hasEvent(msg.Payload.Event) {
		m.droppedFrames++
		return
	}

	n := Notification{
		SubscriptionType: subType,
		ReceivedAt:       receivedAt,
		Metadata:         msg.Metadata,
		Payload:          msg.Payload,
	}
	if !m.queue.Send(n) {
		m.droppedFrames++
		m.logger.Warn("notification queue closed, dropping", "message_id", msg.Metadata.MessageID)
		return
	}

	m.notifications++
	metrics.Notifications.WithLabelValues(subType).Inc()
}

func (m *manager) onReconnect(msg Message) {
	p := msg.Payload.Session
	if p == nil || p.ReconnectURL == nil || *p.ReconnectURL == "" {
		m.logger.Error("session_reconnect without reconnect_url", "message_id", msg.Metadata.MessageID)
		return
	}

	m.session.ReconnectURL = *p.ReconnectURL
	m.logger.Info("session reconnect requested", "grace", m.cfg.ReconnectGrace)

	// Let in-flight frames drain before the close handler takes over.
	gen := m.transport.gen
	m.stopGrace()
	m.graceTimer = m.clock.AfterFunc(m.cfg.ReconnectGrace, func() {
		m.postTimer(graceDue{gen: gen})
	})
}

func (m *manager) onRevocation(msg Message) {
	sub := msg.Payload.Subscription
	if sub == nil {
		m.logger.Warn("revocation without subscription payload", "message_id", msg.Metadata.MessageID)
		return
	}

	status := sub.Status
	switch status {
	case "user_removed", "authorization_revoked", "version_removed":
	default:
		status = "other"
	}
	metrics.Revocations.WithLabelValues(status).Inc()

	m.logger.Warn("subscription revoked",
		"subscription_id", sub.ID,
		"subscription_type", sub.Type,
		"status", sub.Status,
		"reason", RevocationReason(sub.Status),
	)
}

// hasEvent reports whether a raw event payload is present and not JSON null.
func hasEvent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
