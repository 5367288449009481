package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyClosed      = errors.New("already closed")
	ErrManagerStopped     = errors.New("manager stopped")
	ErrManagerNotStarted  = errors.New("manager not started")
	ErrConnectAborted     = errors.New("connect aborted")
	ErrInvalidMessageType = errors.New("missing message_type")
)

// Message types sent by the EventSub WebSocket server.
const (
	MessageTypeWelcome      = "session_welcome"
	MessageTypeKeepalive    = "session_keepalive"
	MessageTypeNotification = "notification"
	MessageTypeReconnect    = "session_reconnect"
	MessageTypeRevocation   = "revocation"
)

// MessageKind classifies an inbound frame.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindWelcome
	KindKeepalive
	KindNotification
	KindReconnect
	KindRevocation
)

func (k MessageKind) String() string {
	switch k {
	case KindWelcome:
		return MessageTypeWelcome
	case KindKeepalive:
		return MessageTypeKeepalive
	case KindNotification:
		return MessageTypeNotification
	case KindReconnect:
		return MessageTypeReconnect
	case KindRevocation:
		return MessageTypeRevocation
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Message is a single EventSub frame: {metadata, payload}.
type Message struct {
	Metadata Metadata `json:"metadata"`
	Payload  Payload  `json:"payload"`
}

// Kind maps the metadata message type onto a MessageKind.
func (m Message) Kind() MessageKind {
	switch m.Metadata.MessageType {
	case MessageTypeWelcome:
		return KindWelcome
	case MessageTypeKeepalive:
		return KindKeepalive
	case MessageTypeNotification:
		return KindNotification
	case MessageTypeReconnect:
		return KindReconnect
	case MessageTypeRevocation:
		return KindRevocation
	default:
		return KindUnknown
	}
}

// Metadata is the envelope common to every frame.
type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

// Payload holds the kind-specific body. Only the fields relevant to the
// message type are populated.
type Payload struct {
	Session      *SessionPayload      `json:"session,omitempty"`
	Subscription *SubscriptionPayload `json:"subscription,omitempty"`
	Event        json.RawMessage      `json:"event,omitempty"`
}

// SessionPayload is sent with session_welcome, session_keepalive and session_reconnect.
type SessionPayload struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	ConnectedAt             time.Time `json:"connected_at"`
	KeepaliveTimeoutSeconds int       `json:"keepalive_timeout_seconds"`
	ReconnectURL            *string   `json:"reconnect_url"`
}

// SubscriptionPayload describes the subscription a notification or revocation belongs to.
type SubscriptionPayload struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Cost      int                   `json:"cost"`
	Condition map[string]any        `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
	CreatedAt time.Time             `json:"created_at"`
}

// SubscriptionTransport is the transport a subscription delivers to.
type SubscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
	Callback  string `json:"callback,omitempty"`
	ConduitID string `json:"conduit_id,omitempty"`
}

// Notification is the {metadata, payload} envelope handed to the handler
// registry. It is not retained by the manager after hand-off.
type Notification struct {
	SubscriptionType string    `json:"-"`
	ReceivedAt       time.Time `json:"-"`
	Metadata         Metadata  `json:"metadata"`
	Payload          Payload   `json:"payload"`
}

// Close codes used by the EventSub WebSocket server.
const (
	CloseNormal              = 1000
	CloseAbnormal            = 1006
	CloseInternalServerError = 4000
	CloseClientSentTraffic   = 4001
	CloseFailedPingPong      = 4002
	CloseConnectionUnused    = 4003
	CloseReconnectGraceOver  = 4004
	CloseNetworkTimeout      = 4005
	CloseNetworkError        = 4006
	CloseInvalidReconnectURL = 4007
)

// CloseReason returns a human readable description of a close code.
func CloseReason(code int) string {
	switch code {
	case CloseInternalServerError:
		return "Internal server error"
	case CloseClientSentTraffic:
		return "Client sent inbound traffic"
	case CloseFailedPingPong:
		return "Client failed ping-pong"
	case CloseConnectionUnused:
		return "Connection unused"
	case CloseReconnectGraceOver:
		return "Reconnect grace time expired"
	case CloseNetworkTimeout:
		return "Network timeout"
	case CloseNetworkError:
		return "Network error"
	case CloseInvalidReconnectURL:
		return "Invalid reconnect URL"
	case CloseNormal:
		return "Normal closure"
	case CloseAbnormal:
		return "Abnormal closure"
	default:
		return "Unknown close code"
	}
}

// RevocationReason returns a human readable description of a revocation status.
func RevocationReason(status string) string {
	switch status {
	case "user_removed":
		return "The user no longer exists"
	case "authorization_revoked":
		return "The authorization token was revoked"
	case "version_removed":
		return "The subscription type/version is no longer supported"
	default:
		return "Unknown reason"
	}
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://eventsub.wss.twitch.tv/ws)
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for control frames
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the session Manager.
type ManagerConfig struct {
	WSURL     string // Primary EventSub WebSocket URL
	ConduitID string // Conduit the session's shard belongs to (empty = no transport updates)
	ShardID   string // Shard bound to this session

	KeepaliveBuffer      time.Duration // Slack added to keepalive_timeout_seconds before a check counts as missed
	MaxMissedKeepalives  int           // Missed checks before the transport is force-closed
	ReconnectBaseWait    time.Duration // Base wait time for reconnection
	ReconnectMaxWait     time.Duration // Max wait time for reconnection (before jitter)
	ReconnectJitter      time.Duration // Upper bound (exclusive) of random jitter added to each delay
	MaxReconnectAttempts int           // Failed attempts before giving up
	ReconnectGrace       time.Duration // Delay between session_reconnect and closing the old transport
	TerminalCloseCodes   []int         // Close codes that never trigger a reconnect
	UpdateTimeout        time.Duration // Timeout for the shard transport update call
	NotificationBuffer   int           // Initial capacity of the notification queue

	Client ClientConfig
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		WSURL:                "wss://eventsub.wss.twitch.tv/ws",
		ShardID:              "0",
		KeepaliveBuffer:      2 * time.Second,
		MaxMissedKeepalives:  10,
		ReconnectBaseWait:    1 * time.Second,
		ReconnectMaxWait:     30 * time.Second,
		ReconnectJitter:      1 * time.Second,
		MaxReconnectAttempts: 10,
		ReconnectGrace:       5 * time.Second,
		TerminalCloseCodes:   []int{CloseClientSentTraffic},
		UpdateTimeout:        30 * time.Second,
		NotificationBuffer:   1000,
		Client:               DefaultClientConfig(),
	}
}

// ManagerStats is a point-in-time view of the session.
type ManagerStats struct {
	State             string `json:"state"`
	SessionID         string `json:"session_id,omitempty"`
	HasReconnectURL   bool   `json:"has_reconnect_url"`
	ReconnectAttempts int    `json:"reconnect_attempts"`
	MissedKeepalives  int    `json:"missed_keepalives"`
	KeepaliveTimeout  int    `json:"keepalive_timeout_seconds"`
	FramesReceived    int64  `json:"frames_received"`
	ParseErrors       int64  `json:"parse_errors"`
	Notifications     int64  `json:"notifications"`
	DroppedFrames     int64  `json:"dropped_frames"`
}
