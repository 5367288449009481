package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultWSURL                = "wss://eventsub.wss.twitch.tv/ws"
	DefaultAPIURL               = "https://api.twitch.tv/helix"
	DefaultAuthURL              = "https://id.twitch.tv/oauth2/token"
	DefaultAPITimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultShardID              = "0"
	DefaultMonitorInterval      = 5 * time.Minute
	DefaultKeepaliveBuffer      = 2 * time.Second
	DefaultMaxMissedKeepalives  = 10
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectJitter      = 1 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultReconnectGrace       = 5 * time.Second
	DefaultNotificationBuffer   = 1000
	DefaultUpdateTimeout        = 30 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultRelayPort            = 8888
	DefaultRelayPath            = "/ws"
	DefaultRelayMaxMessageSize  = 1 << 20
	DefaultRelaySendBuffer      = 256
	DefaultMetricsPort          = 9090
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
)

// DefaultTerminalCloseCodes are the close codes that never trigger a
// reconnect: 4001 (client sent inbound traffic) is a client bug.
var DefaultTerminalCloseCodes = []int{4001}

func (c *ReceiverConfig) applyDefaults() {
	// Twitch defaults
	if c.Twitch.WSURL == "" {
		c.Twitch.WSURL = DefaultWSURL
	}
	if c.Twitch.APIURL == "" {
		c.Twitch.APIURL = DefaultAPIURL
	}
	if c.Twitch.AuthURL == "" {
		c.Twitch.AuthURL = DefaultAuthURL
	}
	if c.Twitch.Timeout == 0 {
		c.Twitch.Timeout = DefaultAPITimeout
	}
	if c.Twitch.MaxRetries == 0 {
		c.Twitch.MaxRetries = DefaultMaxRetries
	}

	// Conduit defaults
	if c.Conduit.ShardID == "" {
		c.Conduit.ShardID = DefaultShardID
	}
	if c.Conduit.MonitorInterval == 0 {
		c.Conduit.MonitorInterval = DefaultMonitorInterval
	}

	// Session defaults
	if c.Session.KeepaliveBuffer == 0 {
		c.Session.KeepaliveBuffer = DefaultKeepaliveBuffer
	}
	if c.Session.MaxMissedKeepalives == 0 {
		c.Session.MaxMissedKeepalives = DefaultMaxMissedKeepalives
	}
	if c.Session.ReconnectBaseDelay == 0 {
		c.Session.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Session.ReconnectMaxDelay == 0 {
		c.Session.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Session.ReconnectJitter == 0 {
		c.Session.ReconnectJitter = DefaultReconnectJitter
	}
	if c.Session.MaxReconnectAttempts == 0 {
		c.Session.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Session.ReconnectGrace == 0 {
		c.Session.ReconnectGrace = DefaultReconnectGrace
	}
	if c.Session.TerminalCloseCodes == nil {
		c.Session.TerminalCloseCodes = append([]int(nil), DefaultTerminalCloseCodes...)
	}
	if c.Session.NotificationBuffer == 0 {
		c.Session.NotificationBuffer = DefaultNotificationBuffer
	}
	if c.Session.UpdateTimeout == 0 {
		c.Session.UpdateTimeout = DefaultUpdateTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Relay defaults
	if c.Relay.Port == 0 {
		c.Relay.Port = DefaultRelayPort
	}
	if c.Relay.Path == "" {
		c.Relay.Path = DefaultRelayPath
	}
	if c.Relay.MaxMessageSize == 0 {
		c.Relay.MaxMessageSize = DefaultRelayMaxMessageSize
	}
	if c.Relay.SendBuffer == 0 {
		c.Relay.SendBuffer = DefaultRelaySendBuffer
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
