package config

import "time"

// ReceiverConfig is the root configuration for a receiver instance.
type ReceiverConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Twitch   TwitchConfig   `yaml:"twitch"`
	Conduit  ConduitConfig  `yaml:"conduit"`
	Session  SessionConfig  `yaml:"session"`
	Database DBConfig       `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Relay    RelayConfig    `yaml:"relay"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this receiver.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// TwitchConfig holds Twitch application credentials and endpoints.
type TwitchConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	WSURL        string        `yaml:"ws_url"`
	APIURL       string        `yaml:"api_url"`
	AuthURL      string        `yaml:"auth_url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
}

// ConduitConfig names the conduit shard this receiver serves.
type ConduitConfig struct {
	ID              string        `yaml:"id"`
	ShardID         string        `yaml:"shard_id"`
	MonitorInterval time.Duration `yaml:"monitor_interval"` // negative disables the shard monitor
}

// SessionConfig holds WebSocket session lifecycle settings.
type SessionConfig struct {
	KeepaliveBuffer      time.Duration `yaml:"keepalive_buffer"`
	MaxMissedKeepalives  int           `yaml:"max_missed_keepalives"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter      time.Duration `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectGrace       time.Duration `yaml:"reconnect_grace"`
	TerminalCloseCodes   []int         `yaml:"terminal_close_codes"`
	NotificationBuffer   int           `yaml:"notification_buffer"`
	UpdateTimeout        time.Duration `yaml:"update_timeout"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds notification batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RelayConfig holds the local WebSocket relay settings.
type RelayConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
	MaxMessageSize int64  `yaml:"max_message_size"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// MetricsConfig holds the health, debug and Prometheus server settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}
