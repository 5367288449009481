package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: receiver-1
twitch:
  client_id: abc
  client_secret: shh
  ws_url: wss://eventsub.wss.twitch.tv/ws
conduit:
  id: 6f5a7b2c
  shard_id: "3"
session:
  reconnect_max_delay: 1m
  terminal_close_codes: [4001, 4002]
database:
  host: localhost
  port: 5432
  name: eventsub
  user: receiver
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "receiver-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "receiver-1")
	}
	if cfg.Twitch.ClientID != "abc" {
		t.Errorf("Twitch.ClientID = %q, want %q", cfg.Twitch.ClientID, "abc")
	}
	if cfg.Conduit.ShardID != "3" {
		t.Errorf("Conduit.ShardID = %q, want %q", cfg.Conduit.ShardID, "3")
	}
	if cfg.Session.ReconnectMaxDelay != time.Minute {
		t.Errorf("Session.ReconnectMaxDelay = %v, want %v", cfg.Session.ReconnectMaxDelay, time.Minute)
	}
	if !reflect.DeepEqual(cfg.Session.TerminalCloseCodes, []int{4001, 4002}) {
		t.Errorf("Session.TerminalCloseCodes = %v, want [4001 4002]", cfg.Session.TerminalCloseCodes)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_CLIENT_SECRET", "secret123")
	t.Setenv("TEST_DB_PASSWORD", "dbpass")

	yaml := `
instance:
  id: receiver-1
twitch:
  client_id: abc
  client_secret: ${TEST_CLIENT_SECRET}
database:
  host: localhost
  name: eventsub
  user: receiver
  password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Twitch.ClientSecret != "secret123" {
		t.Errorf("Twitch.ClientSecret = %q, want %q", cfg.Twitch.ClientSecret, "secret123")
	}
	if cfg.Database.Password != "dbpass" {
		t.Errorf("Database.Password = %q, want %q", cfg.Database.Password, "dbpass")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("Load of missing file should fail")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempFile(t, "instance: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("Load of invalid yaml should fail")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: receiver-1
conduit:
  id: c1
database:
  host: localhost
  name: eventsub
  user: receiver
  password: pass
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Twitch.WSURL != DefaultWSURL {
		t.Errorf("Twitch.WSURL = %q, want %q", cfg.Twitch.WSURL, DefaultWSURL)
	}
	if cfg.Twitch.APIURL != DefaultAPIURL {
		t.Errorf("Twitch.APIURL = %q, want %q", cfg.Twitch.APIURL, DefaultAPIURL)
	}
	if cfg.Conduit.ShardID != DefaultShardID {
		t.Errorf("Conduit.ShardID = %q, want %q", cfg.Conduit.ShardID, DefaultShardID)
	}
	if cfg.Conduit.MonitorInterval != DefaultMonitorInterval {
		t.Errorf("Conduit.MonitorInterval = %v, want %v", cfg.Conduit.MonitorInterval, DefaultMonitorInterval)
	}
	if cfg.Session.KeepaliveBuffer != DefaultKeepaliveBuffer {
		t.Errorf("Session.KeepaliveBuffer = %v, want %v", cfg.Session.KeepaliveBuffer, DefaultKeepaliveBuffer)
	}
	if cfg.Session.MaxMissedKeepalives != DefaultMaxMissedKeepalives {
		t.Errorf("Session.MaxMissedKeepalives = %d, want %d", cfg.Session.MaxMissedKeepalives, DefaultMaxMissedKeepalives)
	}
	if cfg.Session.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("Session.MaxReconnectAttempts = %d, want %d", cfg.Session.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Session.ReconnectGrace != DefaultReconnectGrace {
		t.Errorf("Session.ReconnectGrace = %v, want %v", cfg.Session.ReconnectGrace, DefaultReconnectGrace)
	}
	if !reflect.DeepEqual(cfg.Session.TerminalCloseCodes, []int{4001}) {
		t.Errorf("Session.TerminalCloseCodes = %v, want [4001]", cfg.Session.TerminalCloseCodes)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.SSLMode != DefaultDBSSLMode {
		t.Errorf("Database.SSLMode = %q, want %q", cfg.Database.SSLMode, DefaultDBSSLMode)
	}
	if cfg.Writer.BatchSize != DefaultBatchSize {
		t.Errorf("Writer.BatchSize = %d, want %d", cfg.Writer.BatchSize, DefaultBatchSize)
	}
	if cfg.Relay.Path != DefaultRelayPath {
		t.Errorf("Relay.Path = %q, want %q", cfg.Relay.Path, DefaultRelayPath)
	}
	if cfg.Metrics.Port != DefaultMetricsPort {
		t.Errorf("Metrics.Port = %d, want %d", cfg.Metrics.Port, DefaultMetricsPort)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, DefaultLogLevel)
	}
}

func TestDefaultsDoNotAliasTerminalCodes(t *testing.T) {
	var cfg ReceiverConfig
	cfg.applyDefaults()
	cfg.Session.TerminalCloseCodes[0] = 4999

	if DefaultTerminalCloseCodes[0] != 4001 {
		t.Fatalf("DefaultTerminalCloseCodes mutated to %v", DefaultTerminalCloseCodes)
	}
}

func TestNegativeMonitorIntervalKept(t *testing.T) {
	cfg := ReceiverConfig{Conduit: ConduitConfig{MonitorInterval: -1}}
	cfg.applyDefaults()
	if cfg.Conduit.MonitorInterval != -1 {
		t.Errorf("MonitorInterval = %v, want -1ns (disabled)", cfg.Conduit.MonitorInterval)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, `
instance:
  id: receiver-1
`)
	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("LoadAndValidate should reject config without credentials")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ReceiverConfig)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *ReceiverConfig) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *ReceiverConfig) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing client secret",
			mutate:  func(c *ReceiverConfig) { c.Twitch.ClientSecret = "" },
			wantErr: "twitch.client_secret is required",
		},
		{
			name:    "non websocket url",
			mutate:  func(c *ReceiverConfig) { c.Twitch.WSURL = "https://eventsub.wss.twitch.tv/ws" },
			wantErr: `twitch.ws_url must be a ws:// or wss:// url, got "https://eventsub.wss.twitch.tv/ws"`,
		},
		{
			name:    "missing conduit id",
			mutate:  func(c *ReceiverConfig) { c.Conduit.ID = "" },
			wantErr: "conduit.id is required",
		},
		{
			name:    "max reconnect attempts below one",
			mutate:  func(c *ReceiverConfig) { c.Session.MaxReconnectAttempts = 0 },
			wantErr: "session.max_reconnect_attempts must be >= 1",
		},
		{
			name: "max delay below base delay",
			mutate: func(c *ReceiverConfig) {
				c.Session.ReconnectBaseDelay = 10 * time.Second
				c.Session.ReconnectMaxDelay = 5 * time.Second
			},
			wantErr: "session.reconnect_max_delay (5s) cannot be less than reconnect_base_delay (10s)",
		},
		{
			name:    "terminal code out of range",
			mutate:  func(c *ReceiverConfig) { c.Session.TerminalCloseCodes = []int{42} },
			wantErr: "session.terminal_close_codes: 42 is not a websocket close code",
		},
		{
			name:    "missing database password",
			mutate:  func(c *ReceiverConfig) { c.Database.Password = "" },
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *ReceiverConfig) {
				c.Database.MaxConns = 5
				c.Database.MinConns = 10
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "relay path without slash",
			mutate: func(c *ReceiverConfig) {
				c.Relay.Enabled = true
				c.Relay.Path = "ws"
			},
			wantErr: `relay.path must start with /, got "ws"`,
		},
		{
			name:    "metrics port out of range",
			mutate:  func(c *ReceiverConfig) { c.Metrics.Port = 70000 },
			wantErr: "metrics.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *ReceiverConfig) { c.Logging.Level = "trace" },
			wantErr: `logging.level must be one of debug, info, warn, error, got "trace"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func validConfig() *ReceiverConfig {
	cfg := &ReceiverConfig{
		Instance: InstanceConfig{ID: "test"},
		Twitch:   TwitchConfig{ClientID: "id", ClientSecret: "secret"},
		Conduit:  ConduitConfig{ID: "conduit"},
		Database: DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass"},
	}
	cfg.applyDefaults()
	return cfg
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
