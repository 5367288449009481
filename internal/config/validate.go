package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *ReceiverConfig) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Twitch.ClientID == "" {
		return errors.New("twitch.client_id is required")
	}
	if c.Twitch.ClientSecret == "" {
		return errors.New("twitch.client_secret is required")
	}
	if !strings.HasPrefix(c.Twitch.WSURL, "ws://") && !strings.HasPrefix(c.Twitch.WSURL, "wss://") {
		return fmt.Errorf("twitch.ws_url must be a ws:// or wss:// url, got %q", c.Twitch.WSURL)
	}

	if c.Conduit.ID == "" {
		return errors.New("conduit.id is required")
	}

	if err := c.Session.validate(); err != nil {
		return err
	}

	if err := c.Database.validate("database"); err != nil {
		return err
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	if c.Relay.Enabled {
		if err := validatePort("relay.port", c.Relay.Port); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Relay.Path, "/") {
			return fmt.Errorf("relay.path must start with /, got %q", c.Relay.Path)
		}
	}

	if err := validatePort("metrics.port", c.Metrics.Port); err != nil {
		return err
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}

	return nil
}

func (s *SessionConfig) validate() error {
	if s.MaxReconnectAttempts < 1 {
		return errors.New("session.max_reconnect_attempts must be >= 1")
	}
	if s.ReconnectBaseDelay <= 0 {
		return errors.New("session.reconnect_base_delay must be > 0")
	}
	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		return fmt.Errorf("session.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			s.ReconnectMaxDelay, s.ReconnectBaseDelay)
	}
	if s.ReconnectJitter < 0 {
		return errors.New("session.reconnect_jitter must be >= 0")
	}
	if s.MaxMissedKeepalives < 1 {
		return errors.New("session.max_missed_keepalives must be >= 1")
	}
	if s.KeepaliveBuffer < 0 {
		return errors.New("session.keepalive_buffer must be >= 0")
	}
	for _, code := range s.TerminalCloseCodes {
		if code < 1000 || code > 4999 {
			return fmt.Errorf("session.terminal_close_codes: %d is not a websocket close code", code)
		}
	}
	if s.NotificationBuffer < 1 {
		return errors.New("session.notification_buffer must be >= 1")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validatePort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", field, port)
	}
	return nil
}
