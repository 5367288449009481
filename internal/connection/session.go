package connection

import "time"

// Session is the passive record of the current EventSub session. It is
// owned by the manager's event loop; nothing else mutates it.
type Session struct {
	ID               string
	ReconnectURL     string
	KeepaliveTimeout int // seconds, >= 1 once a welcome was seen
	LastLiveness     time.Time
	MissedLiveness   int
}

// applyWelcome overwrites the session from a session_welcome payload.
// A welcome without a reconnect URL clears any previously known one.
func (s *Session) applyWelcome(p *SessionPayload, now time.Time) {
	s.ID = p.ID
	s.ReconnectURL = ""
	if p.ReconnectURL != nil {
		s.ReconnectURL = *p.ReconnectURL
	}
	if p.KeepaliveTimeoutSeconds > 0 {
		s.KeepaliveTimeout = p.KeepaliveTimeoutSeconds
	}
	s.touch(now)
}

// touch records a liveness signal.
func (s *Session) touch(now time.Time) {
	s.LastLiveness = now
	s.MissedLiveness = 0
}

// hasReconnectURL reports whether a server supplied reconnect address is known.
func (s *Session) hasReconnectURL() bool {
	return s.ReconnectURL != ""
}
