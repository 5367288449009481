package connection

import "time"

// keepaliveMonitor detects a silent transport. The first check runs
// keepalive_timeout + buffer after the welcome; later checks run every
// keepalive_timeout. A check counts as missed when nothing refreshed the
// session's liveness within keepalive_timeout + buffer.
type keepaliveMonitor struct {
	buffer    time.Duration
	maxMissed int
	clock     Clock
	timer     Timer
}

func newKeepaliveMonitor(cfg ManagerConfig, clock Clock) *keepaliveMonitor {
	return &keepaliveMonitor{
		buffer:    cfg.KeepaliveBuffer,
		maxMissed: cfg.MaxMissedKeepalives,
		clock:     clock,
	}
}

// start (re)arms the first check for a freshly welcomed session.
func (k *keepaliveMonitor) start(timeoutSeconds int, fire func()) time.Duration {
	d := seconds(timeoutSeconds) + k.buffer
	k.schedule(d, fire)
	return d
}

// schedule replaces any pending check with one firing after d.
func (k *keepaliveMonitor) schedule(d time.Duration, fire func()) {
	k.stop()
	k.timer = k.clock.AfterFunc(d, fire)
}

// stop cancels the pending check, if any.
func (k *keepaliveMonitor) stop() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
}

// check evaluates liveness at now. It returns true when the missed count
// reached the threshold and the transport must be force-closed; the timer
// chain is not rearmed in that case.
func (k *keepaliveMonitor) check(s *Session, now time.Time) (expired bool) {
	k.timer = nil

	window := seconds(s.KeepaliveTimeout) + k.buffer
	if now.Sub(s.LastLiveness) > window {
		s.MissedLiveness++
		if s.MissedLiveness >= k.maxMissed {
			return true
		}
	}
	return false
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
