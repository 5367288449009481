package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/api"
	"github.com/rickgao/eventsub-receiver/internal/connection"
)

// ShardLister reads a conduit's shards.
type ShardLister interface {
	GetConduitShards(ctx context.Context, conduitID string) ([]api.Shard, error)
}

// SessionSource reports the live session.
type SessionSource interface {
	State() connection.State
	SessionID() string
}

// Config holds shard monitor configuration.
type Config struct {
	ConduitID string
	ShardID   string
	Interval  time.Duration // Check interval (default: 5m)
	Timeout   time.Duration // Per-check timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ShardID:  "0",
		Interval: 5 * time.Minute,
		Timeout:  30 * time.Second,
	}
}

// Stats counts monitor outcomes.
type Stats struct {
	Checks  int64 `json:"checks"`
	Skipped int64 `json:"skipped"`
	Rebinds int64 `json:"rebinds"`
	Errors  int64 `json:"errors"`
}

// Poller periodically verifies the conduit shard points at this session.
type Poller struct {
	cfg     Config
	shards  ShardLister
	session SessionSource
	binder  connection.Binder
	logger  *slog.Logger

	checks, skipped, rebinds, errors atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, shards ShardLister, session SessionSource, binder connection.Binder, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Poller{
		cfg:     cfg,
		shards:  shards,
		session: session,
		binder:  binder,
		logger:  logger.With("component", "shard_monitor", "conduit_id", cfg.ConduitID, "shard_id", cfg.ShardID),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("shard monitor started", "interval", p.cfg.Interval)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("shard monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Checks:  p.checks.Load(),
		Skipped: p.skipped.Load(),
		Rebinds: p.rebinds.Load(),
		Errors:  p.errors.Load(),
	}
}

// run is the main polling loop. The first check waits one interval: the
// manager binds on every welcome, so an immediate check would only race it.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.Check(p.ctx)
		}
	}
}

// Check compares the shard's reported transport with the live session and
// re-binds on mismatch. It returns true if a re-bind was attempted.
func (p *Poller) Check(ctx context.Context) bool {
	sessionID := p.session.SessionID()
	if p.session.State() != connection.StateConnected || sessionID == "" {
		p.skipped.Add(1)
		p.logger.Debug("shard check skipped, no live session")
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	p.checks.Add(1)
	shards, err := p.shards.GetConduitShards(ctx, p.cfg.ConduitID)
	if err != nil {
		p.errors.Add(1)
		p.logger.Warn("failed to read conduit shards", "error", err)
		return false
	}

	reason := p.mismatch(shards, sessionID)
	if reason == "" {
		p.logger.Debug("shard bound to session", "session_id", sessionID)
		return false
	}

	// The shard read can take a while; the manager may have moved on to a
	// new session (and bound it) in the meantime.
	if p.session.State() != connection.StateConnected || p.session.SessionID() != sessionID {
		p.skipped.Add(1)
		p.logger.Debug("session changed during shard check, skipping rebind", "session_id", sessionID)
		return false
	}

	p.logger.Warn("shard not bound to session, rebinding",
		"reason", reason,
		"session_id", sessionID,
	)
	p.rebinds.Add(1)
	if err := p.binder.Bind(ctx, sessionID); err != nil {
		p.errors.Add(1)
		p.logger.Error("shard rebind failed", "error", err)
	}
	return true
}

func (p *Poller) mismatch(shards []api.Shard, sessionID string) string {
	for _, s := range shards {
		if s.ID != p.cfg.ShardID {
			continue
		}
		switch {
		case s.Status != api.ShardEnabled:
			return "status " + s.Status
		case s.Transport.SessionID != sessionID:
			return "bound to another session"
		default:
			return ""
		}
	}
	return "shard missing"
}
