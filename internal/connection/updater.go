package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/api"
	"github.com/rickgao/eventsub-receiver/internal/metrics"
)

// ShardTransportUpdater points a conduit shard at a transport.
// *api.Client satisfies it.
type ShardTransportUpdater interface {
	UpdateShardTransport(ctx context.Context, conduitID, shardID string, transport api.Transport) error
}

// Binder binds a freshly welcomed session to whatever routes events to it.
type Binder interface {
	Bind(ctx context.Context, sessionID string) error
}

// TransportUpdater binds sessions to a single conduit shard.
type TransportUpdater struct {
	api       ShardTransportUpdater
	conduitID string
	shardID   string
	timeout   time.Duration
	logger    *slog.Logger

	// Serializes updates so a late response never overwrites a newer binding.
	mu sync.Mutex

	stateMu   sync.RWMutex
	bound     string
	boundAt   time.Time
	lastError error
}

// BindingStatus is the last known shard binding.
type BindingStatus struct {
	ConduitID string    `json:"conduit_id"`
	ShardID   string    `json:"shard_id"`
	SessionID string    `json:"session_id,omitempty"`
	BoundAt   time.Time `json:"bound_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// NewTransportUpdater creates an updater for cfg.ConduitID / cfg.ShardID.
func NewTransportUpdater(client ShardTransportUpdater, cfg ManagerConfig, logger *slog.Logger) *TransportUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransportUpdater{
		api:       client,
		conduitID: cfg.ConduitID,
		shardID:   cfg.ShardID,
		timeout:   cfg.UpdateTimeout,
		logger:    logger.With("conduit_id", cfg.ConduitID, "shard_id", cfg.ShardID),
	}
}

// Bind points the shard at the WebSocket session. Failures are logged and
// returned; they never affect the session lifecycle.
func (u *TransportUpdater) Bind(ctx context.Context, sessionID string) error {
	if u.conduitID == "" {
		return nil
	}
	if sessionID == "" {
		return errors.New("session id is required")
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	start := time.Now()
	err := u.api.UpdateShardTransport(ctx, u.conduitID, u.shardID, api.Transport{
		Method:    api.TransportWebSocket,
		SessionID: sessionID,
	})
	metrics.RecordShardUpdate(err, time.Since(start))

	u.stateMu.Lock()
	u.lastError = err
	if err == nil {
		u.bound = sessionID
		u.boundAt = time.Now()
	}
	u.stateMu.Unlock()

	if err != nil {
		u.logger.Error("failed to update shard transport", "session_id", sessionID, "error", err)
		return fmt.Errorf("update shard transport: %w", err)
	}

	u.logger.Info("shard transport updated", "session_id", sessionID, "duration", time.Since(start))
	return nil
}

// Status returns the last known binding.
func (u *TransportUpdater) Status() BindingStatus {
	u.stateMu.RLock()
	defer u.stateMu.RUnlock()

	s := BindingStatus{
		ConduitID: u.conduitID,
		ShardID:   u.shardID,
		SessionID: u.bound,
		BoundAt:   u.boundAt,
	}
	if u.lastError != nil {
		s.LastError = u.lastError.Error()
	}
	return s
}
