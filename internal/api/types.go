package api

import (
	"fmt"
	"strings"
	"time"
)

// Transport methods.
const (
	TransportWebSocket = "websocket"
	TransportWebhook   = "webhook"
	TransportConduit   = "conduit"
)

// Shard statuses reported by Helix. Anything other than enabled means the
// shard is not currently delivering.
const (
	ShardEnabled                 = "enabled"
	ShardWebSocketDisconnected   = "websocket_disconnected"
	ShardWebSocketFailedPingPong = "websocket_failed_ping_pong"
)

// Transport describes where a subscription or shard delivers events.
type Transport struct {
	Method         string     `json:"method"`
	Callback       string     `json:"callback,omitempty"`
	Secret         string     `json:"secret,omitempty"`
	SessionID      string     `json:"session_id,omitempty"`
	ConduitID      string     `json:"conduit_id,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
}

// Conduit from GET /eventsub/conduits.
type Conduit struct {
	ID         string  `json:"id"`
	ShardCount int     `json:"shard_count"`
	Shards     []Shard `json:"-"`
}

// Shard from GET /eventsub/conduits/shards.
type Shard struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Transport Transport `json:"transport"`
}

// ConduitsResponse from GET/POST/PATCH /eventsub/conduits.
type ConduitsResponse struct {
	Data []Conduit `json:"data"`
}

// ShardsResponse from GET /eventsub/conduits/shards.
type ShardsResponse struct {
	Data       []Shard    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// ShardUpdate is one entry of a PATCH /eventsub/conduits/shards request.
type ShardUpdate struct {
	ID        string    `json:"id"`
	Transport Transport `json:"transport"`
}

// UpdateShardsRequest is the body of PATCH /eventsub/conduits/shards.
type UpdateShardsRequest struct {
	ConduitID string        `json:"conduit_id"`
	Shards    []ShardUpdate `json:"shards"`
}

// ShardFailure is a per-shard error from PATCH /eventsub/conduits/shards.
type ShardFailure struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// UpdateShardsResponse from PATCH /eventsub/conduits/shards. Helix answers
// 202 even when some shards failed; failures are listed in Errors.
type UpdateShardsResponse struct {
	Data   []Shard        `json:"data"`
	Errors []ShardFailure `json:"errors"`
}

// ShardUpdateError reports shards Helix refused to update.
type ShardUpdateError struct {
	ConduitID string
	Failures  []ShardFailure
}

func (e *ShardUpdateError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("shard %s: %s (%s)", f.ID, f.Message, f.Code))
	}
	return fmt.Sprintf("conduit %s: %s", e.ConduitID, strings.Join(parts, "; "))
}

// Subscription from /eventsub/subscriptions.
type Subscription struct {
	ID        string         `json:"id"`
	Status    string         `json:"status"`
	Type      string         `json:"type"`
	Version   string         `json:"version"`
	Condition map[string]any `json:"condition"`
	CreatedAt time.Time      `json:"created_at"`
	Transport Transport      `json:"transport"`
	Cost      int            `json:"cost"`
}

// CreateSubscriptionRequest is the body of POST /eventsub/subscriptions.
type CreateSubscriptionRequest struct {
	Type      string         `json:"type"`
	Version   string         `json:"version"`
	Condition map[string]any `json:"condition"`
	Transport Transport      `json:"transport"`
}

// SubscriptionsResponse from GET/POST /eventsub/subscriptions.
type SubscriptionsResponse struct {
	Data         []Subscription `json:"data"`
	Total        int            `json:"total"`
	TotalCost    int            `json:"total_cost"`
	MaxTotalCost int            `json:"max_total_cost"`
	Pagination   Pagination     `json:"pagination"`
}

// SubscriptionFilter narrows GET /eventsub/subscriptions. At most one of
// Status, Type and UserID may be set.
type SubscriptionFilter struct {
	Status string
	Type   string
	UserID string
}

// Pagination cursor.
type Pagination struct {
	Cursor string `json:"cursor,omitempty"`
}
