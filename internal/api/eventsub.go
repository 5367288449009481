package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"
)

// ErrConduitNotFound is returned when a conduit id is unknown to Helix.
var ErrConduitNotFound = errors.New("conduit not found")

// GetConduits lists the conduits owned by the client id.
func (c *Client) GetConduits(ctx context.Context) ([]Conduit, error) {
	var resp ConduitsResponse
	if err := c.get(ctx, "/eventsub/conduits", nil, &resp); err != nil {
		return nil, fmt.Errorf("get conduits: %w", err)
	}
	return resp.Data, nil
}

// CreateConduit creates a conduit with shardCount shards.
func (c *Client) CreateConduit(ctx context.Context, shardCount int) (*Conduit, error) {
	var resp ConduitsResponse
	body := map[string]int{"shard_count": shardCount}
	if err := c.post(ctx, "/eventsub/conduits", body, &resp); err != nil {
		return nil, fmt.Errorf("create conduit: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("create conduit: empty response")
	}
	return &resp.Data[0], nil
}

// UpdateConduitShards resizes a conduit.
func (c *Client) UpdateConduitShards(ctx context.Context, conduitID string, shardCount int) (*Conduit, error) {
	var resp ConduitsResponse
	body := map[string]any{"id": conduitID, "shard_count": shardCount}
	if err := c.patch(ctx, "/eventsub/conduits", body, &resp); err != nil {
		return nil, fmt.Errorf("update conduit %s: %w", conduitID, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("update conduit %s: empty response", conduitID)
	}
	return &resp.Data[0], nil
}

// GetConduitShards returns every shard of a conduit, following pagination.
func (c *Client) GetConduitShards(ctx context.Context, conduitID string) ([]Shard, error) {
	var shards []Shard
	cursor := ""

	for {
		query := url.Values{}
		query.Set("conduit_id", conduitID)
		if cursor != "" {
			query.Set("after", cursor)
		}

		var resp ShardsResponse
		if err := c.get(ctx, "/eventsub/conduits/shards", query, &resp); err != nil {
			return nil, fmt.Errorf("get shards for %s: %w", conduitID, err)
		}

		shards = append(shards, resp.Data...)

		if resp.Pagination.Cursor == "" {
			break
		}
		cursor = resp.Pagination.Cursor
	}

	return shards, nil
}

// GetConduitWithShards fetches a conduit and its shards concurrently.
func (c *Client) GetConduitWithShards(ctx context.Context, conduitID string) (*Conduit, error) {
	var (
		conduits []Conduit
		shards   []Shard
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		conduits, err = c.GetConduits(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		shards, err = c.GetConduitShards(gctx, conduitID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, conduit := range conduits {
		if conduit.ID == conduitID {
			conduit.Shards = shards
			return &conduit, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConduitNotFound, conduitID)
}

// UpdateShards points conduit shards at new transports. Partial failures
// come back as *ShardUpdateError.
func (c *Client) UpdateShards(ctx context.Context, conduitID string, updates []ShardUpdate) ([]Shard, error) {
	var resp UpdateShardsResponse
	body := UpdateShardsRequest{ConduitID: conduitID, Shards: updates}
	if err := c.patch(ctx, "/eventsub/conduits/shards", body, &resp); err != nil {
		return nil, fmt.Errorf("update shards for %s: %w", conduitID, err)
	}
	if len(resp.Errors) > 0 {
		return resp.Data, &ShardUpdateError{ConduitID: conduitID, Failures: resp.Errors}
	}
	return resp.Data, nil
}

// UpdateShardTransport points a single shard at transport.
func (c *Client) UpdateShardTransport(ctx context.Context, conduitID, shardID string, transport Transport) error {
	_, err := c.UpdateShards(ctx, conduitID, []ShardUpdate{{ID: shardID, Transport: transport}})
	return err
}

// CreateSubscription creates an EventSub subscription.
func (c *Client) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	var resp SubscriptionsResponse
	if err := c.post(ctx, "/eventsub/subscriptions", req, &resp); err != nil {
		return nil, fmt.Errorf("create subscription %s: %w", req.Type, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create subscription %s: empty response", req.Type)
	}
	return &resp.Data[0], nil
}

// DeleteSubscription deletes an EventSub subscription.
func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	query := url.Values{}
	query.Set("id", id)
	if err := c.del(ctx, "/eventsub/subscriptions", query); err != nil {
		return fmt.Errorf("delete subscription %s: %w", id, err)
	}
	return nil
}

// GetSubscriptions lists subscriptions matching filter, following pagination.
func (c *Client) GetSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error) {
	var subs []Subscription
	cursor := ""

	for {
		query := url.Values{}
		if filter.Status != "" {
			query.Set("status", filter.Status)
		}
		if filter.Type != "" {
			query.Set("type", filter.Type)
		}
		if filter.UserID != "" {
			query.Set("user_id", filter.UserID)
		}
		if cursor != "" {
			query.Set("after", cursor)
		}

		var resp SubscriptionsResponse
		if err := c.get(ctx, "/eventsub/subscriptions", query, &resp); err != nil {
			return nil, fmt.Errorf("get subscriptions: %w", err)
		}

		subs = append(subs, resp.Data...)

		if resp.Pagination.Cursor == "" {
			break
		}
		cursor = resp.Pagination.Cursor
	}

	return subs, nil
}
