package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/store"
)

// ChannelTokenStore persists broadcaster grants.
type ChannelTokenStore interface {
	ChannelToken(ctx context.Context, broadcasterID string) (store.ChannelToken, error)
	SaveChannelToken(ctx context.Context, t store.ChannelToken) error
}

// ChannelTokenSource hands out one broadcaster's user access token.
type ChannelTokenSource struct {
	oauth         *OAuthClient
	store         ChannelTokenStore
	broadcasterID string
	logger        *slog.Logger
	now           func() time.Time

	mu sync.Mutex
}

// NewChannelTokenSource creates a token source for broadcasterID.
func NewChannelTokenSource(oauth *OAuthClient, st ChannelTokenStore, broadcasterID string, logger *slog.Logger) *ChannelTokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelTokenSource{
		oauth:         oauth,
		store:         st,
		broadcasterID: broadcasterID,
		logger:        logger.With("component", "channel_token", "broadcaster_id", broadcasterID),
		now:           time.Now,
	}
}

// Token returns the stored token, refreshing it first when expired.
func (s *ChannelTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.ChannelToken(ctx, s.broadcasterID)
	if err != nil {
		return "", fmt.Errorf("load channel token: %w", err)
	}
	if !t.Expired(s.now()) {
		return t.AccessToken, nil
	}
	return s.refresh(ctx, t)
}

// Refresh exchanges the stored refresh token for a new access token.
func (s *ChannelTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.store.ChannelToken(ctx, s.broadcasterID)
	if err != nil {
		return "", fmt.Errorf("load channel token: %w", err)
	}
	return s.refresh(ctx, t)
}

func (s *ChannelTokenSource) refresh(ctx context.Context, t store.ChannelToken) (string, error) {
	resp, err := s.oauth.RefreshToken(ctx, t.RefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh channel token: %w", err)
	}

	now := s.now()
	t.AccessToken = resp.AccessToken
	if resp.RefreshToken != "" {
		t.RefreshToken = resp.RefreshToken
	}
	if resp.Scope != nil {
		t.Scopes = resp.Scope
	}
	t.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	t.UpdatedAt = now

	if err := s.store.SaveChannelToken(ctx, t); err != nil {
		// Twitch may have rotated the refresh token; losing it means the
		// broadcaster must re-authorize.
		s.logger.Error("save refreshed channel token failed", "error", err)
		return t.AccessToken, nil
	}

	s.logger.Info("channel token refreshed", "expires_at", t.ExpiresAt)
	return t.AccessToken, nil
}
