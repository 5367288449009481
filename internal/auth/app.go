package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/eventsub-receiver/internal/store"
)

// AppTokenStore persists the app token.
type AppTokenStore interface {
	AppToken(ctx context.Context) (store.AppToken, error)
	SaveAppToken(ctx context.Context, t store.AppToken) error
}

// AppTokenSource hands out the app access token, fetching a new one with the
// client credentials grant when the cached token is missing or expired.
type AppTokenSource struct {
	oauth  *OAuthClient
	store  AppTokenStore // optional
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *store.AppToken

	group singleflight.Group
}

// NewAppTokenSource creates an app token source. A nil st keeps the token in
// memory only.
func NewAppTokenSource(oauth *OAuthClient, st AppTokenStore, logger *slog.Logger) *AppTokenSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppTokenSource{
		oauth:  oauth,
		store:  st,
		logger: logger.With("component", "app_token"),
		now:    time.Now,
	}
}

// Token returns a valid app token.
func (s *AppTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.cached != nil && !s.cached.Expired(s.now()) {
		tok := s.cached.AccessToken
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		if tok, ok := s.loadStored(ctx); ok {
			return tok, nil
		}
		return s.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Refresh discards the cached token and fetches a new one.
func (s *AppTokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *AppTokenSource) loadStored(ctx context.Context) (string, bool) {
	if s.store == nil {
		return "", false
	}
	t, err := s.store.AppToken(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("load stored app token failed", "error", err)
		}
		return "", false
	}
	if t.Expired(s.now()) {
		s.logger.Info("stored app token expired", "expired_at", t.ExpiresAt())
		return "", false
	}
	s.mu.Lock()
	s.cached = &t
	s.mu.Unlock()
	return t.AccessToken, true
}

func (s *AppTokenSource) fetch(ctx context.Context) (string, error) {
	resp, err := s.oauth.ClientCredentials(ctx)
	if err != nil {
		return "", err
	}

	t := store.AppToken{
		AccessToken: resp.AccessToken,
		ExpiresIn:   resp.ExpiresIn,
		TokenType:   resp.TokenType,
		UpdatedAt:   s.now(),
	}

	s.mu.Lock()
	s.cached = &t
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SaveAppToken(ctx, t); err != nil {
			// The token is usable even if persisting it failed.
			s.logger.Warn("save app token failed", "error", err)
		}
	}

	s.logger.Info("app token refreshed", "expires_at", t.ExpiresAt())
	return t.AccessToken, nil
}
