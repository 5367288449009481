package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when no credential row exists.
var ErrNotFound = errors.New("credential not found")

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AppToken is the cached app access token.
type AppToken struct {
	AccessToken string
	ExpiresIn   int // seconds, counted from UpdatedAt
	TokenType   string
	UpdatedAt   time.Time
}

// ExpiresAt returns when the token stops being valid.
func (t AppToken) ExpiresAt() time.Time {
	return t.UpdatedAt.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Expired reports whether the token is past its lifetime at now.
func (t AppToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt())
}

// ChannelToken is a broadcaster's user access grant.
type ChannelToken struct {
	BroadcasterID string
	AccessToken   string
	RefreshToken  string
	Scopes        []string
	ExpiresAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the token is past its lifetime at now.
func (t ChannelToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Store reads and writes credentials.
type Store struct {
	db DB
}

// New creates a Store over db.
func New(db DB) *Store {
	return &Store{db: db}
}

// AppToken loads the cached app token.
func (s *Store) AppToken(ctx context.Context) (AppToken, error) {
	var t AppToken
	err := s.db.QueryRow(ctx, `
		SELECT access_token, expires_in, token_type, updated_at
		FROM twitch_app_token
		WHERE id = 1
	`).Scan(&t.AccessToken, &t.ExpiresIn, &t.TokenType, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return AppToken{}, ErrNotFound
	}
	if err != nil {
		return AppToken{}, fmt.Errorf("query app token: %w", err)
	}
	return t, nil
}

// SaveAppToken replaces the cached app token.
func (s *Store) SaveAppToken(ctx context.Context, t AppToken) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO twitch_app_token (id, access_token, expires_in, token_type, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			expires_in   = EXCLUDED.expires_in,
			token_type   = EXCLUDED.token_type,
			updated_at   = EXCLUDED.updated_at
	`, t.AccessToken, t.ExpiresIn, t.TokenType, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save app token: %w", err)
	}
	return nil
}

// ChannelToken loads the grant for a broadcaster.
func (s *Store) ChannelToken(ctx context.Context, broadcasterID string) (ChannelToken, error) {
	t := ChannelToken{BroadcasterID: broadcasterID}
	err := s.db.QueryRow(ctx, `
		SELECT access_token, refresh_token, scopes, token_expires_at, updated_at
		FROM integrations_twitch
		WHERE twitch_user_id = $1
	`, broadcasterID).Scan(&t.AccessToken, &t.RefreshToken, &t.Scopes, &t.ExpiresAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ChannelToken{}, ErrNotFound
	}
	if err != nil {
		return ChannelToken{}, fmt.Errorf("query channel token %s: %w", broadcasterID, err)
	}
	return t, nil
}

// SaveChannelToken upserts a broadcaster's grant.
func (s *Store) SaveChannelToken(ctx context.Context, t ChannelToken) error {
	if t.BroadcasterID == "" {
		return errors.New("save channel token: broadcaster id is required")
	}
	scopes := t.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO integrations_twitch (twitch_user_id, access_token, refresh_token, scopes, token_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (twitch_user_id) DO UPDATE SET
			access_token     = EXCLUDED.access_token,
			refresh_token    = EXCLUDED.refresh_token,
			scopes           = EXCLUDED.scopes,
			token_expires_at = EXCLUDED.token_expires_at,
			updated_at       = EXCLUDED.updated_at
	`, t.BroadcasterID, t.AccessToken, t.RefreshToken, scopes, t.ExpiresAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save channel token %s: %w", t.BroadcasterID, err)
	}
	return nil
}
