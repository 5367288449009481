package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the subset of pgxpool.Pool needed to apply the schema.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Statements are applied in order and must stay idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS twitch_app_token (
		id           SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		access_token TEXT        NOT NULL,
		expires_in   INTEGER     NOT NULL,
		token_type   TEXT        NOT NULL DEFAULT 'bearer',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS integrations_twitch (
		twitch_user_id   TEXT PRIMARY KEY,
		access_token     TEXT        NOT NULL,
		refresh_token    TEXT        NOT NULL,
		scopes           TEXT[]      NOT NULL DEFAULT '{}',
		token_expires_at TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS eventsub_notifications (
		message_id           UUID PRIMARY KEY,
		subscription_type    TEXT        NOT NULL,
		subscription_version TEXT        NOT NULL,
		broadcaster_id       TEXT,
		session_id           TEXT        NOT NULL,
		message_ts           TIMESTAMPTZ NOT NULL,
		received_at          TIMESTAMPTZ NOT NULL,
		payload              JSONB       NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS eventsub_notifications_type_ts
		ON eventsub_notifications (subscription_type, message_ts)`,
}

// Migrate creates the receiver's tables if they do not exist.
func Migrate(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
