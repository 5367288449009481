// Package store persists Twitch credentials in PostgreSQL.
//
// The app access token lives in a single-row table and is shared by every
// receiver instance. Channel tokens are the per-broadcaster user grants
// used for subscriptions that need user authorization.
package store
