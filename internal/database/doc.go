// Package database provides the receiver's PostgreSQL pool and schema.
//
// One database holds:
//   - twitch_app_token: the cached app access token (single row)
//   - integrations_twitch: per-broadcaster user credentials
//   - eventsub_notifications: delivered notifications, keyed by message id
package database
