// Package api provides the Twitch Helix REST client for EventSub.
//
// Endpoints:
//   - Helix: https://api.twitch.tv/helix
//   - Conduits: /eventsub/conduits, /eventsub/conduits/shards
//   - Subscriptions: /eventsub/subscriptions
//
// Every request carries Client-Id and a bearer token from a TokenSource.
// A 401 refreshes the token and retries; 5xx and 429 back off and retry.
package api
