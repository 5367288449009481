// Package auth obtains and refreshes Twitch OAuth access tokens.
//
// App tokens come from the client credentials grant and are cached in the
// store so every receiver instance shares one token. Channel tokens are user
// grants refreshed with their refresh token. Both sources satisfy the Helix
// client's token source contract: Token returns a cached token unless it is
// known to be expired, Refresh always fetches a new one.
package auth
