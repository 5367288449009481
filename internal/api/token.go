package api

import "context"

// TokenSource supplies OAuth bearer tokens.
type TokenSource interface {
	// Token returns a token, refreshing it first if it is known to be expired.
	Token(ctx context.Context) (string, error)

	// Refresh discards the current token and obtains a new one. Called
	// after Helix rejects a token with 401.
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never refreshes.
type StaticToken string

// Token returns the token.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// Refresh returns the same token; a rejected static token stays rejected.
func (s StaticToken) Refresh(context.Context) (string, error) { return string(s), nil }
