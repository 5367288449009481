package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/version"
)

// OAuthClient calls the Twitch token endpoint.
type OAuthClient struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger
}

// OAuthOption configures an OAuthClient.
type OAuthOption func(*OAuthClient)

// WithHTTPClient sets the HTTP client used for token requests.
func WithHTTPClient(hc *http.Client) OAuthOption {
	return func(c *OAuthClient) {
		c.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) OAuthOption {
	return func(c *OAuthClient) {
		c.logger = logger
	}
}

// NewOAuthClient creates a client for the token endpoint at tokenURL.
func NewOAuthClient(tokenURL, clientID, clientSecret string, opts ...OAuthOption) *OAuthClient {
	c := &OAuthClient{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token,omitempty"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope,omitempty"`
	TokenType    string   `json:"token_type"`
}

// OAuthError is a non-2xx response from the token endpoint.
type OAuthError struct {
	StatusCode int
	Message    string
}

func (e *OAuthError) Error() string {
	return fmt.Sprintf("oauth error %d: %s", e.StatusCode, e.Message)
}

// ClientCredentials requests an app access token.
func (c *OAuthClient) ClientCredentials(ctx context.Context) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "client_credentials")
	return c.post(ctx, form)
}

// RefreshToken exchanges a refresh token for a new user access token.
func (c *OAuthClient) RefreshToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.post(ctx, form)
}

func (c *OAuthClient) post(ctx context.Context, form url.Values) (*TokenResponse, error) {
	grant := form.Get("grant_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", grant, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		oerr := &OAuthError{StatusCode: resp.StatusCode, Message: string(body)}
		var payload struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
			oerr.Message = payload.Message
		}
		c.logger.Warn("token request rejected", "grant_type", grant, "status", resp.StatusCode, "message", oerr.Message)
		return nil, oerr
	}

	var tok TokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%s: response has no access_token", grant)
	}

	c.logger.Debug("token issued", "grant_type", grant, "expires_in", tok.ExpiresIn)
	return &tok, nil
}
