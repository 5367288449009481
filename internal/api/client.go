package api

import (
	"log/slog"
	"net/http"
	"time"
)

// Client provides access to the Twitch Helix REST API.
type Client struct {
	baseURL    string
	clientID   string
	tokens     TokenSource
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries     int
	retryBackoff   time.Duration
	maxAuthRetries int
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new Helix client. tokens supplies the bearer token
// sent with every request.
func NewClient(baseURL, clientID string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		clientID: clientID,
		tokens:   tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:         slog.Default(),
		maxRetries:     3,
		retryBackoff:   time.Second,
		maxAuthRetries: 2,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration for 5xx and 429 responses.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithAuthRetries sets how many times a 401 triggers a token refresh.
func WithAuthRetries(max int) ClientOption {
	return func(c *Client) {
		c.maxAuthRetries = max
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}
