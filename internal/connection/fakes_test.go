package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock fires timers only when a test advances it.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	delays []time.Duration
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	f     func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// pending returns the armed timers ordered by deadline.
func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.done {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	return out
}

func (c *fakeClock) scheduled() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// fireNext waits for an armed timer, moves the clock to its deadline and
// runs it. It returns the elapsed time since the clock was created.
func (c *fakeClock) fireNext(t *testing.T) time.Time {
	t.Helper()

	var next *fakeTimer
	waitFor(t, "an armed timer", func() bool {
		p := c.pending()
		if len(p) == 0 {
			return false
		}
		next = p[0]
		return true
	})

	c.mu.Lock()
	if next.done {
		c.mu.Unlock()
		t.Fatal("timer was stopped before it could fire")
	}
	next.done = true
	if next.at.After(c.now) {
		c.now = next.at
	}
	now := c.now
	c.mu.Unlock()

	next.f()
	return now
}

// fakeClient is an in-memory transport driven by the test.
type fakeClient struct {
	url        string
	connectErr error

	messages chan TimestampedMessage
	errs     chan error

	mu        sync.Mutex
	connected bool
	closed    bool
	closeCode int
}

func (c *fakeClient) Connect(ctx context.Context) error {
	if c.connectErr != nil {
		return c.connectErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrAlreadyClosed
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Close() error { return c.CloseWithCode(CloseNormal, "") }

func (c *fakeClient) CloseWithCode(code int, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.connected = false
		c.closeCode = code
	}
	return nil
}

func (c *fakeClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *fakeClient) Errors() <-chan error                { return c.errs }
func (c *fakeClient) URL() string                         { return c.url }

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// send delivers a frame as if the server wrote it.
func (c *fakeClient) send(t *testing.T, frame any) {
	t.Helper()
	var data []byte
	switch f := frame.(type) {
	case string:
		data = []byte(f)
	default:
		var err error
		if data, err = json.Marshal(f); err != nil {
			t.Fatalf("marshal frame: %v", err)
		}
	}
	c.messages <- TimestampedMessage{Data: data, ReceivedAt: time.Now()}
}

// serverClose ends the read loop with a close frame carrying code.
func (c *fakeClient) serverClose(code int) {
	c.errs <- &websocket.CloseError{Code: code}
}

// fakeNet hands out fakeClients and records every dial.
type fakeNet struct {
	mu      sync.Mutex
	clients []*fakeClient
	fail    func(n int, url string) error
}

func (n *fakeNet) factory(cfg ClientConfig, _ *slog.Logger) Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := &fakeClient{
		url:      cfg.URL,
		messages: make(chan TimestampedMessage, 16),
		errs:     make(chan error, 1),
	}
	if n.fail != nil {
		c.connectErr = n.fail(len(n.clients), cfg.URL)
	}
	n.clients = append(n.clients, c)
	return c
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

func (n *fakeNet) client(i int) *fakeClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[i]
}

func (n *fakeNet) last() *fakeClient {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.clients[len(n.clients)-1]
}

var errDialRefused = errors.New("connection refused")

// fakeBinder records bound session ids.
type fakeBinder struct {
	err   error
	bound chan string
}

func newFakeBinder(err error) *fakeBinder {
	return &fakeBinder{err: err, bound: make(chan string, 16)}
}

func (b *fakeBinder) Bind(_ context.Context, sessionID string) error {
	b.bound <- sessionID
	return b.err
}

// waitFor polls cond until it holds or the test times out.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

// Frame builders.

func welcomeFrame(id string, keepalive int, reconnectURL string) map[string]any {
	session := map[string]any{
		"id":                        id,
		"status":                    "connected",
		"connected_at":              "2024-01-01T00:00:00Z",
		"keepalive_timeout_seconds": keepalive,
		"reconnect_url":             nil,
	}
	if reconnectURL != "" {
		session["reconnect_url"] = reconnectURL
	}
	return map[string]any{
		"metadata": map[string]any{
			"message_id":        "welcome-" + id,
			"message_type":      MessageTypeWelcome,
			"message_timestamp": "2024-01-01T00:00:00Z",
		},
		"payload": map[string]any{"session": session},
	}
}

func keepaliveFrame() map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"message_id":        "keepalive",
			"message_type":      MessageTypeKeepalive,
			"message_timestamp": "2024-01-01T00:00:00Z",
		},
		"payload": map[string]any{},
	}
}

func notificationFrame(id, subType string) map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"message_id":           id,
			"message_type":         MessageTypeNotification,
			"message_timestamp":    "2024-01-01T00:00:00Z",
			"subscription_type":    subType,
			"subscription_version": "1",
		},
		"payload": map[string]any{
			"subscription": map[string]any{
				"id":     "sub-1",
				"status": "enabled",
				"type":   subType,
			},
			"event": map[string]any{
				"broadcaster_user_id": "1234",
				"message_id":          id,
			},
		},
	}
}

func reconnectFrame(url string) map[string]any {
	return map[string]any{
		"metadata": map[string]any{
			"message_id":        "reconnect",
			"message_type":      MessageTypeReconnect,
			"message_timestamp": "2024-01-01T00:00:00Z",
		},
		"payload": map[string]any{
			"session": map[string]any{
				"id":                        "s1",
				"status":                    "reconnecting",
				"keepalive_timeout_seconds": nil,
				"reconnect_url":             url,
			},
		},
	}
}
