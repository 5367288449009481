package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/config"
	"github.com/rickgao/eventsub-receiver/internal/connection"
	"github.com/rickgao/eventsub-receiver/internal/poller"
	"github.com/rickgao/eventsub-receiver/internal/writer"
)

type stubDB struct{ err error }

func (s stubDB) Ping(context.Context) error { return s.err }

type stubSession struct {
	state connection.State
	stats connection.ManagerStats
}

func (s stubSession) State() connection.State        { return s.state }
func (s stubSession) Stats() connection.ManagerStats { return s.stats }

type stubBinding struct{ status connection.BindingStatus }

func (s stubBinding) Status() connection.BindingStatus { return s.status }

type stubWriter struct{ stats writer.WriterMetrics }

func (s stubWriter) Stats() writer.WriterMetrics { return s.stats }

type stubMonitor struct{ stats poller.Stats }

func (s stubMonitor) Stats() poller.Stats { return s.stats }

func newStatus(dbErr error, state connection.State) *statusHandler {
	return &statusHandler{
		db:      stubDB{err: dbErr},
		session: stubSession{state: state, stats: connection.ManagerStats{State: state.String(), SessionID: "s1"}},
		binding: stubBinding{status: connection.BindingStatus{ConduitID: "c1", ShardID: "0", SessionID: "s1"}},
		writer:  stubWriter{stats: writer.WriterMetrics{Inserts: 7}},
	}
}

func getJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		dbErr      error
		state      connection.State
		wantCode   int
		wantStatus string
	}{
		{"healthy", nil, connection.StateConnected, http.StatusOK, "healthy"},
		{"reconnecting", nil, connection.StateReconnecting, http.StatusOK, "degraded"},
		{"database down", errors.New("refused"), connection.StateConnected, http.StatusServiceUnavailable, "unhealthy"},
		{"database down and disconnected", errors.New("refused"), connection.StateDisconnected, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newStatus(tt.dbErr, tt.state).routes("/metrics")
			code, body := getJSON(t, h, "/health")
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
			components := body["components"].(map[string]any)
			eventsub := components["eventsub"].(map[string]any)
			if eventsub["state"] != tt.state.String() {
				t.Errorf("eventsub state = %v, want %s", eventsub["state"], tt.state)
			}
		})
	}
}

func TestDebugSession(t *testing.T) {
	status := newStatus(nil, connection.StateConnected)
	code, body := getJSON(t, status.routes("/metrics"), "/debug/session")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if _, ok := body["shard_monitor"]; ok {
		t.Error("disabled monitor should be omitted")
	}
	binding := body["binding"].(map[string]any)
	if binding["conduit_id"] != "c1" {
		t.Errorf("binding = %v", binding)
	}

	status.monitor = stubMonitor{stats: poller.Stats{Rebinds: 2}}
	_, body = getJSON(t, status.routes("/metrics"), "/debug/session")
	monitor := body["shard_monitor"].(map[string]any)
	if monitor["rebinds"] != float64(2) {
		t.Errorf("shard_monitor = %v", monitor)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := newStatus(nil, connection.StateConnected).routes("/metrics")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "eventsub_") {
		t.Error("metrics output has no eventsub collectors")
	}
}

func TestManagerConfig(t *testing.T) {
	cfg := &config.ReceiverConfig{
		Twitch:  config.TwitchConfig{WSURL: "ws://127.0.0.1:8080/ws"},
		Conduit: config.ConduitConfig{ID: "c1", ShardID: "4"},
		Session: config.SessionConfig{
			KeepaliveBuffer:      3 * time.Second,
			MaxMissedKeepalives:  5,
			ReconnectBaseDelay:   2 * time.Second,
			ReconnectMaxDelay:    time.Minute,
			ReconnectJitter:      500 * time.Millisecond,
			MaxReconnectAttempts: 4,
			ReconnectGrace:       time.Second,
			TerminalCloseCodes:   []int{4001, 4002},
			NotificationBuffer:   10,
			UpdateTimeout:        15 * time.Second,
		},
	}

	mc := managerConfig(cfg)
	if mc.WSURL != "ws://127.0.0.1:8080/ws" || mc.ConduitID != "c1" || mc.ShardID != "4" {
		t.Errorf("endpoint fields = %q %q %q", mc.WSURL, mc.ConduitID, mc.ShardID)
	}
	if mc.ReconnectBaseWait != 2*time.Second || mc.ReconnectMaxWait != time.Minute {
		t.Errorf("reconnect waits = %v/%v", mc.ReconnectBaseWait, mc.ReconnectMaxWait)
	}
	if mc.MaxReconnectAttempts != 4 || mc.MaxMissedKeepalives != 5 {
		t.Errorf("limits = %d/%d", mc.MaxReconnectAttempts, mc.MaxMissedKeepalives)
	}
	if len(mc.TerminalCloseCodes) != 2 {
		t.Errorf("TerminalCloseCodes = %v", mc.TerminalCloseCodes)
	}
	if mc.Client.HandshakeTimeout == 0 {
		t.Error("client defaults not kept")
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]string{"debug": "DEBUG", "info": "INFO", "warn": "WARN", "error": "ERROR", "": "INFO"} {
		if got := parseLevel(in).String(); got != want {
			t.Errorf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
