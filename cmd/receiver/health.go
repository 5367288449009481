package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/eventsub-receiver/internal/connection"
	"github.com/rickgao/eventsub-receiver/internal/metrics"
	"github.com/rickgao/eventsub-receiver/internal/poller"
	"github.com/rickgao/eventsub-receiver/internal/version"
	"github.com/rickgao/eventsub-receiver/internal/writer"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type sessionView interface {
	State() connection.State
	Stats() connection.ManagerStats
}

type bindingView interface {
	Status() connection.BindingStatus
}

type monitorView interface {
	Stats() poller.Stats
}

type writerView interface {
	Stats() writer.WriterMetrics
}

type relayView interface {
	ClientCount() int
}

// statusHandler serves /health, /debug/session and the metrics endpoint.
// monitor and relay are nil when disabled.
type statusHandler struct {
	db      pinger
	session sessionView
	binding bindingView
	monitor monitorView
	writer  writerView
	relay   relayView
}

func (h *statusHandler) routes(metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.health)
	mux.HandleFunc("/debug/session", h.debugSession)
	mux.Handle(metricsPath, metrics.Handler())
	return mux
}

func (h *statusHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    version.Info   `json:"version"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.Get(),
		Components: make(map[string]any),
	}

	// Check database
	if err := h.db.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["postgres"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
	} else {
		health.Components["postgres"] = "connected"
	}

	// Check session
	state := h.session.State()
	health.Components["eventsub"] = map[string]any{
		"state":      state.String(),
		"session_id": h.session.Stats().SessionID,
	}
	if state != connection.StateConnected && health.Status == "healthy" {
		health.Status = "degraded"
	}

	// Set response
	w.Header().Set("Content-Type", "application/json")
	if health.Status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

func (h *statusHandler) debugSession(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"session": h.session.Stats(),
		"binding": h.binding.Status(),
		"writer":  h.writer.Stats(),
	}
	if h.monitor != nil {
		resp["shard_monitor"] = h.monitor.Stats()
	}
	if h.relay != nil {
		resp["relay_consumers"] = h.relay.ClientCount()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
