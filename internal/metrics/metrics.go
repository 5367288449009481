package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventsub"

var (
	registerOnce sync.Once

	ConnectionState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "state",
		Help:      "Lifecycle state (0=disconnected 1=connecting 2=connected 3=reconnecting).",
	})
	StateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "state_transitions_total",
			Help:      "Lifecycle state transitions.",
		},
		[]string{"from", "to"},
	)
	TransportCloses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transport_closes_total",
			Help:      "Transport closes by close code.",
		},
		[]string{"code"},
	)
	ReconnectsScheduled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reconnects_scheduled_total",
		Help:      "Reconnect attempts scheduled.",
	})
	ReconnectGiveUps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "reconnect_give_ups_total",
		Help:      "Times the manager stopped reconnecting after exhausting attempts.",
	})
	KeepaliveMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "keepalive_misses_total",
		Help:      "Keepalive checks that found the transport silent.",
	})
	FramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "received_total",
			Help:      "Frames received by message type.",
		},
		[]string{"message_type"},
	)
	ParseErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "frames",
		Name:      "parse_errors_total",
		Help:      "Frames that could not be decoded.",
	})
	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "received_total",
			Help:      "Notifications handed to the handler registry.",
		},
		[]string{"subscription_type"},
	)
	HandlerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "handler_errors_total",
			Help:      "Handler failures, including recovered panics.",
		},
		[]string{"subscription_type"},
	)
	Revocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscriptions",
			Name:      "revocations_total",
			Help:      "Subscription revocations by status.",
		},
		[]string{"status"},
	)
	ShardUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "conduit",
			Name:      "shard_updates_total",
			Help:      "Conduit shard transport updates by result.",
		},
		[]string{"result"},
	)
	ShardUpdateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "conduit",
		Name:      "shard_update_duration_seconds",
		Help:      "Latency of conduit shard transport updates.",
		Buckets:   prometheus.DefBuckets,
	})
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "helix",
			Name:      "requests_total",
			Help:      "Helix API requests.",
		},
		[]string{"method", "path", "status"},
	)
	APIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "helix",
			Name:      "request_duration_seconds",
			Help:      "Helix API request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	WriterInserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writer",
			Name:      "rows_total",
			Help:      "Notification rows written, by outcome.",
		},
		[]string{"outcome"},
	)
	WriterFlushDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "writer",
		Name:      "flush_duration_seconds",
		Help:      "Batch flush latency.",
		Buckets:   prometheus.DefBuckets,
	})
	RelayClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "clients",
		Help:      "Connected relay consumers.",
	})
	RelayDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "relay",
		Name:      "dropped_total",
		Help:      "Notifications dropped for slow relay consumers.",
	})
)

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ConnectionState, StateTransitions, TransportCloses,
			ReconnectsScheduled, ReconnectGiveUps, KeepaliveMisses,
			FramesReceived, ParseErrors, Notifications, HandlerErrors, Revocations,
			ShardUpdates, ShardUpdateDuration,
			APIRequests, APIDuration,
			WriterInserts, WriterFlushDuration,
			RelayClients, RelayDropped,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}

// RecordAPIRequest observes one Helix round trip.
func RecordAPIRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	APIRequests.WithLabelValues(method, path, statusLabel).Inc()
	APIDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// RecordShardUpdate observes one conduit shard update.
func RecordShardUpdate(err error, duration time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ShardUpdates.WithLabelValues(result).Inc()
	ShardUpdateDuration.Observe(duration.Seconds())
}
