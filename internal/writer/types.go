package writer

import (
	"time"

	"github.com/google/uuid"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the input queue.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// notificationRow represents a row for the eventsub_notifications table.
type notificationRow struct {
	MessageID           uuid.UUID
	SubscriptionType    string
	SubscriptionVersion string
	BroadcasterID       *string // NULL when the event names no broadcaster
	SessionID           string
	MessageTs           time.Time
	ReceivedAt          time.Time
	Payload             []byte // JSONB: {metadata, payload} envelope
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64 // Rows written
	Conflicts int64 // Rows skipped as redeliveries
	Errors    int64 // Failed flushes
	Flushes   int64 // Successful flushes
	Invalid   int64 // Notifications that could not be encoded
}
