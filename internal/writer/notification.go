package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rickgao/eventsub-receiver/internal/handler"
	"github.com/rickgao/eventsub-receiver/internal/metrics"
	"github.com/rickgao/eventsub-receiver/internal/queue"
)

// Batcher is the subset of pgxpool.Pool the writer needs.
type Batcher interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// messageIDSpace namespaces ids derived from non-UUID message ids.
var messageIDSpace = uuid.MustParse("6f1c3b0e-4d2a-5e8f-9a7b-0c1d2e3f4a5b")

// NotificationWriter consumes handler events and writes them to the
// eventsub_notifications table.
type NotificationWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	input *queue.FIFO[handler.Event]

	// Database
	db Batcher

	// Batching
	batch       []notificationRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx       context.Context
	cancel    context.CancelFunc
	consumeWG sync.WaitGroup

	// drainCtx outlives ctx so batches filled while Stop drains the queue
	// still reach the database. Stop cancels it once the drain is over.
	drainCtx    context.Context
	drainCancel context.CancelFunc
	wg        sync.WaitGroup

	metrics WriterMetrics
}

// NewNotificationWriter creates a new NotificationWriter.
func NewNotificationWriter(cfg WriterConfig, db Batcher, logger *slog.Logger) *NotificationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &NotificationWriter{
		cfg:    cfg,
		input:  queue.New[handler.Event](cfg.BufferSize),
		db:     db,
		logger: logger.With("component", "notification_writer"),
		batch:  make([]notificationRow, 0, cfg.BatchSize),
	}
}

// Deliver enqueues an event. It never blocks; events delivered after Stop
// are dropped.
func (w *NotificationWriter) Deliver(e handler.Event) {
	if !w.input.Send(e) {
		w.logger.Warn("writer stopped, dropping notification", "message_id", e.Notification.Metadata.MessageID)
	}
}

// Start begins consuming events and writing to the database.
func (w *NotificationWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.drainCtx, w.drainCancel = context.WithCancel(context.WithoutCancel(ctx))
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.consumeWG.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("notification writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop drains the input queue, flushes the final batch and shuts down.
func (w *NotificationWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping notification writer")

	// Closing the queue lets the consumer finish what is already queued.
	w.input.Close()
	if !waitGroup(ctx, &w.consumeWG) {
		w.logger.Warn("notification writer drain timed out", "pending", w.input.Len())
	}
	if w.drainCancel != nil {
		w.drainCancel()
	}

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	if waitGroup(ctx, &w.wg) {
		w.logger.Info("notification writer stopped")
	} else {
		w.logger.Warn("notification writer stop timed out")
	}

	// Final flush
	w.flushWith(ctx)

	return nil
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stats returns current metrics.
func (w *NotificationWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue until it is closed and empty.
func (w *NotificationWriter) consumeLoop() {
	defer w.consumeWG.Done()

	for {
		e, ok := w.input.Receive()
		if !ok {
			return
		}
		w.handleEvent(e)
	}
}

// flushLoop periodically flushes the batch.
func (w *NotificationWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushWith(w.ctx)
		}
	}
}

// handleEvent transforms and adds an event to the batch.
func (w *NotificationWriter) handleEvent(e handler.Event) {
	row, err := w.transform(e)
	if err != nil {
		w.logger.Error("encode notification failed", "message_id", e.Notification.Metadata.MessageID, "error", err)
		w.batchMu.Lock()
		w.metrics.Invalid++
		w.batchMu.Unlock()
		metrics.WriterInserts.WithLabelValues("invalid").Inc()
		return
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flushWith(w.drainCtx)
	}
}

// transform converts a handler event to a notificationRow.
func (w *NotificationWriter) transform(e handler.Event) (notificationRow, error) {
	n := e.Notification

	payload, err := json.Marshal(n)
	if err != nil {
		return notificationRow{}, err
	}

	row := notificationRow{
		MessageID:           messageUUID(n.Metadata.MessageID),
		SubscriptionType:    n.SubscriptionType,
		SubscriptionVersion: n.Metadata.SubscriptionVersion,
		MessageTs:           n.Metadata.MessageTimestamp,
		ReceivedAt:          n.ReceivedAt,
		Payload:             payload,
	}
	if e.BroadcasterID != "" {
		id := e.BroadcasterID
		row.BroadcasterID = &id
	}
	if sub := n.Payload.Subscription; sub != nil {
		row.SessionID = sub.Transport.SessionID
		if row.SubscriptionVersion == "" {
			row.SubscriptionVersion = sub.Version
		}
	}
	if row.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now()
	}
	if row.MessageTs.IsZero() {
		row.MessageTs = row.ReceivedAt
	}
	return row, nil
}

// messageUUID parses an EventSub message id. Ids that are not UUIDs map to a
// stable name-based UUID so redeliveries still collide.
func messageUUID(id string) uuid.UUID {
	if u, err := uuid.Parse(id); err == nil {
		return u
	}
	return uuid.NewSHA1(messageIDSpace, []byte(id))
}

// flushWith writes the current batch to the database.
func (w *NotificationWriter) flushWith(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]notificationRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	metrics.WriterFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		metrics.WriterInserts.WithLabelValues("error").Add(float64(len(batch)))
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	metrics.WriterInserts.WithLabelValues("inserted").Add(float64(len(batch) - conflicts))
	metrics.WriterInserts.WithLabelValues("duplicate").Add(float64(conflicts))

	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *NotificationWriter) batchInsert(ctx context.Context, rows []notificationRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO eventsub_notifications (message_id, subscription_type, subscription_version, broadcaster_id, session_id, message_ts, received_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (message_id) DO NOTHING
		`, r.MessageID, r.SubscriptionType, r.SubscriptionVersion, r.BroadcasterID, r.SessionID, r.MessageTs, r.ReceivedAt, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
