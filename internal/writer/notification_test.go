package writer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/eventsub-receiver/internal/connection"
	"github.com/rickgao/eventsub-receiver/internal/handler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBatcher records batches and reports a conflict for message ids it has
// already seen.
type fakeBatcher struct {
	mu      sync.Mutex
	seen    map[uuid.UUID]bool
	batches int
	rows    [][]any
	err     error

	// rejectCanceled fails batches sent with a done context, as pgx does.
	rejectCanceled bool
}

func newFakeBatcher() *fakeBatcher {
	return &fakeBatcher{seen: make(map[uuid.UUID]bool)}
}

func (f *fakeBatcher) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.batches++
	if f.rejectCanceled && ctx.Err() != nil {
		return &fakeResults{err: ctx.Err()}
	}
	res := &fakeResults{err: f.err}
	for _, q := range b.QueuedQueries {
		f.rows = append(f.rows, q.Arguments)
		id := q.Arguments[0].(uuid.UUID)
		if f.seen[id] {
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 0"))
		} else {
			f.seen[id] = true
			res.tags = append(res.tags, pgconn.NewCommandTag("INSERT 0 1"))
		}
	}
	return res
}

func (f *fakeBatcher) rowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeResults struct {
	tags []pgconn.CommandTag
	i    int
	err  error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	tag := r.tags[r.i]
	r.i++
	return tag, nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not implemented") }
func (r *fakeResults) QueryRow() pgx.Row        { return nil }
func (r *fakeResults) Close() error             { return nil }

func testEvent(messageID, broadcaster string) handler.Event {
	return handler.Event{
		BroadcasterID: broadcaster,
		Notification: connection.Notification{
			SubscriptionType: "channel.follow",
			ReceivedAt:       time.Date(2024, 1, 15, 12, 0, 1, 0, time.UTC),
			Metadata: connection.Metadata{
				MessageID:           messageID,
				MessageType:         connection.MessageTypeNotification,
				MessageTimestamp:    time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
				SubscriptionType:    "channel.follow",
				SubscriptionVersion: "2",
			},
			Payload: connection.Payload{
				Subscription: &connection.SubscriptionPayload{
					ID:        "sub-1",
					Type:      "channel.follow",
					Version:   "2",
					Transport: connection.SubscriptionTransport{Method: "websocket", SessionID: "sess-1"},
				},
				Event: json.RawMessage(`{"broadcaster_user_id":"` + broadcaster + `"}`),
			},
		},
	}
}

func TestNotificationWriter_Transform(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, discardLogger())
	id := "befa7b53-d79d-478f-86b9-120f112b044e"

	row, err := w.transform(testEvent(id, "1337"))
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}

	if row.MessageID != uuid.MustParse(id) {
		t.Errorf("MessageID = %s, want %s", row.MessageID, id)
	}
	if row.SubscriptionType != "channel.follow" || row.SubscriptionVersion != "2" {
		t.Errorf("type/version = %s/%s", row.SubscriptionType, row.SubscriptionVersion)
	}
	if row.BroadcasterID == nil || *row.BroadcasterID != "1337" {
		t.Errorf("BroadcasterID = %v, want 1337", row.BroadcasterID)
	}
	if row.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", row.SessionID)
	}
	if !row.MessageTs.Equal(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("MessageTs = %v", row.MessageTs)
	}

	var envelope struct {
		Metadata connection.Metadata `json:"metadata"`
		Payload  connection.Payload  `json:"payload"`
	}
	if err := json.Unmarshal(row.Payload, &envelope); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if envelope.Metadata.MessageID != id {
		t.Errorf("payload message_id = %q", envelope.Metadata.MessageID)
	}
}

func TestNotificationWriter_Transform_NoBroadcaster(t *testing.T) {
	w := NewNotificationWriter(DefaultWriterConfig(), nil, discardLogger())

	row, err := w.transform(testEvent("befa7b53-d79d-478f-86b9-120f112b044e", ""))
	if err != nil {
		t.Fatalf("transform failed: %v", err)
	}
	if row.BroadcasterID != nil {
		t.Errorf("BroadcasterID = %q, want nil", *row.BroadcasterID)
	}
}

func TestMessageUUID(t *testing.T) {
	a := messageUUID("not-a-uuid")
	b := messageUUID("not-a-uuid")
	c := messageUUID("another")

	if a != b {
		t.Error("derived ids must be stable")
	}
	if a == c {
		t.Error("different message ids must not collide")
	}
	if a.Version() != 5 {
		t.Errorf("derived id version = %d, want 5", a.Version())
	}
}

func TestNotificationWriter_FlushOnBatchSize(t *testing.T) {
	db := newFakeBatcher()
	cfg := WriterConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 4}
	w := NewNotificationWriter(cfg, db, discardLogger())

	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop(ctx)

	w.Deliver(testEvent(uuid.NewString(), "1"))
	w.Deliver(testEvent(uuid.NewString(), "2"))

	deadline := time.Now().Add(2 * time.Second)
	for db.rowCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rowCount() != 2 {
		t.Fatalf("rows written = %d, want 2", db.rowCount())
	}
	if got := w.Stats().Inserts; got != 2 {
		t.Errorf("Inserts = %d, want 2", got)
	}
}

func TestNotificationWriter_DuplicatesCountedAsConflicts(t *testing.T) {
	db := newFakeBatcher()
	cfg := WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 4}
	w := NewNotificationWriter(cfg, db, discardLogger())

	ctx := context.Background()
	w.Start(ctx)

	id := uuid.NewString()
	w.Deliver(testEvent(id, "1"))
	w.Deliver(testEvent(id, "1"))
	w.Deliver(testEvent(uuid.NewString(), "1"))

	// Stop drains the queue and performs the final flush.
	w.Stop(ctx)

	stats := w.Stats()
	if stats.Inserts != 2 || stats.Conflicts != 1 {
		t.Errorf("stats = %+v, want 2 inserts and 1 conflict", stats)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
}

func TestNotificationWriter_FlushInterval(t *testing.T) {
	db := newFakeBatcher()
	cfg := WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 4}
	w := NewNotificationWriter(cfg, db, discardLogger())

	ctx := context.Background()
	w.Start(ctx)
	defer w.Stop(ctx)

	w.Deliver(testEvent(uuid.NewString(), "1"))

	deadline := time.Now().Add(2 * time.Second)
	for db.rowCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if db.rowCount() != 1 {
		t.Fatalf("rows written = %d, want 1", db.rowCount())
	}
}

func TestNotificationWriter_InsertError(t *testing.T) {
	db := newFakeBatcher()
	db.err = errors.New("connection refused")
	w := NewNotificationWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour}, db, discardLogger())

	ctx := context.Background()
	w.Start(ctx)
	w.Deliver(testEvent(uuid.NewString(), "1"))
	w.Stop(ctx)

	stats := w.Stats()
	if stats.Errors != 1 || stats.Inserts != 0 {
		t.Errorf("stats = %+v, want 1 error", stats)
	}
}

func TestNotificationWriter_StopAfterCancelWritesFullBatches(t *testing.T) {
	db := newFakeBatcher()
	db.rejectCanceled = true
	cfg := WriterConfig{BatchSize: 10, FlushInterval: time.Hour, BufferSize: 64}
	w := NewNotificationWriter(cfg, db, discardLogger())

	// The receiver cancels its run context before stopping components.
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	cancel()

	for i := 0; i < 25; i++ {
		w.Deliver(testEvent(uuid.NewString(), "1"))
	}
	w.Stop(context.Background())

	stats := w.Stats()
	if stats.Errors != 0 {
		t.Errorf("Errors = %d, want 0", stats.Errors)
	}
	if stats.Inserts != 25 {
		t.Errorf("Inserts = %d, want 25", stats.Inserts)
	}
	if db.rowCount() != 25 {
		t.Errorf("rows written = %d, want 25", db.rowCount())
	}
}

func TestNotificationWriter_DeliverAfterStop(t *testing.T) {
	db := newFakeBatcher()
	w := NewNotificationWriter(WriterConfig{BatchSize: 1, FlushInterval: time.Hour}, db, discardLogger())

	ctx := context.Background()
	w.Start(ctx)
	w.Stop(ctx)

	w.Deliver(testEvent(uuid.NewString(), "1"))
	if db.rowCount() != 0 {
		t.Errorf("rows written after stop = %d, want 0", db.rowCount())
	}
}

func TestNotificationWriter_SatisfiesSink(t *testing.T) {
	var _ handler.Sink = NewNotificationWriter(DefaultWriterConfig(), nil, nil)
}

func TestDefaultWriterConfig(t *testing.T) {
	cfg := DefaultWriterConfig()
	if cfg.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500", cfg.BatchSize)
	}
	if cfg.FlushInterval != time.Second {
		t.Errorf("FlushInterval = %v, want 1s", cfg.FlushInterval)
	}
}
