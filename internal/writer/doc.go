// Package writer persists delivered notifications to PostgreSQL.
//
// The notification writer is a handler tap: Deliver enqueues without
// blocking, a consumer goroutine accumulates rows, and batches are flushed
// by size or interval. Inserts are append-only and keyed by message id, so a
// redelivered notification is counted as a conflict rather than a new row.
package writer
