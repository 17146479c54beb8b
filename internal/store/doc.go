// Package store persists snapshots, audit events, and metric samples to
// Postgres. Writes are append-only and asynchronous: callers enqueue and
// move on, a background writer batches rows and flushes on size or interval.
// A full buffer drops the record and counts the drop; persistence failures
// never fail the read path that produced the data.
package store
