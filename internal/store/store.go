package store

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/lunaris-ai/coinbridge/internal/config"
)

// AuditEvent is one access-path record: who asked for what, how it went.
// Payloads and credentials never appear here.
type AuditEvent struct {
	ID             string
	UserContextID  string
	ConversationID string
	MissionRunID   string
	Operation      string
	Endpoint       string
	Outcome        string // "ok", "cache_hit", or an error kind
	CacheHit       bool
	LatencyMS      int64
	CreatedAt      time.Time
}

type snapshotRow struct {
	ID            string
	UserContextID string
	Operation     string
	Payload       []byte
	FetchedAt     time.Time
}

type metricRow struct {
	ID            string
	Name          string
	Value         float64
	UserContextID string
	RecordedAt    time.Time
}

// record is one enqueued write; exactly one field is set.
type record struct {
	snapshot *snapshotRow
	audit    *AuditEvent
	metric   *metricRow
}

// Store is the asynchronous append-only writer. A nil *Store is valid and
// drops everything silently, which is how a disabled persistence config is
// represented.
type Store struct {
	cfg    config.StoreConfig
	db     *pgxpool.Pool
	logger zerolog.Logger

	input   chan record
	dropped atomic.Int64
	onDrop  func(n int64)

	batchMu   sync.Mutex
	snapshots []snapshotRow
	audits    []AuditEvent
	metrics   []metricRow

	flushTicker *time.Ticker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates a store writing through the given pool.
func New(cfg config.StoreConfig, db *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{
		cfg:    cfg,
		db:     db,
		logger: logger.With().Str("component", "store").Logger(),
		input:  make(chan record, cfg.BufferSize),
		now:    time.Now,
	}
}

// Start begins the consume and flush loops.
func (s *Store) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.flushTicker = time.NewTicker(s.cfg.FlushInterval)

	s.wg.Add(1)
	go s.consumeLoop()

	s.wg.Add(1)
	go s.flushLoop()

	s.logger.Info().
		Int("batch_size", s.cfg.BatchSize).
		Dur("flush_interval", s.cfg.FlushInterval).
		Msg("store writer started")
	return nil
}

// Stop halts the loops, drains whatever is still buffered, and performs a
// final flush on the caller's context; the run context is already canceled
// by then and must not gate the last write.
func (s *Store) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.logger.Info().Msg("stopping store writer")

	if s.cancel != nil {
		s.cancel()
	}
	if s.flushTicker != nil {
		s.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("store writer stopped")
	case <-ctx.Done():
		s.logger.Warn().Msg("store writer stop timed out")
	}

	s.drain(ctx)
	s.flush(ctx)
	return nil
}

// drain moves records left in the input channel into the pending batches.
func (s *Store) drain(ctx context.Context) {
	for {
		select {
		case r := <-s.input:
			s.handleRecord(ctx, r)
		default:
			return
		}
	}
}

// SaveSnapshot enqueues a fetched payload for append-only persistence.
func (s *Store) SaveSnapshot(userContextID, operation string, payload any, fetchedAt time.Time) {
	if s == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("operation", operation).Msg("snapshot payload not serializable")
		return
	}
	s.enqueue(record{snapshot: &snapshotRow{
		ID:            uuid.NewString(),
		UserContextID: userContextID,
		Operation:     operation,
		Payload:       data,
		FetchedAt:     fetchedAt,
	}})
}

// AppendAudit enqueues an audit event. A zero ID or CreatedAt is filled in.
func (s *Store) AppendAudit(event AuditEvent) {
	if s == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}
	s.enqueue(record{audit: &event})
}

// RecordMetric enqueues a named sample for durable metrics.
func (s *Store) RecordMetric(name string, value float64, userContextID string) {
	if s == nil {
		return
	}
	s.enqueue(record{metric: &metricRow{
		ID:            uuid.NewString(),
		Name:          name,
		Value:         value,
		UserContextID: userContextID,
		RecordedAt:    s.now(),
	}})
}

// Dropped reports how many records were discarded on buffer overflow.
func (s *Store) Dropped() int64 {
	if s == nil {
		return 0
	}
	return s.dropped.Load()
}

// SetDropHook registers a callback invoked with the number of records lost
// whenever the writer discards them. Must be set before Start.
func (s *Store) SetDropHook(fn func(n int64)) {
	if s == nil {
		return
	}
	s.onDrop = fn
}

func (s *Store) drop(n int64) {
	s.dropped.Add(n)
	if s.onDrop != nil {
		s.onDrop(n)
	}
}

// enqueue never blocks: the read path must not stall on persistence.
func (s *Store) enqueue(r record) {
	select {
	case s.input <- r:
	default:
		s.drop(1)
	}
}

func (s *Store) consumeLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case r := <-s.input:
			s.handleRecord(s.ctx, r)
		}
	}
}

func (s *Store) flushLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.flushTicker.C:
			s.flush(s.ctx)
		}
	}
}

func (s *Store) handleRecord(ctx context.Context, r record) {
	s.batchMu.Lock()
	switch {
	case r.snapshot != nil:
		s.snapshots = append(s.snapshots, *r.snapshot)
	case r.audit != nil:
		s.audits = append(s.audits, *r.audit)
	case r.metric != nil:
		s.metrics = append(s.metrics, *r.metric)
	}
	total := len(s.snapshots) + len(s.audits) + len(s.metrics)
	s.batchMu.Unlock()

	if total >= s.cfg.BatchSize {
		s.flush(ctx)
	}
}

// flush writes all pending rows. Failures are logged and dropped; rows are
// not retried, matching the append-only best-effort contract.
func (s *Store) flush(ctx context.Context) {
	s.batchMu.Lock()
	snapshots, audits, metrics := s.snapshots, s.audits, s.metrics
	s.snapshots, s.audits, s.metrics = nil, nil, nil
	s.batchMu.Unlock()

	count := len(snapshots) + len(audits) + len(metrics)
	if count == 0 {
		return
	}
	if s.db == nil {
		s.drop(int64(count))
		return
	}

	start := time.Now()
	batch := &pgx.Batch{}

	for _, r := range snapshots {
		batch.Queue(`
			INSERT INTO market_snapshots (id, user_context_id, operation, payload, fetched_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.UserContextID, r.Operation, r.Payload, r.FetchedAt)
	}
	for _, e := range audits {
		batch.Queue(`
			INSERT INTO audit_events (id, user_context_id, conversation_id, mission_run_id,
				operation, endpoint, outcome, cache_hit, latency_ms, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.UserContextID, e.ConversationID, e.MissionRunID,
			e.Operation, e.Endpoint, e.Outcome, e.CacheHit, e.LatencyMS, e.CreatedAt)
	}
	for _, m := range metrics {
		batch.Queue(`
			INSERT INTO metric_samples (id, name, value, user_context_id, recorded_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, m.ID, m.Name, m.Value, m.UserContextID, m.RecordedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < count; i++ {
		if _, err := results.Exec(); err != nil {
			s.logger.Error().Err(err).Int("count", count).Msg("batch insert failed")
			s.drop(int64(count - i))
			return
		}
	}

	s.logger.Debug().
		Int("snapshots", len(snapshots)).
		Int("audits", len(audits)).
		Int("metrics", len(metrics)).
		Dur("duration", time.Since(start)).
		Msg("flushed store batch")
}

// RecentAuditEvents reads back a user's latest audit trail, newest first.
// This is a direct query, not part of the async write path.
func (s *Store) RecentAuditEvents(ctx context.Context, userContextID string, limit int) ([]AuditEvent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_context_id, conversation_id, mission_run_id,
			operation, endpoint, outcome, cache_hit, latency_ms, created_at
		FROM audit_events
		WHERE user_context_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userContextID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.UserContextID, &e.ConversationID, &e.MissionRunID,
			&e.Operation, &e.Endpoint, &e.Outcome, &e.CacheHit, &e.LatencyMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
