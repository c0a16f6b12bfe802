// Package jsonlog persists events into the schema-flexible store: one
// three-column table per topic, created lazily on first write, plus the
// fixed decode/write error relation.
package jsonlog

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spectralog/internal/schema"
)

// Event is one generic record bound for a per-topic table.
type Event struct {
	Topic  string
	Time   time.Time // normalized to UTC on write
	Source string
	Log    []byte // JSON document
}

// ErrorRecord is one parked decode or write failure.
type ErrorRecord struct {
	ID      uuid.UUID
	Time    time.Time
	Topic   string
	Source  string
	Payload []byte
	Error   string
}

// Store writes events and error records. A process-local registry keeps
// table creation to one DDL round trip per topic.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu     sync.Mutex
	tables map[string]string // topic -> created table name
}

// New wraps a pgx pool connected to the event log store.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger,
		tables: make(map[string]string),
	}
}

// Healthy reports whether the store connection is usable.
func (s *Store) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Init ensures the fixed error relation exists. Called once at startup;
// per-topic tables are still created lazily.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema.ErrorTableDDL); err != nil {
		return fmt.Errorf("ensure error table: %w", err)
	}
	return nil
}

// Append writes one event, creating the topic's table on first write.
func (s *Store) Append(ctx context.Context, ev Event) error {
	table, err := s.ensureTable(ctx, ev.Topic)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (time, source, log) VALUES ($1, $2, $3)`,
		pgx.Identifier{table}.Sanitize(),
	)
	if _, err := s.pool.Exec(ctx, query, ev.Time.UTC(), ev.Source, ev.Log); err != nil {
		return fmt.Errorf("insert event into %s: %w", table, err)
	}
	return nil
}

// AppendError parks a failure in the error stream. Idempotent on the
// record id so a redelivered park never duplicates.
func (s *Store) AppendError(ctx context.Context, rec ErrorRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO siphon_errors (id, time, topic, source, payload, error)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, rec.ID, rec.Time.UTC(), rec.Topic, rec.Source, rec.Payload, rec.Error)
	if err != nil {
		return fmt.Errorf("insert error record: %w", err)
	}
	return nil
}

// ensureTable returns the topic's table name, running the DDL once per
// process. The DDL itself runs under an advisory lock so concurrent
// siphon instances cannot race the creation.
func (s *Store) ensureTable(ctx context.Context, topic string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if table, ok := s.tables[topic]; ok {
		return table, nil
	}

	table, err := schema.TableForTopic(topic)
	if err != nil {
		return "", err
	}
	if err := s.createTable(ctx, table); err != nil {
		return "", err
	}

	s.tables[topic] = table
	s.logger.Info("event table ready", "topic", topic, "table", table)
	return table, nil
}

func (s *Store) createTable(ctx context.Context, table string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ddl transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Transaction-scoped advisory lock keyed by the table name. IF NOT
	// EXISTS alone still races on the catalog under concurrent creation.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(table)); err != nil {
		return fmt.Errorf("acquire ddl lock: %w", err)
	}
	if _, err := tx.Exec(ctx, schema.EventTableDDL(table)); err != nil {
		return fmt.Errorf("create event table %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ddl transaction: %w", err)
	}
	return nil
}

func lockKey(table string) int64 {
	h := fnv.New64a()
	h.Write([]byte("spectralog:" + table))
	return int64(h.Sum64())
}
