package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"spectralog/internal/schema"
)

// ResultSet is a fully materialized result: column names in projection
// order, one value slice per row.
type ResultSet struct {
	Columns []string
	Rows    [][]any
}

// Engine executes requests against the two destination stores. It is
// safe for concurrent use; every query is an independent read.
type Engine struct {
	events *pgxpool.Pool
	corr   *pgxpool.Pool
	cache  *enumCache
	logger *slog.Logger
	now    func() time.Time
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithCache memoizes topic/source enumerations in Redis for ttl.
func WithCache(client *redis.Client, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = &enumCache{client: client, ttl: ttl, logger: e.logger}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		if e.cache != nil {
			e.cache.logger = logger
		}
	}
}

// WithClock fixes the reference instant used by max-age filters.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over the event-log and correlated-log pools.
// Either pool may be nil when only the other store is queried.
func New(events, corr *pgxpool.Pool, opts ...Option) *Engine {
	e := &Engine{
		events: events,
		corr:   corr,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query compiles and runs one request, materializing all rows.
func (e *Engine) Query(ctx context.Context, req *Request) (*ResultSet, error) {
	c, err := compile(req, e.now())
	if err != nil {
		return nil, err
	}
	pool, err := e.pool(req.Store)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("running query", "store", req.Store, "sql", c.SQL)
	rows, err := pool.Query(ctx, c.SQL, c.Args...)
	if err != nil {
		return nil, e.mapStoreErr(err, req)
	}
	defer rows.Close()

	rs := &ResultSet{Columns: c.Cols}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rs.Rows = append(rs.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, e.mapStoreErr(err, req)
	}
	return rs, nil
}

// ListTopics enumerates the topics with stored events, as their table
// names in the event-log database.
func (e *Engine) ListTopics(ctx context.Context) ([]string, error) {
	if topics, ok := e.cache.get(ctx, "topics"); ok {
		return topics, nil
	}
	if e.events == nil {
		return nil, fmt.Errorf("event log store is not connected")
	}

	rows, err := e.events.Query(ctx,
		`SELECT tablename FROM pg_tables WHERE schemaname = 'public' AND tablename NOT IN ($1, $2) ORDER BY tablename`,
		schema.ErrorTable, schema.VersionTable,
	)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}

	e.cache.set(ctx, "topics", topics)
	return topics, nil
}

// ListSources enumerates distinct source values within one topic.
func (e *Engine) ListSources(ctx context.Context, topic string) ([]string, error) {
	table, err := schema.TableForTopic(topic)
	if err != nil {
		return nil, usagef("topic %q: %v", topic, err)
	}
	if sources, ok := e.cache.get(ctx, "sources:"+table); ok {
		return sources, nil
	}
	if e.events == nil {
		return nil, fmt.Errorf("event log store is not connected")
	}

	rows, err := e.events.Query(ctx,
		"SELECT DISTINCT source FROM "+pgx.Identifier{table}.Sanitize()+" ORDER BY source")
	if err != nil {
		return nil, e.mapStoreErr(err, &Request{Store: StoreEventLog, Topic: topic})
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	e.cache.set(ctx, "sources:"+table, sources)
	return sources, nil
}

func (e *Engine) pool(store Store) (*pgxpool.Pool, error) {
	switch store {
	case StoreEventLog, StoreErrors:
		if e.events == nil {
			return nil, fmt.Errorf("event log store is not connected")
		}
		return e.events, nil
	case StoreCorrLog:
		if e.corr == nil {
			return nil, fmt.Errorf("correlated log store is not connected")
		}
		return e.corr, nil
	}
	return nil, usagef("unknown store %q", store)
}

// mapStoreErr turns the Postgres errors a caller can cause into usage
// errors; everything else stays a store failure.
func (e *Engine) mapStoreErr(err error, req *Request) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01": // undefined_table
			if req.Store == StoreEventLog {
				return usagef("no events stored for topic %q", req.Topic)
			}
			return fmt.Errorf("store schema missing, run init first: %w", err)
		case "42601", "42703": // syntax error / undefined column in a raw body
			return usagef("selection body error: %s", pgErr.Message)
		}
	}
	return fmt.Errorf("execute query: %w", err)
}
