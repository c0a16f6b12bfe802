//go:build integration

package containers

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"spectralog/internal/platform/config"
	"spectralog/internal/schema"
)

// postgisImage must be a postgres-compatible image with PostGIS baked
// in: the correlated store migrations run CREATE EXTENSION postgis.
const postgisImage = "postgis/postgis:16-3.4-alpine"

const (
	eventsTestDB = "spectralog_events_test"
	corrTestDB   = "spectralog_corr_test"
)

// PostgresContainer wraps a testcontainers Postgres instance with both
// destination databases created and their schemas applied.
type PostgresContainer struct {
	Container testcontainers.Container

	// Admin connects to the maintenance database as superuser. Init
	// tests use it to create and drop scratch databases of their own.
	Admin config.DSN

	// Events is pooled onto the event log database (error table
	// applied, topic tables created lazily by the store under test).
	Events *pgxpool.Pool

	// Corr is pooled onto the correlated log database (fully migrated).
	Corr *pgxpool.Pool
}

// newPostgresContainer starts Postgres and provisions the test
// databases. Called by the Manager under its lock.
func newPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, postgisImage,
		tcpostgres.WithDatabase("postgres"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	raw, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}
	admin, err := config.ParseDSN(raw)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to parse postgres connection string: %v", err)
	}

	pc := &PostgresContainer{Container: container, Admin: admin}
	if err := pc.provision(ctx); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to provision test databases: %v", err)
	}

	// Note: We don't register t.Cleanup here because the container is managed
	// by the singleton Manager and shared across test suites. Ryuk handles cleanup.

	return pc
}

func (p *PostgresContainer) provision(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, p.Admin.URL())
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	for _, name := range []string{eventsTestDB, corrTestDB} {
		if _, err := conn.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
			conn.Close(ctx)
			return fmt.Errorf("create database %s: %w", name, err)
		}
	}
	if err := conn.Close(ctx); err != nil {
		return fmt.Errorf("close admin connection: %w", err)
	}

	eventsDSN := p.Admin.WithDatabase(eventsTestDB)
	if err := applySchema(ctx, eventsDSN, func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, schema.ErrorTableDDL)
		return err
	}); err != nil {
		return fmt.Errorf("apply event log schema: %w", err)
	}

	corrDSN := p.Admin.WithDatabase(corrTestDB)
	if err := applySchema(ctx, corrDSN, func(ctx context.Context, conn *pgx.Conn) error {
		return schema.MigrateCorr(ctx, conn, nil)
	}); err != nil {
		return fmt.Errorf("apply correlated schema: %w", err)
	}

	if p.Events, err = pgxpool.New(ctx, eventsDSN.URL()); err != nil {
		return fmt.Errorf("open event log pool: %w", err)
	}
	if p.Corr, err = pgxpool.New(ctx, corrDSN.URL()); err != nil {
		return fmt.Errorf("open correlated pool: %w", err)
	}
	if err := p.Events.Ping(ctx); err != nil {
		return fmt.Errorf("ping event log pool: %w", err)
	}
	if err := p.Corr.Ping(ctx); err != nil {
		return fmt.Errorf("ping correlated pool: %w", err)
	}
	return nil
}

func applySchema(ctx context.Context, dsn config.DSN, apply func(context.Context, *pgx.Conn) error) error {
	conn, err := pgx.Connect(ctx, dsn.URL())
	if err != nil {
		return fmt.Errorf("connect %s: %w", dsn.Redacted(), err)
	}
	defer conn.Close(ctx)
	return apply(ctx, conn)
}

// TruncateCorr empties the named correlated store tables.
// Use between tests to ensure isolation.
func (p *PostgresContainer) TruncateCorr(ctx context.Context, tables ...string) error {
	return truncate(ctx, p.Corr, tables)
}

// TruncateEvents empties the named event log tables.
// Use between tests to ensure isolation.
func (p *PostgresContainer) TruncateEvents(ctx context.Context, tables ...string) error {
	return truncate(ctx, p.Events, tables)
}

// DropEventTables removes lazily created topic tables so a test can
// observe the store recreating them.
func (p *PostgresContainer) DropEventTables(ctx context.Context, tables ...string) error {
	for _, tbl := range tables {
		if _, err := p.Events.Exec(ctx, "DROP TABLE IF EXISTS "+pgx.Identifier{tbl}.Sanitize()); err != nil {
			return fmt.Errorf("drop table %s: %w", tbl, err)
		}
	}
	return nil
}

func truncate(ctx context.Context, pool *pgxpool.Pool, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	quoted := make([]string, len(tables))
	for i, tbl := range tables {
		quoted[i] = pgx.Identifier{tbl}.Sanitize()
	}
	_, err := pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(quoted, ", ")+" CASCADE")
	return err
}
