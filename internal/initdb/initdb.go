// Package initdb provisions the two destination databases from an
// administrative connection. The admin database itself is never
// mutated; all work happens through CREATE/DROP DATABASE plus schema
// application inside the created targets.
package initdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"spectralog/internal/platform/config"
	"spectralog/internal/schema"
)

// Policy selects what to do with a target database that already exists.
type Policy string

const (
	PolicySkip     Policy = "skip"
	PolicyRecreate Policy = "recreate"
	PolicyFail     Policy = "fail"
)

// ParsePolicy validates a policy name from flags or config.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicySkip, PolicyRecreate, PolicyFail:
		return Policy(s), nil
	}
	return "", fmt.Errorf("unknown exists policy %q: want skip, recreate or fail", s)
}

// ErrAlreadyExists is returned under PolicyFail when a target database
// is already present.
var ErrAlreadyExists = errors.New("database already exists")

// Targets names the two destination databases.
type Targets struct {
	EventLog config.DSN
	CorrLog  config.DSN
}

// Outcome reports what happened to one target.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRecreated Outcome = "recreated"
)

// Result reports per-target outcomes.
type Result struct {
	EventLog Outcome
	CorrLog  Outcome
}

// Initializer creates the destination databases and applies their
// schemas.
type Initializer struct {
	admin  config.DSN
	logger *slog.Logger
}

func New(admin config.DSN, logger *slog.Logger) *Initializer {
	return &Initializer{admin: admin, logger: logger}
}

// Initialize provisions both targets under one policy. Each target is
// all-or-nothing: if schema application fails, the database created for
// it is dropped again so a retry starts clean.
func (i *Initializer) Initialize(ctx context.Context, targets Targets, policy Policy) (*Result, error) {
	adminDB, err := sql.Open("postgres", i.admin.URL())
	if err != nil {
		return nil, fmt.Errorf("open admin connection: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping admin database %s: %w", i.admin.Redacted(), err)
	}

	res := &Result{}
	res.EventLog, err = i.initTarget(ctx, adminDB, targets.EventLog, policy, i.applyEventSchema)
	if err != nil {
		return nil, fmt.Errorf("initialize event log database: %w", err)
	}
	res.CorrLog, err = i.initTarget(ctx, adminDB, targets.CorrLog, policy, i.applyCorrSchema)
	if err != nil {
		return nil, fmt.Errorf("initialize correlated log database: %w", err)
	}
	return res, nil
}

func (i *Initializer) initTarget(ctx context.Context, adminDB *sql.DB, target config.DSN, policy Policy, apply func(context.Context, config.DSN) error) (Outcome, error) {
	name := target.Database
	if name == "" {
		return "", fmt.Errorf("target database name is empty")
	}

	exists, err := databaseExists(ctx, adminDB, name)
	if err != nil {
		return "", err
	}

	outcome := OutcomeCreated
	if exists {
		switch policy {
		case PolicySkip:
			i.logger.Info("database already present, leaving untouched", "database", name)
			return OutcomeSkipped, nil
		case PolicyFail:
			return "", fmt.Errorf("database %q: %w", name, ErrAlreadyExists)
		case PolicyRecreate:
			if err := dropDatabase(ctx, adminDB, name); err != nil {
				return "", err
			}
			i.logger.Info("dropped database for recreate", "database", name)
			outcome = OutcomeRecreated
		default:
			return "", fmt.Errorf("unknown exists policy %q", policy)
		}
	}

	if err := createDatabase(ctx, adminDB, name); err != nil {
		return "", err
	}
	i.logger.Info("created database", "database", name)

	if err := apply(ctx, target); err != nil {
		// A half-applied schema must not look initialized on the next
		// skip-policy run.
		if dropErr := dropDatabase(ctx, adminDB, name); dropErr != nil {
			i.logger.Error("drop after failed schema apply",
				"database", name,
				"error", dropErr,
			)
		}
		return "", fmt.Errorf("apply schema to %q: %w", name, err)
	}
	return outcome, nil
}

func databaseExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check database %q: %w", name, err)
	}
	return true, nil
}

func createDatabase(ctx context.Context, db *sql.DB, name string) error {
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("create database %q: %w", name, err)
	}
	return nil
}

func dropDatabase(ctx context.Context, db *sql.DB, name string) error {
	// Connected sessions block DROP DATABASE.
	if _, err := db.ExecContext(ctx,
		`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()`,
		name,
	); err != nil {
		return fmt.Errorf("terminate backends of %q: %w", name, err)
	}
	if _, err := db.ExecContext(ctx, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("drop database %q: %w", name, err)
	}
	return nil
}

// applyEventSchema seeds the error stream table. Per-topic event tables
// are created lazily at ingest time, so a fresh event-log database
// needs nothing else.
func (i *Initializer) applyEventSchema(ctx context.Context, target config.DSN) error {
	conn, err := pgx.Connect(ctx, target.URL())
	if err != nil {
		return fmt.Errorf("connect %s: %w", target.Redacted(), err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, schema.ErrorTableDDL); err != nil {
		return fmt.Errorf("create error table: %w", err)
	}
	return nil
}

// applyCorrSchema runs the versioned correlated-store migrations,
// including the PostGIS prerequisite.
func (i *Initializer) applyCorrSchema(ctx context.Context, target config.DSN) error {
	conn, err := pgx.Connect(ctx, target.URL())
	if err != nil {
		return fmt.Errorf("connect %s: %w", target.Redacted(), err)
	}
	defer conn.Close(ctx)

	return schema.MigrateCorr(ctx, conn, i.logger)
}
