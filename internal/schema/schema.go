// Package schema declares the relational shape of both destination
// stores: fixed relations as DDL constants, versioned migrations for the
// correlated store, and the naming rules for per-topic event tables.
package schema

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ErrorTable is the fixed decode/write error relation in the event log
// store. The name is reserved; no topic may map onto it.
const ErrorTable = "siphon_errors"

// ErrorTableDDL creates the error stream relation. Append-only; rows are
// keyed by a generated UUID so replayed parks never collide.
const ErrorTableDDL = `
CREATE TABLE IF NOT EXISTS siphon_errors (
	id      UUID        PRIMARY KEY,
	time    TIMESTAMPTZ NOT NULL,
	topic   TEXT        NOT NULL,
	source  TEXT        NOT NULL,
	payload BYTEA,
	error   TEXT        NOT NULL
);

CREATE INDEX IF NOT EXISTS siphon_errors_time_idx ON siphon_errors (time);
`

// maxTableName caps topic-derived names well under the Postgres 63-byte
// identifier limit, leaving room for the _time_idx suffix. Longer names
// would be silently truncated by the server and could alias two topics.
const maxTableName = 52

// TableForTopic maps a topic name onto its event table name: lowercased,
// with '.' and '-' folded to '_'. Anything outside the broker's legal
// topic alphabet is rejected rather than guessed at.
func TableForTopic(topic string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(topic))
	if name == "" {
		return "", fmt.Errorf("empty topic name")
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '.' || r == '-':
			b.WriteByte('_')
		default:
			return "", fmt.Errorf("topic %q: character %q not usable in a table name", topic, r)
		}
	}
	name = b.String()

	if len(name) > maxTableName {
		return "", fmt.Errorf("topic %q: derived table name exceeds %d characters", topic, maxTableName)
	}
	if name == ErrorTable || name == VersionTable || strings.HasPrefix(name, "pg_") {
		return "", fmt.Errorf("topic %q: table name %q is reserved", topic, name)
	}
	return name, nil
}

// EventTableDDL returns the create statements for one per-topic event
// table. Identifiers are sanitized, so the statements are safe to build
// from a TableForTopic result.
func EventTableDDL(table string) string {
	tbl := pgx.Identifier{table}.Sanitize()
	idx := pgx.Identifier{table + "_time_idx"}.Sanitize()
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	time   TIMESTAMPTZ NOT NULL,
	source TEXT        NOT NULL,
	log    JSONB       NOT NULL
);

CREATE INDEX IF NOT EXISTS %s ON %s (time);
`, tbl, idx, tbl)
}
