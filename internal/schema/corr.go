package schema

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/tern/v2/migrate"
)

// VersionTable tracks applied correlated-store migrations.
const VersionTable = "schema_version"

type corrMigration struct {
	name string
	up   string
	down string
}

// corrMigrations is the complete, ordered schema history of the
// correlated log store. Append only; never edit an applied entry.
var corrMigrations = []corrMigration{
	{
		name: "enable postgis",
		up:   `CREATE EXTENSION IF NOT EXISTS postgis;`,
		down: `DROP EXTENSION IF EXISTS postgis;`,
	},
	{
		name: "create lookup tables",
		up: `
-- Server identity: one row per AFC server name seen on the wire.
CREATE TABLE afc_server (
	id   SERIAL PRIMARY KEY,
	name TEXT   NOT NULL UNIQUE
);

-- Content-addressed lookups. The digest is the sha256 hex of the
-- canonical JSON document, so replays land on the same row.
CREATE TABLE afc_config (
	digest TEXT  PRIMARY KEY,
	region TEXT  NOT NULL,
	config JSONB NOT NULL
);

CREATE TABLE device_descriptor (
	digest         TEXT  PRIMARY KEY,
	serial_number  TEXT  NOT NULL,
	certifications JSONB NOT NULL
);

CREATE TABLE request_location (
	digest        TEXT PRIMARY KEY,
	point         GEOGRAPHY(POINT, 4326) NOT NULL,
	elevation_m   REAL,
	uncertainty_m REAL,
	height_type   TEXT
);

CREATE INDEX request_location_point_idx ON request_location USING GIST (point);
`,
		down: `
DROP TABLE request_location;
DROP TABLE device_descriptor;
DROP TABLE afc_config;
DROP TABLE afc_server;
`,
	},
	{
		name: "create inquiry tables",
		up: `
-- One row per correlated entry. The digest covers the whole wire
-- record; request_id alone is NOT unique across history.
CREATE TABLE inquiry_message (
	digest                TEXT        PRIMARY KEY,
	server_id             INTEGER     NOT NULL REFERENCES afc_server (id),
	request_id            TEXT        NOT NULL,
	rx_time               TIMESTAMPTZ NOT NULL,
	duration_ms           INTEGER,
	ap_ip                 INET,
	mtls_dn               TEXT,
	runtime_opts          INTEGER     NOT NULL DEFAULT 0,
	ruleset               TEXT,
	device_digest         TEXT REFERENCES device_descriptor (digest),
	location_digest       TEXT REFERENCES request_location (digest),
	config_digest         TEXT REFERENCES afc_config (digest),
	response_code         INTEGER,
	response_description  TEXT,
	response_supplemental TEXT,
	uls_version           TEXT,
	geo_version           TEXT,
	request               JSONB NOT NULL,
	response              JSONB NOT NULL
);

CREATE INDEX inquiry_message_rx_time_idx ON inquiry_message (rx_time);
CREATE INDEX inquiry_message_request_id_idx ON inquiry_message (request_id);

-- Granted channels. Frequency bounds are denormalized from the channel
-- table at write time so range predicates need no join arithmetic.
CREATE TABLE max_eirp (
	message_digest TEXT    NOT NULL REFERENCES inquiry_message (digest) ON DELETE CASCADE,
	op_class       INTEGER NOT NULL,
	channel        INTEGER NOT NULL,
	bandwidth_mhz  INTEGER NOT NULL,
	low_mhz        REAL    NOT NULL,
	high_mhz       REAL    NOT NULL,
	eirp_dbm       REAL    NOT NULL,
	PRIMARY KEY (message_digest, op_class, channel)
);

-- Granted PSD over raw frequency ranges.
CREATE TABLE max_psd (
	message_digest TEXT NOT NULL REFERENCES inquiry_message (digest) ON DELETE CASCADE,
	low_mhz        REAL NOT NULL,
	high_mhz       REAL NOT NULL,
	psd_dbm_mhz    REAL NOT NULL,
	PRIMARY KEY (message_digest, low_mhz, high_mhz)
);
`,
		down: `
DROP TABLE max_psd;
DROP TABLE max_eirp;
DROP TABLE inquiry_message;
`,
	},
}

// MigrateCorr brings a correlated-store database up to the current
// schema version. Applied versions are tracked in schema_version, so
// re-running is a no-op.
func MigrateCorr(ctx context.Context, conn *pgx.Conn, log *slog.Logger) error {
	m, err := migrate.NewMigrator(ctx, conn, VersionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	for _, mig := range corrMigrations {
		m.AppendMigration(mig.name, mig.up, mig.down)
	}
	if log != nil {
		m.OnStart = func(sequence int32, name, direction, _ string) {
			log.Info("applying corr store migration",
				"sequence", sequence,
				"name", name,
				"direction", direction,
			)
		}
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate corr store: %w", err)
	}
	return nil
}
