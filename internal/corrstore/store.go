package corrstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store writes correlated entries. The ingestion engine is the sole
// writer; readers go through the query layer on their own connections.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New wraps a pgx pool connected to the correlated log store.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Healthy reports whether the store connection is usable.
func (s *Store) Healthy(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append writes a complete entry in one transaction: server and document
// lookups, the message row, and the spectrum grants. Every insert is
// idempotent on its key, so replaying a record is harmless, and a crash
// mid-write leaves nothing visible.
func (s *Store) Append(ctx context.Context, e *Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin corr transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	serverID, err := upsertServer(ctx, tx, e.Server)
	if err != nil {
		return err
	}

	var deviceDigest, locationDigest, configDigest *string
	if e.Device != nil {
		if err := insertDevice(ctx, tx, e.Device); err != nil {
			return err
		}
		deviceDigest = &e.Device.Digest
	}
	if e.Location != nil {
		if err := insertLocation(ctx, tx, e.Location); err != nil {
			return err
		}
		locationDigest = &e.Location.Digest
	}
	if e.Config != nil {
		if err := insertConfig(ctx, tx, e.Config); err != nil {
			return err
		}
		configDigest = &e.Config.Digest
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO inquiry_message (
			digest, server_id, request_id, rx_time, duration_ms,
			ap_ip, mtls_dn, runtime_opts, ruleset,
			device_digest, location_digest, config_digest,
			response_code, response_description, response_supplemental,
			uls_version, geo_version, request, response
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (digest) DO NOTHING
	`,
		e.Digest, serverID, e.RequestID, e.RxTime, e.DurationMs,
		e.APIP, e.MTLSDN, e.RuntimeOpts, e.Ruleset,
		deviceDigest, locationDigest, configDigest,
		e.ResponseCode, e.ResponseDescription, e.ResponseSupplemental,
		e.ULSVersion, e.GeoVersion, e.Request, e.Response,
	)
	if err != nil {
		return fmt.Errorf("insert inquiry message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("correlated entry already present",
			"digest", e.Digest,
			"request_id", e.RequestID,
		)
	}

	for _, g := range e.EIRP {
		_, err := tx.Exec(ctx, `
			INSERT INTO max_eirp (message_digest, op_class, channel, bandwidth_mhz, low_mhz, high_mhz, eirp_dbm)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (message_digest, op_class, channel) DO NOTHING
		`, e.Digest, g.OpClass, g.Channel, g.BandwidthMHz, g.LowMHz, g.HighMHz, g.EIRPdBm)
		if err != nil {
			return fmt.Errorf("insert eirp grant: %w", err)
		}
	}
	for _, g := range e.PSD {
		_, err := tx.Exec(ctx, `
			INSERT INTO max_psd (message_digest, low_mhz, high_mhz, psd_dbm_mhz)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (message_digest, low_mhz, high_mhz) DO NOTHING
		`, e.Digest, g.LowMHz, g.HighMHz, g.PSDdBmMHz)
		if err != nil {
			return fmt.Errorf("insert psd grant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit corr transaction: %w", err)
	}
	return nil
}

// upsertServer resolves a server name to its id, creating it on first
// sight. The no-op update makes RETURNING yield a row either way.
func upsertServer(ctx context.Context, tx pgx.Tx, name string) (int32, error) {
	var id int32
	err := tx.QueryRow(ctx, `
		INSERT INTO afc_server (name)
		VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert afc server %q: %w", name, err)
	}
	return id, nil
}

func insertDevice(ctx context.Context, tx pgx.Tx, d *DeviceDescriptor) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO device_descriptor (digest, serial_number, certifications)
		VALUES ($1, $2, $3)
		ON CONFLICT (digest) DO NOTHING
	`, d.Digest, d.SerialNumber, d.Certifications)
	if err != nil {
		return fmt.Errorf("insert device descriptor: %w", err)
	}
	return nil
}

func insertLocation(ctx context.Context, tx pgx.Tx, l *Location) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO request_location (digest, point, elevation_m, uncertainty_m, height_type)
		VALUES ($1, ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography, $4, $5, $6)
		ON CONFLICT (digest) DO NOTHING
	`, l.Digest, l.Lon, l.Lat, l.ElevationM, l.UncertaintyM, l.HeightType)
	if err != nil {
		return fmt.Errorf("insert request location: %w", err)
	}
	return nil
}

func insertConfig(ctx context.Context, tx pgx.Tx, c *Config) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO afc_config (digest, region, config)
		VALUES ($1, $2, $3)
		ON CONFLICT (digest) DO NOTHING
	`, c.Digest, c.Region, c.Raw)
	if err != nil {
		return fmt.Errorf("insert afc config: %w", err)
	}
	return nil
}
