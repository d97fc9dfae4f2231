package database

import "context"

// InitSchema applies the full schema on a fresh database.
// It checks whether the "radio_calls" table exists as a proxy for
// whether schema.sql has been loaded. If missing, it executes
// the embedded schema SQL. If present, it's a no-op.
func (db *DB) InitSchema(ctx context.Context, schemaSQL []byte) error {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT FROM pg_tables WHERE schemaname = 'public' AND tablename = 'radio_calls')`,
	).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		db.log.Debug().Msg("schema already initialized, skipping")
		return nil
	}

	db.log.Info().Msg("fresh database detected — applying schema")
	if _, err := db.Pool.Exec(ctx, string(schemaSQL)); err != nil {
		return err
	}
	db.log.Info().Msg("schema applied successfully")
	return nil
}

// EnsureTimescale converts the time-series tables into hypertables and
// installs a compression policy. Everything here is best-effort: the
// store works as plain PostgreSQL when the extension is absent.
func (db *DB) EnsureTimescale(ctx context.Context) {
	var installed int
	err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM pg_extension WHERE extname = 'timescaledb'`,
	).Scan(&installed)
	if err != nil || installed == 0 {
		db.log.Warn().Msg("timescaledb extension not found - run: CREATE EXTENSION timescaledb")
		return
	}

	for _, table := range []string{"radio_calls", "security_events"} {
		var count int
		err := db.Pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM timescaledb_information.hypertables WHERE hypertable_name = $1`,
			table,
		).Scan(&count)
		if err != nil {
			db.log.Warn().Err(err).Str("table", table).Msg("hypertable check failed")
			continue
		}
		if count > 0 {
			continue
		}
		_, err = db.Pool.Exec(ctx,
			"SELECT create_hypertable('"+table+"', 'timestamp', if_not_exists => TRUE, migrate_data => TRUE)")
		if err != nil {
			db.log.Warn().Err(err).Str("table", table).Msg("create_hypertable failed")
			continue
		}
		db.log.Info().Str("table", table).Msg("created hypertable")
	}

	if _, err := db.Pool.Exec(ctx,
		`SELECT set_chunk_time_interval('radio_calls', INTERVAL '1 day')`); err != nil {
		db.log.Warn().Err(err).Msg("set_chunk_time_interval failed")
	}

	if _, err := db.Pool.Exec(ctx, `
		ALTER TABLE radio_calls SET (
			timescaledb.compress,
			timescaledb.compress_segmentby = 'frequency, talkgroup_id'
		)
	`); err != nil {
		db.log.Warn().Err(err).Msg("enable compression failed")
	}

	var policies int
	err = db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM timescaledb_information.jobs WHERE proc_name = 'policy_compression'`,
	).Scan(&policies)
	if err == nil && policies == 0 {
		if _, err := db.Pool.Exec(ctx,
			`SELECT add_compression_policy('radio_calls', INTERVAL '30 days')`); err != nil {
			db.log.Warn().Err(err).Msg("add_compression_policy failed")
		} else {
			db.log.Info().Msg("added compression policy for old call data")
		}
	}
}
