// Package db wraps pgxpool with startup retries, a health check and goose
// migrations.
//
// Environment:
//
//	DATABASE_CONN_URL           - PostgreSQL connection URL (required)
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 10)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Pool health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 5s)
//	DATABASE_MIGRATIONS_TABLE   - goose version table (default: schema_migrations)
//
// Migrations are read from any fs.FS, usually an embed.FS:
//
//	if err := db.Migrate(ctx, pool, migrations.FS, cfg.MigrationsTable, log); err != nil {
//		return err
//	}
//
// Errors are sentinels joined with the underlying cause, so callers match
// them with errors.Is.
package db
