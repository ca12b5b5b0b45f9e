// Package pg connects to PostgreSQL through pgx and runs goose migrations.
//
// Connect opens a pgxpool.Pool, retrying the initial ping according to
// Config. OpenDB exposes the same pool as a *sql.DB for code written against
// database/sql. Migrate applies embedded SQL files with
// github.com/pressly/goose/v3, recording versions in Config.MigrationsTable.
//
// Storage is optional for callers: Config.Enabled reports whether PG_CONN_URL
// is set.
//
// # Errors
//
// IsNotFoundError, IsDuplicateKeyError and IsSerializationError classify driver
// errors; ConstraintName returns the violated constraint of a unique or check
// violation so that stores can map it to a domain error.
package pg
