// Package storage keeps reconciliation runs in a SQL database.
//
// SQLite is used for plain paths and postgres for postgres:// URLs. The
// schema is versioned with sql-migrate from the embedded migrations
// directory, and every run is written in a single transaction so a run is
// either stored completely or not at all.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"strconv"
	"strings"

	"bank-fin-reconciler/pkg/errors"
	"bank-fin-reconciler/pkg/logger"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Driver names understood by Open
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Store persists runs and reads them back
type Store struct {
	db     *sql.DB
	driver string
	logger logger.Logger
}

// DriverFor picks the database driver for dsn
func DriverFor(dsn string) string {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Open connects to dsn and brings the schema up to date
func Open(ctx context.Context, dsn string, log logger.Logger) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "db", dsn, nil)
	}

	driver := DriverFor(dsn)
	source := dsn
	if driver == DriverSQLite {
		source = sqliteSource(dsn)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err).
			WithContext("driver", driver)
	}
	if driver == DriverSQLite {
		// one writer at a time, and in-memory databases live per connection
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.PersistenceError(errors.CodeStoreUnavailable, "store", err).
			WithContext("driver", driver)
	}

	store := New(db, driver, log)
	if _, err := store.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database handle. The schema is not touched.
func New(db *sql.DB, driver string, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Store{
		db:     db,
		driver: driver,
		logger: log.WithComponent("store"),
	}
}

// Migrate applies pending migrations and returns how many ran
func (s *Store) Migrate() (int, error) {
	source := migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}

	n, err := migrate.Exec(s.db, s.driver, source, migrate.Up)
	if err != nil {
		return n, errors.PersistenceError(errors.CodeMigrationFailed, "store", err).
			WithContext("driver", s.driver)
	}
	if n > 0 {
		s.logger.WithField("migrations", n).Info("Schema migrated")
	}
	return n, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// Name implements reconciler.Sink
func (s *Store) Name() string {
	return "store"
}

// rebind rewrites ? placeholders for drivers that number them
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func sqliteSource(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if strings.Contains(dsn, "_foreign_keys") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}
