package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/goran-ethernal/ChainProjector/pkg/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/russross/meddler"
)

// Dialect captures the SQL differences between the supported drivers.
type Dialect struct {
	// Name is the database/sql driver family, also used as the sql-migrate dialect
	Name string

	// Meddler maps structs to rows with the driver's placeholder and RETURNING conventions
	Meddler *meddler.Database
}

var (
	SQLite   = Dialect{Name: config.DriverSQLite, Meddler: meddler.SQLite}
	Postgres = Dialect{Name: config.DriverPostgres, Meddler: meddler.PostgreSQL}
)

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d.Name == config.DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns count bind parameters starting at from, comma separated.
func (d Dialect) Placeholders(from, count int) string {
	parts := make([]string, count)
	for i := range count {
		parts[i] = d.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}

// Open connects to the configured store and reports its dialect.
func Open(cfg config.StoreConfig) (*sql.DB, Dialect, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		database, err := NewPostgresDB(cfg.DSN, cfg.DB)
		return database, Postgres, err
	case config.DriverSQLite, "":
		database, err := NewSQLiteDBFromConfig(cfg.DB)
		return database, SQLite, err
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// NewSQLiteDB creates a new SQLite DB
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=on&_journal_mode=WAL&_busy_timeout=30000",
		dbPath,
	))
}

// NewSQLiteDBFromConfig creates a new SQLite DB with the given configuration.
// Write transactions take the database lock at BEGIN, so concurrent workers queue on
// busy_timeout instead of failing on lock upgrade.
func NewSQLiteDBFromConfig(cfg config.DatabaseConfig) (*sql.DB, error) {
	foreignKeys := "off"
	if cfg.EnableForeignKeys {
		foreignKeys = "on"
	}

	connStr := fmt.Sprintf(
		"file:%s?_txlock=immediate&_foreign_keys=%s&_journal_mode=%s&_busy_timeout=%d",
		cfg.Path,
		foreignKeys,
		cfg.JournalMode,
		cfg.BusyTimeout,
	)

	database, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConnections)
	database.SetMaxIdleConns(cfg.MaxIdleConnections)

	pragmas := []string{
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.Synchronous),
		fmt.Sprintf("PRAGMA cache_size = %d", cfg.CacheSize),
	}

	for _, pragma := range pragmas {
		if _, err := database.Exec(pragma); err != nil {
			database.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	return database, nil
}

// NewPostgresDB opens a PostgreSQL pool through the pgx database/sql driver.
func NewPostgresDB(dsn string, cfg config.DatabaseConfig) (*sql.DB, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConnections)
	database.SetMaxIdleConns(cfg.MaxIdleConnections)

	if err := database.Ping(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	return database, nil
}
