package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/goran-ethernal/ChainProjector/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	UpDownSeparator     = "-- +migrate Up"
	downMarker          = "-- +migrate Down"
	pkReplacer          = "/*pk*/"
	NoLimitMigrations   = 0 // indicate that there is no limit on the number of migrations to run
	migrationDirections = 2
)

// primaryKeys is the auto-increment id column declaration per dialect.
var primaryKeys = map[string]string{
	SQLite.Name:   "INTEGER PRIMARY KEY AUTOINCREMENT",
	Postgres.Name: "BIGSERIAL PRIMARY KEY",
}

// Migration is one embedded schema file. Its SQL holds a Down section, the
// "-- +migrate Up" separator and an Up section; "/*pk*/" expands to the dialect's
// auto-increment primary key.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies all pending migrations.
func RunMigrations(log *logger.Logger, database *sql.DB, dialect Dialect, migrations []Migration) error {
	return RunMigrationsExtended(log, database, dialect, migrations, migrate.Up, NoLimitMigrations)
}

// RunMigrationsExtended applies at most maxMigrations migrations in direction dir.
// Pass NoLimitMigrations to apply all of them.
func RunMigrationsExtended(log *logger.Logger,
	database *sql.DB,
	dialect Dialect,
	migrations []Migration,
	dir migrate.MigrationDirection,
	maxMigrations int) error {
	source, err := buildSource(dialect, migrations)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(source.Migrations))
	for _, m := range source.Migrations {
		ids = append(ids, m.Id)
	}
	listMigrations := strings.Join(ids, ", ")

	log.Debugf("running migrations: (max %d/%d) migrations: %s", maxMigrations, len(ids), listMigrations)

	n, err := migrate.ExecMax(database, dialect.Name, source, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migration (max %d/%d) migrations: %s . Err: %w",
			maxMigrations, len(ids), listMigrations, err)
	}

	log.Infof("successfully ran %d migrations from migrations: %s", n, listMigrations)
	return nil
}

func buildSource(dialect Dialect, migrations []Migration) (*migrate.MemoryMigrationSource, error) {
	pk, ok := primaryKeys[dialect.Name]
	if !ok {
		return nil, fmt.Errorf("no migration support for dialect %s", dialect.Name)
	}

	source := &migrate.MemoryMigrationSource{Migrations: make([]*migrate.Migration, 0, len(migrations))}
	for _, m := range migrations {
		expanded := strings.ReplaceAll(m.SQL, pkReplacer, pk)
		parts := strings.Split(expanded, UpDownSeparator)
		if len(parts) < migrationDirections {
			return nil, fmt.Errorf("migration %s missing '%s' separator", m.ID, UpDownSeparator)
		}

		down := parts[0]
		if idx := strings.Index(down, downMarker); idx != -1 {
			down = down[idx+len(downMarker):]
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{strings.TrimSpace(parts[1])},
			Down: []string{strings.TrimSpace(down)},
		})
	}

	return source, nil
}
