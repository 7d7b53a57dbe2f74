// Package projectiontest builds SQLite-backed stores for handler and coordinator tests.
package projectiontest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/keylock"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/projection"
	"github.com/goran-ethernal/ChainProjector/internal/projection/migrations"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/stretchr/testify/require"
)

// Options tunes NewStore.
type Options struct {
	Locker      keylock.Locker
	Retractable []string
}

// NewStore opens a fresh SQLite database in t's temp dir, applies the store's own schema
// followed by extra, and returns the store and its connection.
func NewStore(t *testing.T, opts Options, extra ...db.Migration) (*projection.Store, *sql.DB) {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "projection.db")}
	cfg.ApplyDefaults()

	database, err := db.NewSQLiteDBFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	log := logger.NewNopLogger()
	require.NoError(t, db.RunMigrations(log, database, db.SQLite, append(migrations.Migrations(), extra...)))

	locker := opts.Locker
	if locker == nil {
		locker = keylock.NewLocal(log)
	}

	store, err := projection.NewStore(database, db.SQLite, locker, nil, log, opts.Retractable...)
	require.NoError(t, err)

	return store, database
}
