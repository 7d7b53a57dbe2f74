package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
)

// Maintenance coordinates SQLite housekeeping with the projection writers.
type Maintenance interface {
	// Start begins background maintenance if enabled.
	Start(ctx context.Context) error
	// Stop stops background maintenance and waits for completion.
	Stop() error
	// AcquireOperationLock is taken around every event transaction. The returned
	// function releases it.
	AcquireOperationLock() func()
	// RunMaintenance checkpoints the WAL and vacuums, excluding all writers meanwhile.
	RunMaintenance(ctx context.Context) error
}

// NoOpMaintenance is used for PostgreSQL and when maintenance is not configured.
type NoOpMaintenance struct{}

func (NoOpMaintenance) Start(context.Context) error          { return nil }
func (NoOpMaintenance) Stop() error                          { return nil }
func (NoOpMaintenance) AcquireOperationLock() func()         { return func() {} }
func (NoOpMaintenance) RunMaintenance(context.Context) error { return nil }

// MaintenanceCoordinator runs WAL checkpoints and VACUUM on a SQLite store.
// Writers hold the read side of opLock, maintenance holds the write side.
type MaintenanceCoordinator struct {
	db     *sql.DB
	dbPath string
	cfg    config.MaintenanceConfig
	log    *logger.Logger

	opLock sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runs    uint64
	lastRun time.Time
	lastErr error
}

// NewMaintenanceCoordinator returns a no-op for non-SQLite stores or a nil cfg.
func NewMaintenanceCoordinator(
	store config.StoreConfig,
	database *sql.DB,
	cfg *config.MaintenanceConfig,
	log *logger.Logger,
) Maintenance {
	if cfg == nil || store.Driver != config.DriverSQLite {
		return NoOpMaintenance{}
	}

	return newMaintenanceCoordinator(store.DB.Path, database, *cfg, log)
}

func newMaintenanceCoordinator(
	dbPath string,
	database *sql.DB,
	cfg config.MaintenanceConfig,
	log *logger.Logger,
) *MaintenanceCoordinator {
	return &MaintenanceCoordinator{
		db:     database,
		dbPath: dbPath,
		cfg:    cfg,
		log:    log,
	}
}

// Start begins background maintenance if enabled.
func (m *MaintenanceCoordinator) Start(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.log.Info("background maintenance is disabled")
		return nil
	}

	ctx, m.cancel = context.WithCancel(ctx)

	if m.cfg.VacuumOnStartup {
		if err := m.RunMaintenance(ctx); err != nil {
			m.log.Warnf("startup maintenance failed: %v", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RunMaintenance(ctx); err != nil {
					m.log.Warnf("periodic maintenance failed: %v", err)
				}
			}
		}
	}()

	m.log.Infof("background maintenance started - interval: %v, checkpoint mode: %s",
		m.cfg.CheckInterval.Duration, m.cfg.WALCheckpointMode)
	return nil
}

// Stop stops background maintenance and waits for completion.
func (m *MaintenanceCoordinator) Stop() error {
	if m.cancel == nil {
		return nil
	}

	m.cancel()
	m.wg.Wait()
	return nil
}

// AcquireOperationLock takes the shared side of the operation lock.
func (m *MaintenanceCoordinator) AcquireOperationLock() func() {
	m.opLock.RLock()
	return m.opLock.RUnlock
}

// RunMaintenance performs a WAL checkpoint followed by VACUUM.
func (m *MaintenanceCoordinator) RunMaintenance(ctx context.Context) error {
	start := time.Now()

	m.opLock.Lock()
	defer m.opLock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	before, _ := DBTotalSize(m.dbPath)

	var runErr error
	if err := m.walCheckpoint(ctx); err != nil {
		runErr = fmt.Errorf("WAL checkpoint failed: %w", err)
	}
	if err := Vacuum(m.db); err != nil {
		runErr = errors.Join(runErr, err)
	}

	after, err := DBTotalSize(m.dbPath)
	if err == nil {
		dbSizeLog(after)
	}

	m.mu.Lock()
	m.runs++
	m.lastRun = time.Now().UTC()
	m.lastErr = runErr
	m.mu.Unlock()

	maintenanceDone(time.Since(start), runErr)

	if runErr != nil {
		return runErr
	}

	if before > after {
		m.log.Infof("maintenance reclaimed %d MB in %v", common.BytesToMB(uint64(before-after)), time.Since(start))
	}
	return nil
}

// Runs reports how many maintenance runs completed and the last outcome.
func (m *MaintenanceCoordinator) Runs() (uint64, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs, m.lastRun, m.lastErr
}

func (m *MaintenanceCoordinator) walCheckpoint(ctx context.Context) error {
	var mode string
	if err := m.db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		return err
	}
	if !strings.EqualFold(mode, "wal") {
		return nil
	}

	var busy, logFrames, checkpointed int
	query := fmt.Sprintf("PRAGMA wal_checkpoint(%s)", m.cfg.WALCheckpointMode)
	if err := m.db.QueryRowContext(ctx, query).Scan(&busy, &logFrames, &checkpointed); err != nil {
		return err
	}

	walCheckpointInc(strings.ToLower(m.cfg.WALCheckpointMode))
	if busy > 0 {
		m.log.Warnf("WAL checkpoint left %d busy pages", busy)
	}
	return nil
}

// Vacuum rebuilds the database file to reclaim free pages.
func Vacuum(database *sql.DB) error {
	if _, err := database.Exec("VACUUM"); err != nil {
		if strings.Contains(err.Error(), "database is locked") {
			return fmt.Errorf("cannot vacuum: database is locked (retry later)")
		}
		return fmt.Errorf("vacuum failed: %w", err)
	}
	return nil
}

// DBTotalSize sums the sizes of the SQLite file and its -wal and -shm companions.
// Missing files count as zero.
func DBTotalSize(dbPath string) (int64, error) {
	var total int64
	for _, path := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
