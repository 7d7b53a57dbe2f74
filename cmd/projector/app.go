package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goran-ethernal/ChainProjector/internal/common"
	"github.com/goran-ethernal/ChainProjector/internal/db"
	"github.com/goran-ethernal/ChainProjector/internal/handlers"
	"github.com/goran-ethernal/ChainProjector/internal/indexer"
	"github.com/goran-ethernal/ChainProjector/internal/keylock"
	"github.com/goran-ethernal/ChainProjector/internal/logger"
	"github.com/goran-ethernal/ChainProjector/internal/metrics"
	inats "github.com/goran-ethernal/ChainProjector/internal/nats"
	"github.com/goran-ethernal/ChainProjector/internal/projection"
	iregistration "github.com/goran-ethernal/ChainProjector/internal/registration"
	"github.com/goran-ethernal/ChainProjector/internal/sideeffect"
	"github.com/goran-ethernal/ChainProjector/internal/source"
	pkgconfig "github.com/goran-ethernal/ChainProjector/pkg/config"
	"github.com/goran-ethernal/ChainProjector/pkg/registration"
)

const shutdownTimeout = 10 * time.Second

// app holds every long-lived component and the order they are closed in.
type app struct {
	cfg *pkgconfig.Config
	log *logger.Logger

	database    *sql.DB
	maintenance db.Maintenance
	store       *projection.Store
	sink        registration.Sink
	coordinator *indexer.Coordinator

	closers []func() error
}

// openStore connects to the configured database and brings its schema up to date.
func openStore(cfg *pkgconfig.Config) (*sql.DB, db.Dialect, error) {
	database, dialect, err := db.Open(cfg.Store)
	if err != nil {
		return nil, db.Dialect{}, fmt.Errorf("failed to open store: %w", err)
	}

	migLog := logger.NewComponentLoggerFromConfig(common.ComponentMigrations, cfg.Logging)
	if err := db.RunMigrations(migLog, database, dialect, handlers.Migrations()); err != nil {
		database.Close()
		return nil, db.Dialect{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, dialect, nil
}

// newApp wires the store, the registration sinks and, when withCoordinator is set,
// the chain sources and the coordinator.
func newApp(ctx context.Context, cfg *pkgconfig.Config, withCoordinator bool) (*app, error) {
	a := &app{
		cfg: cfg,
		log: logger.NewComponentLoggerFromConfig(common.ComponentCoordinator, cfg.Logging),
	}
	ready := false
	defer func() {
		if !ready {
			_ = a.Close()
		}
	}()

	database, dialect, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.database = database
	a.closers = append(a.closers, database.Close)

	a.maintenance = db.NewMaintenanceCoordinator(cfg.Store, a.database, cfg.Maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentMaintenance, cfg.Logging))

	locker, closeLocker, err := keylock.New(ctx, cfg.Lock,
		logger.NewComponentLoggerFromConfig(common.ComponentKeyLock, cfg.Logging))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeLocker)

	a.store, err = projection.NewStore(a.database, dialect, locker, a.maintenance,
		logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging),
		handlers.RetractableTables()...)
	if err != nil {
		return nil, err
	}

	regLog := logger.NewComponentLoggerFromConfig(common.ComponentRegistration, cfg.Logging)
	watch := iregistration.NewWatchSet(regLog)
	sinks := iregistration.MultiSink{watch}
	if cfg.Registration != nil && cfg.Registration.NATS != nil {
		client, err := inats.New(regLog, cfg.Registration.NATS, "chainprojector-registration")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		sinks = append(sinks, iregistration.NewPublisher(client, regLog))
	}
	a.sink = sinks

	if !withCoordinator {
		ready = true
		return a, nil
	}

	table, err := handlers.NewTable(cfg.Contracts)
	if err != nil {
		return nil, fmt.Errorf("invalid contracts configuration: %w", err)
	}

	srcLog := logger.NewComponentLoggerFromConfig(common.ComponentSource, cfg.Logging)
	var srcClient *inats.Client
	if cfg.Source.Type == pkgconfig.SourceNATS {
		srcClient, err = inats.New(srcLog, cfg.Source.NATS, "chainprojector-source")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, srcClient.Close)
	}
	sources, err := source.NewFactory(cfg.Source, srcClient, srcLog)
	if err != nil {
		return nil, err
	}

	sideEffects, err := a.sideEffects()
	if err != nil {
		return nil, err
	}

	a.coordinator, err = indexer.NewCoordinator(indexer.Options{
		Chains:    cfg.Chains,
		Contracts: cfg.Contracts,
		Retry:     cfg.Retry,
		Store:     a.store,
		Dispatcher: handlers.NewDispatcher(a.store, table,
			logger.NewComponentLoggerFromConfig(common.ComponentDispatcher, cfg.Logging)),
		Decoder:     table.Decoder(),
		Watch:       watch,
		Sink:        a.sink,
		Sources:     sources,
		SideEffects: sideEffects,
	}, a.log)
	if err != nil {
		return nil, err
	}

	ready = true
	return a, nil
}

// sideEffects connects the configured post-commit actions.
func (a *app) sideEffects() (map[handlers.Kind][]sideeffect.Handler, error) {
	effects := map[handlers.Kind][]sideeffect.Handler{}
	if a.cfg.SideEffects == nil || a.cfg.SideEffects.TransferNotifications == nil {
		return effects, nil
	}

	log := logger.NewComponentLoggerFromConfig(common.ComponentSideEffects, a.cfg.Logging)
	client, err := inats.New(log, a.cfg.SideEffects.TransferNotifications, "chainprojector-side-effects")
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)

	effects[handlers.KindERC721Transfer] = append(effects[handlers.KindERC721Transfer],
		sideeffect.NewTransferPublisher(client, log))
	return effects, nil
}

// Run starts the metrics server and background maintenance, then blocks in the coordinator.
func (a *app) Run(ctx context.Context) error {
	if a.cfg.Metrics != nil && a.cfg.Metrics.Enabled {
		server := metrics.NewServer(a.cfg.Metrics, a.log)
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Stop(stopCtx); err != nil {
				a.log.Warnf("Failed to stop metrics server: %v", err)
			}
		}()
		a.log.Infof("Metrics server started on %s%s", a.cfg.Metrics.ListenAddress, a.cfg.Metrics.Path)
	}

	if err := a.maintenance.Start(ctx); err != nil {
		return fmt.Errorf("failed to start maintenance: %w", err)
	}
	defer func() {
		if err := a.maintenance.Stop(); err != nil {
			a.log.Warnf("Failed to stop maintenance: %v", err)
		}
	}()

	return a.coordinator.Run(ctx)
}

// Close releases everything in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil

	if err := errors.Join(errs...); err != nil {
		a.log.Warnf("shutdown: %v", err)
		return err
	}
	return nil
}
