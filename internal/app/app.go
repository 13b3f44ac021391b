// Package app wires every component into the running process and
// owns its startup/shutdown sequence (spec §4.8), following the
// teacher's pattern of one struct holding every long-lived dependency
// constructed once in a single place rather than scattered globals.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/fanwu/vessel-notifier/internal/adminhttp"
	"github.com/fanwu/vessel-notifier/internal/broadcast"
	"github.com/fanwu/vessel-notifier/internal/catalog"
	"github.com/fanwu/vessel-notifier/internal/database"
	"github.com/fanwu/vessel-notifier/internal/discovery"
	"github.com/fanwu/vessel-notifier/internal/notifier"
	"github.com/fanwu/vessel-notifier/internal/processor"
	"github.com/fanwu/vessel-notifier/internal/rulestate"
	"github.com/fanwu/vessel-notifier/internal/source"
	"github.com/fanwu/vessel-notifier/internal/statestore"
	"github.com/fanwu/vessel-notifier/pkg/config"
	"github.com/fanwu/vessel-notifier/pkg/metrics"
)

// Options controls a single run of the process, separate from the
// static Config (spec §6 "--reset", "--from-beginning" flags).
type Options struct {
	Reset         bool
	FromBeginning bool
}

// App owns every long-lived dependency and the goroutines driving
// them.
type App struct {
	cfg *config.Config
	log *logrus.Entry

	sqlDB *sql.DB
	db    *sqlx.DB
	rdb   *redis.Client
	bus   *broadcast.Bus

	store     *statestore.Store
	cat       *catalog.Catalog
	src       *source.Source
	proc      *processor.Processor
	admin     *adminhttp.Server
	statsCron *cron.Cron

	cancel context.CancelFunc
}

// New connects every backing store, runs migrations, and wires the
// processing pipeline, following spec §4.8's startup order: relational
// store, then state store and broadcast channel, then optional reset,
// then optional from-beginning, then C1, then the periodic stats
// publisher.
func New(ctx context.Context, cfg *config.Config, opts Options, log *logrus.Entry) (*App, error) {
	a := &App{cfg: cfg, log: log}

	sqlDB, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("app: ping database: %w", err)
	}
	a.sqlDB = sqlDB
	a.db = sqlx.NewDb(sqlDB, "postgres")

	if cfg.Database.MigrateOnStart {
		if err := database.Migrate(sqlDB); err != nil {
			a.closeStores()
			return nil, fmt.Errorf("app: migrate: %w", err)
		}
	}

	a.rdb = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		a.closeStores()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	a.store = statestore.New(a.rdb, cfg.Redis.TTL)

	bus, err := broadcast.New(cfg.Database.DSN, log)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("app: open broadcast: %w", err)
	}
	a.bus = bus

	sourceCfg := cfg.Source
	if opts.Reset {
		if err := a.resetState(ctx, &sourceCfg); err != nil {
			a.closeStores()
			return nil, fmt.Errorf("app: reset: %w", err)
		}
	}

	catRepo := catalog.NewRepository(a.db)
	a.cat = catalog.New(catRepo, log.WithField("component", "catalog"))

	ruleStates := rulestate.NewRepository(a.db)
	notifierRepo := notifier.NewRepository(a.db)
	sink := notifier.New(notifierRepo, a.bus, log.WithField("component", "notifier"))
	disc := discovery.New(a.store)

	a.proc = processor.New(a.cat, a.store, ruleStates, disc, sink, a.bus, log.WithField("component", "processor"))

	src, err := source.New(sourceCfg, opts.FromBeginning, log.WithField("component", "source"))
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("app: open source: %w", err)
	}
	a.src = src

	a.admin = adminhttp.New(adminhttp.Config{
		Addr:   fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		DB:     a.sqlDB,
		Redis:  a.rdb,
		Store:  a.store,
		Source: a.src,
		Log:    log.WithField("component", "adminhttp"),
	})

	return a, nil
}

// resetState implements spec §4.8's reset semantics: delete (or
// regenerate) the consumer group, purge per-entity state, and clear
// discovery sets. The Prometheus counters in pkg/metrics are not
// reset.
func (a *App) resetState(ctx context.Context, sourceCfg *config.SourceConfig) error {
	tmp, err := source.New(*sourceCfg, false, a.log)
	if err != nil {
		return fmt.Errorf("open source for reset: %w", err)
	}
	defer tmp.Close()

	newGroup, err := tmp.Reset(ctx)
	if err != nil {
		return fmt.Errorf("reset consumer group: %w", err)
	}
	sourceCfg.ConsumerGroup = newGroup
	sourceCfg.FromBeginning = true

	if err := a.store.PurgeEntityState(ctx); err != nil {
		return fmt.Errorf("purge entity state: %w", err)
	}
	if err := a.store.ResetDiscoverySets(ctx); err != nil {
		return fmt.Errorf("reset discovery sets: %w", err)
	}
	a.log.Info("app: reset complete, restarting from beginning")
	return nil
}

// Run starts the consumer loop, the catalog refresher, the periodic
// stats publisher, and the admin HTTP server, blocking until ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.cat.Start(runCtx, a.cfg.Catalog.RefreshInterval); err != nil {
		return fmt.Errorf("app: start catalog: %w", err)
	}

	a.statsCron = cron.New()
	spec := fmt.Sprintf("@every %s", a.cfg.Stats.PublishInterval)
	if _, err := a.statsCron.AddFunc(spec, func() { a.publishStats(runCtx) }); err != nil {
		return fmt.Errorf("app: schedule stats publish: %w", err)
	}
	a.statsCron.Start()

	go func() {
		if err := a.admin.ListenAndServe(); err != nil {
			a.log.WithError(err).Error("app: admin server failed")
		}
	}()

	sourceErr := make(chan error, 1)
	go func() {
		sourceErr <- a.src.Run(runCtx, a.proc.Process)
	}()

	select {
	case <-ctx.Done():
		<-sourceErr
	case err := <-sourceErr:
		if err != nil {
			a.log.WithError(err).Error("app: source run failed")
		}
	}
	return a.Shutdown(context.Background())
}

func (a *App) publishStats(ctx context.Context) {
	counts, err := a.store.DiscoveryCardinalities(ctx)
	if err != nil {
		a.log.WithError(err).Warn("app: failed to load discovery cardinalities for stats publish")
		return
	}
	metrics.SetDiscoveryCardinalities(counts)

	payload := broadcast.DiscoveryStatsPayload{Stats: counts, Timestamp: time.Now()}
	if err := a.bus.Publish(ctx, broadcast.ChannelDiscoveryStats, payload); err != nil {
		a.log.WithError(err).Warn("app: failed to publish discovery stats")
	}
}

// Shutdown stops the source first, then cron schedules, then the admin
// server, then closes broadcast, Redis, and Postgres in that order
// (spec §4.8). When called from Run, the source loop has already
// returned, so in-flight evaluations have drained.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.src != nil {
		a.src.Close()
	}
	if a.cat != nil {
		a.cat.Stop()
	}
	if a.statsCron != nil {
		<-a.statsCron.Stop().Done()
	}
	if a.admin != nil {
		_ = a.admin.Shutdown(ctx)
	}
	a.closeStores()
	return nil
}

func (a *App) closeStores() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.WithError(err).Warn("app: error closing broadcast")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.WithError(err).Warn("app: error closing redis")
		}
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			a.log.WithError(err).Warn("app: error closing database")
		}
	}
}

// Info proxies to the underlying source, for the --info CLI flag
// (spec §6).
func (a *App) Info(ctx context.Context) (source.Info, error) {
	return a.src.Info(ctx)
}
