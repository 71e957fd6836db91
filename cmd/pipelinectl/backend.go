package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/velmie/pipeline-outbox"
	"github.com/velmie/pipeline-outbox/internal/config"
	"github.com/velmie/pipeline-outbox/internal/sqlstore"
	"github.com/velmie/pipeline-outbox/mysql"
	"github.com/velmie/pipeline-outbox/postgres"
	"github.com/velmie/pipeline-outbox/rediscache"
	"github.com/velmie/pipeline-outbox/retrylearn"
	"github.com/velmie/pipeline-outbox/sourcepattern"
	"github.com/velmie/pipeline-outbox/sqlite"
)

const cleanupLockPrefix = "outbox:cleanup:"

// backend bundles the stores of the configured database.
type backend struct {
	db           *sql.DB
	store        outbox.Store
	table        string
	observations retrylearn.ObservationLog
	pruneLog     func(ctx context.Context, before time.Time) (int64, error)
	patterns     sourcepattern.Store
	locker       outbox.Locker
	migrate      func(ctx context.Context) (string, error)
}

func (b *backend) Close() error {
	return b.db.Close()
}

func storeOptions(cfg *config.Config) []sqlstore.Option {
	t := cfg.Database.Tables
	opts := []sqlstore.Option{sqlstore.WithTables(sqlstore.Tables{
		Events:       t.Events,
		Observations: t.Observations,
		Patterns:     t.Patterns,
	})}
	if cfg.Cleanup.Limit > 0 {
		opts = append(opts, sqlstore.WithCleanupLimit(cfg.Cleanup.Limit))
	}

	return opts
}

func defaultTables(cfg *config.Config) bool {
	t := cfg.Database.Tables
	d := sqlstore.DefaultTables()

	return (t.Events == "" || t.Events == d.Events) &&
		(t.Observations == "" || t.Observations == d.Observations) &&
		(t.Patterns == "" || t.Patterns == d.Patterns)
}

func schemaFor(cfg *config.Config) (string, error) {
	opts := storeOptions(cfg)
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		return mysql.Schema(opts...)
	case config.DriverPostgres:
		return postgres.Schema(opts...)
	default:
		return sqlite.Schema(opts...)
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger outbox.Logger) (*backend, error) {
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		return openMySQL(ctx, cfg, logger)
	case config.DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return openSQLite(cfg)
	}
}

func openSQLite(cfg *config.Config) (*backend, error) {
	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	opts := storeOptions(cfg)

	store, err := sqlite.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	log, err := sqlite.NewObservationLog(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	patterns, err := sqlite.NewPatternStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &backend{
		db:           db,
		store:        store,
		table:        store.Table(),
		observations: log,
		pruneLog:     log.Prune,
		patterns:     patterns,
		migrate: func(ctx context.Context) (string, error) {
			return "tables ensured", sqlite.Migrate(ctx, db, opts...)
		},
	}, nil
}

func openMySQL(ctx context.Context, cfg *config.Config, logger outbox.Logger) (*backend, error) {
	db, err := sql.Open("mysql", cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	opts := storeOptions(cfg)

	store, err := mysql.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	log, err := mysql.NewObservationLog(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	patterns, err := mysql.NewPatternStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	locker, err := mysql.NewLocker(db, logger)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &backend{
		db:           db,
		store:        store,
		table:        store.Table(),
		observations: log,
		pruneLog:     log.Prune,
		patterns:     patterns,
		locker:       locker,
		migrate: func(ctx context.Context) (string, error) {
			return "tables ensured", mysql.Migrate(ctx, db, opts...)
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg *config.Config, logger outbox.Logger) (*backend, error) {
	db, err := postgres.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	opts := storeOptions(cfg)

	store, err := postgres.NewStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	log, err := postgres.NewObservationLog(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	patterns, err := postgres.NewPatternStore(db, opts...)
	if err != nil {
		_ = db.Close()

		return nil, err
	}
	locker, err := postgres.NewLocker(db, logger)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	versioned := defaultTables(cfg)

	return &backend{
		db:           db,
		store:        store,
		table:        store.Table(),
		observations: log,
		pruneLog:     log.Prune,
		patterns:     patterns,
		locker:       locker,
		migrate: func(ctx context.Context) (string, error) {
			if !versioned {
				return "tables ensured", postgres.Migrate(ctx, db, opts...)
			}
			version, err := postgres.MigrateVersioned(db)
			if err != nil {
				return "", err
			}

			return fmt.Sprintf("schema version %d", version), nil
		},
	}, nil
}

// newLearner builds the cooldown learner, sharing its snapshot through Redis when enabled.
func newLearner(cfg *config.Config, b *backend, logger outbox.Logger) (*retrylearn.Learner, func(), error) {
	lc := retrylearn.Config{
		Window:   cfg.Learner.Window,
		CacheTTL: cfg.Learner.CacheTTL,
		Logger:   logger,
	}
	closeFn := func() {}

	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		cache, err := rediscache.New(client, rediscache.WithKey(cfg.Redis.Key), rediscache.WithTTL(cfg.Redis.TTL))
		if err != nil {
			_ = client.Close()

			return nil, nil, err
		}
		lc.Cache = cache
		closeFn = func() { _ = client.Close() }
	}

	return retrylearn.NewLearner(b.observations, lc), closeFn, nil
}

func newAnalyzer(cfg *config.Config, b *backend, logger outbox.Logger) (*sourcepattern.Analyzer, error) {
	loc := time.UTC
	if cfg.Patterns.Location != "" {
		l, err := time.LoadLocation(cfg.Patterns.Location)
		if err != nil {
			return nil, fmt.Errorf("load location %q: %w", cfg.Patterns.Location, err)
		}
		loc = l
	}

	return sourcepattern.NewAnalyzer(b.patterns,
		sourcepattern.WithLogger(logger),
		sourcepattern.WithFallbackDelay(cfg.Patterns.FallbackDelay),
		sourcepattern.WithLocation(loc),
	), nil
}

func newCleanupMaintainer(cfg *config.Config, b *backend, logger outbox.Logger) (*outbox.CleanupMaintainer, error) {
	return outbox.NewCleanupMaintainer(b.store, outbox.CleanupMaintainerConfig{
		Retention:     cfg.Cleanup.Retention,
		CheckEvery:    cfg.Cleanup.CheckEvery,
		Limit:         cfg.Cleanup.Limit,
		IncludeFailed: cfg.Cleanup.IncludeFailed,
		Locker:        b.locker,
		LockName:      cleanupLockPrefix + b.table,
		Logger:        logger,
	})
}

func (a *app) openBackend(ctx context.Context) (*backend, error) {
	b, err := openBackend(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", a.cfg.Database.Driver, err)
	}

	return b, nil
}
