package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/amirphl/company-segments/app/events"
	"github.com/amirphl/company-segments/app/filters"
	"github.com/amirphl/company-segments/app/locks"
	"github.com/amirphl/company-segments/app/logger"
	"github.com/amirphl/company-segments/app/segments"
	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/amirphl/company-segments/config"
	"github.com/amirphl/company-segments/repository"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// App holds the wired dependencies shared by every command
type App struct {
	Config *config.AppConfig
	DB     *gorm.DB
	Redis  *redis.Client
	Log    *logger.Logger

	Segments   repository.SegmentRepository
	Companies  repository.CompanyRepository
	Members    repository.SegmentMemberRepository
	Events     *events.Dispatcher
	Locker     locks.Locker
	Reconciler *segments.MembershipReconciler

	closers []func() error
}

// AppFactory builds the App for a command invocation
type AppFactory func(ctx context.Context) (*App, error)

// DefaultAppFactory loads configuration from the environment and opens every backend
func DefaultAppFactory(ctx context.Context) (*App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	return NewApp(ctx, cfg)
}

// NewApp opens the database and, when enabled, redis, then wires the engine
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	log := newLogger(cfg.Logging)

	db, err := openDatabase(cfg.Database, log)
	if err != nil {
		return nil, err
	}

	var rc *redis.Client
	if cfg.Cache.Enabled {
		rc, err = openRedis(ctx, cfg.Cache)
		if err != nil {
			closeDB(db)
			return nil, err
		}
	}

	app := Assemble(cfg, db, rc, log)
	app.closers = append(app.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if rc != nil {
		app.closers = append(app.closers, rc.Close)
	}
	return app, nil
}

// Assemble wires repositories, the reconciler and observers over already opened backends.
// rc may be nil, in which case locks are process local and no events are published.
func Assemble(cfg *config.AppConfig, db *gorm.DB, rc *redis.Client, log *logger.Logger) *App {
	if log == nil {
		log = logger.Nop()
	}

	segmentRepo := repository.NewSegmentRepository(db)
	companyRepo := repository.NewCompanyRepository(db)
	memberRepo := repository.NewSegmentMemberRepository(db)

	dispatcher := events.NewDispatcher(log, events.LogObserver(log), events.MetricsObserver())
	var locker locks.Locker = locks.NewMemoryLocker()
	if rc != nil {
		dispatcher.Add(events.NewRedisPublisher(rc, cfg.Cache.EventsChannel))
		locker = locks.NewRedisLocker(rc, cfg.Cache.RedisPrefix+"lock:", cfg.Cache.LockTTL)
	}

	compiler := segments.NewPredicateCompiler(
		segmentRepo,
		filters.NewCompanyRegistry(),
		filters.Dialect(cfg.Database.Driver),
	)
	reconciler := segments.NewMembershipReconciler(db, memberRepo, compiler, dispatcher, log)

	return &App{
		Config:     cfg,
		DB:         db,
		Redis:      rc,
		Log:        log,
		Segments:   segmentRepo,
		Companies:  companyRepo,
		Members:    memberRepo,
		Events:     dispatcher,
		Locker:     locker,
		Reconciler: reconciler,
	}
}

// RebuildFlow builds the rebuild flow with the configured write rate
func (a *App) RebuildFlow() businessflow.SegmentRebuildFlow {
	return businessflow.NewSegmentRebuildFlow(
		a.Segments,
		a.Reconciler,
		a.Locker,
		a.Log,
		businessflow.WithWriteRate(a.Config.Rebuild.WriteRate),
	)
}

func (a *App) MembershipFlow() businessflow.SegmentMembershipFlow {
	return businessflow.NewSegmentMembershipFlow(a.DB, a.Segments, a.Companies, a.Members, a.Events, a.Log)
}

func (a *App) ExportFlow() businessflow.SegmentExportFlow {
	return businessflow.NewSegmentExportFlow(a.Segments, a.Members)
}

func (a *App) SegmentFlow() businessflow.SegmentFlow {
	return businessflow.NewSegmentFlow(a.Segments)
}

// Close releases the backends opened by NewApp
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newLogger(cfg config.LoggingConfig) *logger.Logger {
	lc := logger.Config{
		Level:      cfg.Level,
		Pretty:     cfg.Format == "console",
		Output:     os.Stderr,
		WithCaller: cfg.EnableCaller,
	}
	if cfg.Output == "file" || cfg.Output == "both" {
		lc.File = &logger.FileConfig{
			Path:       cfg.FilePath,
			MaxSizeMB:  cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAgeDays: cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		lc.Stdout = cfg.Output == "both"
	}
	return logger.NewLogger(lc)
}

// openDatabase initializes the database connection with connection pooling
func openDatabase(cfg config.DatabaseConfig, log *logger.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath + "?_foreign_keys=1")
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  log.Gorm(cfg.SlowQueryTime),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CACHE_REDIS_URL: %w", err)
	}
	opts.DB = cfg.RedisDB

	rc := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rc, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
