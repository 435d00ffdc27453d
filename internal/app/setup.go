package app

import (
	"context"
	"fmt"

	"github.com/mselser95/parimutuel/internal/archive"
	"github.com/mselser95/parimutuel/internal/custody"
	"github.com/mselser95/parimutuel/internal/lock"
	"github.com/mselser95/parimutuel/internal/market"
	"github.com/mselser95/parimutuel/internal/storage"
	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/mselser95/parimutuel/pkg/cache"
	"github.com/mselser95/parimutuel/pkg/clock"
	"github.com/mselser95/parimutuel/pkg/config"
	"github.com/mselser95/parimutuel/pkg/events"
	"github.com/mselser95/parimutuel/pkg/healthprobe"
	"github.com/mselser95/parimutuel/pkg/httpserver"
	"go.uber.org/zap"
)

// New creates a new application instance. Every external dependency is
// connected here, so a misconfigured backend fails start-up rather than the
// first request.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithCancel(context.Background())

	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: setupHealthChecker(),
		ctx:           appCtx,
		cancel:        cancel,
	}

	err := a.setup(ctx)
	if err != nil {
		a.closeAll()
		cancel()
		return nil, err
	}
	return a, nil
}

func (a *App) setup(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	store, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}
	a.store = store
	a.onClose("storage", store.Close)
	if pinger, ok := store.(interface{ Ping(context.Context) error }); ok {
		a.healthChecker.AddCheck("storage", pinger.Ping)
	}

	locker, err := setupLocker(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup locker: %w", err)
	}
	if rl, ok := locker.(*lock.RedisLocker); ok {
		a.onClose("redis-locker", rl.Close)
		a.healthChecker.AddCheck("redis", rl.Ping)
	}

	snapshots, err := setupCache(cfg, logger)
	if err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}
	a.onClose("market-cache", snapshots.Close)

	archiver, err := setupArchiver(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup archiver: %w", err)
	}

	a.ledger = setupLedger(cfg, logger)

	a.hub = events.New(events.Config{
		MessageBufferSize: cfg.WSMessageBufferSize,
		Logger:            logger,
	})
	a.onClose("event-hub", func() error {
		a.hub.Close()
		return nil
	})

	a.controller, err = market.New(&market.Config{
		Store:     store,
		Ledger:    a.ledger,
		Locker:    locker,
		Clock:     clock.System{},
		Cache:     snapshots,
		Archiver:  archiver,
		Publisher: a.hub,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("setup market controller: %w", err)
	}

	a.httpServer = httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: a.healthChecker,
		Markets:       a.controller,
		Ledger:        a.ledger,
		Verifier:      setupVerifier(cfg),
		Events:        a.hub,
	})

	return nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, error) {
	switch cfg.StorageMode {
	case "postgres":
		pgStore, err := storage.NewPostgresStore(ctx, &storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStore, nil
	case "sqlite":
		sqliteStore, err := storage.NewSQLiteStore(ctx, &storage.SQLiteConfig{
			Path:   cfg.SQLitePath,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return sqliteStore, nil
	}

	logger.Warn("using-memory-storage", zap.String("reason", "markets are lost on restart"))
	return storage.NewMemoryStore(logger), nil
}

func setupLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lock.Locker, error) {
	if cfg.LockMode != "redis" {
		return lock.NewLocalLocker(), nil
	}
	return lock.NewRedisLocker(ctx, lock.RedisConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		TTL:         cfg.LockTTL,
		WaitTimeout: cfg.LockWaitTimeout,
		Logger:      logger,
	})
}

func setupCache(cfg *config.Config, logger *zap.Logger) (*cache.SnapshotCache, error) {
	if cfg.CacheTTL == 0 {
		return nil, nil
	}
	rc, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:    "markets",
		MaxCost: cfg.CacheMaxCost,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}
	return cache.NewSnapshotCache(rc, cfg.CacheTTL), nil
}

func setupArchiver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (archive.Archiver, error) {
	switch cfg.ArchiveMode {
	case "file":
		return archive.NewFileArchiver(cfg.ArchivePath, logger)
	case "s3":
		return archive.NewS3Archiver(ctx, archive.S3Config{
			Endpoint:       cfg.S3Endpoint,
			Region:         cfg.S3Region,
			Bucket:         cfg.S3Bucket,
			Prefix:         cfg.S3Prefix,
			AccessKey:      cfg.S3AccessKey,
			SecretKey:      cfg.S3SecretKey,
			UseSSL:         cfg.S3UseSSL,
			ForcePathStyle: cfg.S3ForcePathStyle,
			Logger:         logger,
		})
	}
	return nil, nil
}

func setupLedger(_ *config.Config, logger *zap.Logger) custody.Ledger {
	// Paper is the only custody mode; Validate rejects anything else.
	return custody.NewPaperLedger(logger)
}

func setupVerifier(cfg *config.Config) auth.Verifier {
	if cfg.AuthMode == "header" {
		return auth.HeaderVerifier{}
	}
	return auth.NewSignatureVerifier(cfg.AuthMaxSkew, clock.System{})
}
