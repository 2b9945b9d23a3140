package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/gmtcc/insight/internal/config"
	"github.com/gmtcc/insight/internal/domain/journey"
	"github.com/gmtcc/insight/internal/platform/db"
)

// app owns the journey store and the connections behind it.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *journey.Store

	pool   *pgxpool.Pool
	redis  *goredis.Client
	sqlite *gorm.DB

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.RedisURL != "" {
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		a.redis = goredis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = a.redis.Close() })
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Msg("connected to redis")
	}

	repo, err := a.openRepository(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := journey.ParsePolicy(cfg.Policy)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = journey.NewStore(repo,
		journey.WithPolicy(policy),
		journey.WithLogger(logger.With().Str("component", "journey").Logger()),
		journey.WithLocation(cfg.Location()),
	)
	return a, nil
}

func (a *app) openRepository(ctx context.Context) (journey.Repository, error) {
	cfg := a.cfg
	switch cfg.StorageDriver {
	case "memory":
		return journey.NewMemoryRepository(), nil
	case "file":
		return journey.NewFileRepository(cfg.StateFile), nil
	case "postgres":
		pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)
		a.logger.Info().Msg("connected to database")
		n, err := db.NewMigrator(pool, db.Migrations, "migrations", "").Up(ctx)
		if err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		if n > 0 {
			a.logger.Info().Int("applied", n).Msg("database migrations applied")
		}
		return journey.NewPGRepository(pool, cfg.StorageKey), nil
	case "redis":
		if a.redis == nil {
			return nil, fmt.Errorf("storage driver redis needs REDIS_URL")
		}
		return journey.NewRedisRepository(a.redis, cfg.StorageKey), nil
	case "sqlite":
		gdb, err := journey.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.sqlite = gdb
		a.closers = append(a.closers, func() {
			if sqlDB, err := gdb.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
		return journey.NewSQLiteRepository(gdb, cfg.StorageKey), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
}

// storagePinger returns the health check for the configured backend, or nil
// when the state lives in process or on local disk.
func (a *app) storagePinger() db.Pinger {
	switch {
	case a.pool != nil:
		return a.pool
	case a.cfg.StorageDriver == "redis" && a.redis != nil:
		return redisPinger{a.redis}
	case a.sqlite != nil:
		return sqlitePinger{a.sqlite}
	}
	return nil
}

type redisPinger struct{ c goredis.UniversalClient }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

type sqlitePinger struct{ db *gorm.DB }

func (p sqlitePinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
