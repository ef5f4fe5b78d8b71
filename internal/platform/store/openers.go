package store

import (
	"context"
	"fmt"
	"time"

	"paydisco/internal/platform/store/pg"
	"paydisco/internal/platform/store/sqlite"

	"github.com/redis/go-redis/v9"
)

var sleep = time.Sleep

const (
	pingAttempts   = 8
	pingTimeout    = 3 * time.Second
	backoffStart   = 150 * time.Millisecond
	backoffCeiling = 2 * time.Second
)

// pingWithBackoff retries ping until it succeeds, ctx ends or attempts run out
func pingWithBackoff(ctx context.Context, ping func(context.Context) error) error {
	var lastErr error
	backoff := backoffStart
	for i := 0; i < pingAttempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = ping(toCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sleep(backoff)
		backoff = min(backoff*2, backoffCeiling)
	}
	return fmt.Errorf("ping failed after %d attempts: %w", pingAttempts, lastErr)
}

func openPG(ctx context.Context, cfg PGConfig, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.LogSQL {
		tracer = pg.Tracer(s.Log)
	}
	p, err := pg.Open(ctx, pg.Config{URL: cfg.URL, MaxConns: cfg.MaxConns, SlowMs: cfg.SlowQueryMs}, tracer)
	if err != nil {
		return nil, err
	}
	if err := pingWithBackoff(ctx, p.Pool.Ping); err != nil {
		p.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return newPGAdapter(p), nil
}

func openSQLite(ctx context.Context, cfg SQLiteConfig) (TxRunner, error) {
	db, err := sqlite.Open(ctx, sqlite.Config{Path: cfg.Path, BusyTimeout: cfg.BusyTimeout})
	if err != nil {
		return nil, err
	}
	return NewSQLAdapter(db), nil
}

func openRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := pingWithBackoff(ctx, func(c context.Context) error { return rc.Ping(c).Err() }); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}
