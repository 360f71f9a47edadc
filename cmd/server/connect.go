package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"evolution-relay/internal/adapters/repository"
	"evolution-relay/internal/config"
)

// connectDB attempts to connect to the database with retry logic.
// Containers may still be initializing when the relay starts.
func connectDB(ctx context.Context, cfg config.DBConfig, maxRetries int, retryDelay time.Duration) (*sqlx.DB, error) {
	dsn := cfg.GetDSN()

	var err error
	for i := 1; i <= maxRetries; i++ {
		var db *sqlx.DB
		db, err = repository.Open(ctx, cfg.Driver, dsn)
		if err == nil {
			return db, nil
		}

		slog.Warn("Cannot reach database",
			"attempt", i,
			"max_retries", maxRetries,
			"driver", cfg.Driver,
			"error", err,
		)
		if i < maxRetries {
			if err := sleepCtx(ctx, retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("connect database after %d attempts: %w", maxRetries, err)
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(ctx context.Context, cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var err error
	for i := 1; i <= maxRetries; i++ {
		err = rdb.Ping(ctx).Err()
		if err == nil {
			return rdb, nil
		}

		slog.Warn("Cannot ping Redis", "attempt", i, "max_retries", maxRetries, "error", err)
		if i < maxRetries {
			if err := sleepCtx(ctx, retryDelay); err != nil {
				_ = rdb.Close()
				return nil, err
			}
		}
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("connect redis after %d attempts: %w", maxRetries, err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
