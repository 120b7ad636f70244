package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"lexwrite/api/internal/logger"
)

const connectAttempts = 5

// Open connects through the pgx stdlib driver. The first ping is retried on
// a Fibonacci backoff while Postgres is still starting.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := pingWithRetry(ctx, db, connectAttempts, time.Second); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func pingWithRetry(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration) error {
	attempt := 0
	b := retry.WithMaxRetries(uint64(attempts-1), retry.NewFibonacci(backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := db.PingContext(ctx); err != nil {
			if attempt < attempts {
				logger.Log.Warn("database not ready, retrying",
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ping db: %w", err)
	}
	return nil
}
