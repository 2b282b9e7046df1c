package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/m3rciful/dispatchbot/core/logger"
)

const (
	pingEvery   = 2 * time.Second
	pingTimeout = 5 * time.Second
)

// Connect opens the pool and pings the server until it answers, ctx ends or
// cfg.WaitSeconds pass.
func Connect(ctx context.Context, cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections)

	start := time.Now()
	attempts, err := waitReady(ctx, db, time.Duration(cfg.WaitSeconds)*time.Second, pingEvery)
	attrs := []slog.Attr{
		slog.String("host", cfg.Host),
		slog.String("db", cfg.Name),
		slog.Int("attempts", attempts),
		slog.Duration("duration", logger.Since(start)),
	}
	if err != nil {
		_ = db.Close()
		logger.Error(ctx, "db", "db.connect", append(attrs,
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)...)
		return nil, fmt.Errorf("database: %w", err)
	}
	logger.Info(ctx, "db", "db.connect", append(attrs,
		slog.String("status", "ok"),
		slog.Int("pool", cfg.MaxConnections),
	)...)
	return db, nil
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// waitReady returns the number of pings it made.
func waitReady(ctx context.Context, db pinger, wait, every time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for attempt := 1; ; attempt++ {
		pingCtx, stop := context.WithTimeout(ctx, pingTimeout)
		err := db.PingContext(pingCtx)
		stop()
		if err == nil {
			return attempt, nil
		}
		select {
		case <-ctx.Done():
			return attempt, fmt.Errorf("server not ready after %d attempts: %w", attempt, err)
		case <-time.After(every):
		}
	}
}
