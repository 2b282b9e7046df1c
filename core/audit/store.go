// Package audit persists command lifecycle events and summarizes command usage.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/dispatchbot/core/events"
)

// Record is one row of the dispatch_events journal.
type Record struct {
	ID         int64     `db:"id"`
	Kind       string    `db:"kind"`
	Command    string    `db:"command"`
	Callname   string    `db:"callname"`
	UserID     int64     `db:"user_id"`
	ChatID     int64     `db:"chat_id"`
	ChatType   string    `db:"chat_type"`
	Error      string    `db:"error"`
	OccurredAt time.Time `db:"occurred_at"`
}

// Usage aggregates journal rows for one command.
type Usage struct {
	Command  string `db:"command"`
	Executed int64  `db:"executed"`
	Failed   int64  `db:"failed"`
	Rejected int64  `db:"rejected"`
}

// Store persists and queries journal records.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	Usage(ctx context.Context, since time.Time, limit int) ([]Usage, error)
}

// PostgresStore is the sqlx-backed Store. The schema lives in migrations/.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const insertRecord = `
INSERT INTO dispatch_events (kind, command, callname, user_id, chat_id, chat_type, error, occurred_at)
VALUES (:kind, :command, :callname, :user_id, :chat_id, :chat_type, :error, :occurred_at)`

// Insert appends rec to the journal.
func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	if _, err := s.db.NamedExecContext(ctx, insertRecord, rec); err != nil {
		return fmt.Errorf("audit: insert %s: %w", rec.Kind, err)
	}
	return nil
}

const selectUsage = `
SELECT command,
       COUNT(*) FILTER (WHERE kind = $1) AS executed,
       COUNT(*) FILTER (WHERE kind = $2) AS failed,
       COUNT(*) FILTER (WHERE kind NOT IN ($1, $2)) AS rejected
FROM dispatch_events
WHERE occurred_at >= $3 AND command <> ''
GROUP BY command
ORDER BY executed DESC, command
LIMIT $4`

// Usage returns per-command counters for events at or after since, busiest first.
func (s *PostgresStore) Usage(ctx context.Context, since time.Time, limit int) ([]Usage, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Usage
	err := s.db.SelectContext(ctx, &out, selectUsage,
		string(events.CommandExecuted), string(events.CommandFailed), since, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: usage: %w", err)
	}
	return out, nil
}
