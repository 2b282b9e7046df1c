// Package sender delivers bot replies from a small worker pool so command
// handlers never wait on the Telegram API.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("sender: queue closed")
	// ErrFull is returned by Enqueue when every slot is taken.
	ErrFull = errors.New("sender: queue full")

	botToken = regexp.MustCompile(`\d{6,}:[\w-]{30,}`)
)

// Options sizes the queue. Zero values select the defaults.
type Options struct {
	// Size is the number of pending sends; 128.
	Size int
	// Workers send in parallel; 2.
	Workers int
	// Attempts per send including the first; 3.
	Attempts int
	// Backoff is multiplied by the attempt number between retries; 500ms.
	Backoff time.Duration
	// MaxWait caps a flood-control wait requested by Telegram; 30s.
	MaxWait time.Duration
}

type job struct {
	ctx    context.Context
	action string
	send   func() error
}

// Queue runs sends on background workers and retries the ones Telegram may accept later.
type Queue struct {
	opts Options

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

// New starts the workers.
func New(opts Options) *Queue {
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 30 * time.Second
	}
	q := &Queue{opts: opts, jobs: make(chan job, opts.Size)}
	q.wg.Add(opts.Workers)
	for range opts.Workers {
		go q.work()
	}
	return q
}

// Enqueue schedules send. It never blocks: a full queue returns ErrFull and the
// caller decides whether to send inline.
func (q *Queue) Enqueue(ctx context.Context, action string, send func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job{ctx: context.WithoutCancel(ctx), action: action, send: send}:
		return nil
	default:
		return ErrFull
	}
}

// Close rejects new sends and waits until the pending ones are delivered or given up.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) work() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.deliver(j)
	}
}

func (q *Queue) deliver(j job) {
	start := time.Now()
	var err error
	for attempt := 1; attempt <= q.opts.Attempts; attempt++ {
		if err = j.send(); err == nil {
			if attempt > 1 {
				logger.Info(j.ctx, "tg.sender", "send.recovered",
					slog.String("action", j.action),
					slog.Int("attempts", attempt),
					slog.Duration("duration", logger.Since(start)),
				)
			}
			return
		}
		wait, retry := q.retryAfter(err, attempt)
		if !retry || attempt == q.opts.Attempts {
			break
		}
		logger.Debug(j.ctx, "tg.sender", "send.retry",
			slog.String("action", j.action),
			slog.Int("attempt", attempt),
			slog.Duration("wait", wait),
			slog.String("err", redact(err)),
		)
		time.Sleep(wait)
	}
	logger.Error(j.ctx, "tg.sender", "send.fail",
		slog.String("status", "fail"),
		slog.String("action", j.action),
		slog.String("err", redact(err)),
		slog.Duration("duration", logger.Since(start)),
	)
}

// retryAfter reports whether err is worth another attempt and how long to wait first.
// Flood control carries its own delay; server errors and network timeouts back off linearly.
func (q *Queue) retryAfter(err error, attempt int) (time.Duration, bool) {
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return min(time.Duration(flood.RetryAfter)*time.Second, q.opts.MaxWait), true
	}
	backoff := q.opts.Backoff * time.Duration(attempt)
	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return backoff, apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return backoff, true
	}
	return 0, false
}

func redact(err error) string {
	return logger.Truncate(botToken.ReplaceAllString(err.Error(), "<token>"), 256)
}
