package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/dispatchbot/core/events"
	"github.com/m3rciful/dispatchbot/core/logger"
)

// ErrRecorderClosed is returned for events arriving after Close.
var ErrRecorderClosed = errors.New("audit: recorder closed")

// RecorderOptions tunes the asynchronous writer.
type RecorderOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// Recorder is a bus listener that writes events to a Store off the publish path.
type Recorder struct {
	store   Store
	opts    RecorderOptions
	queue   chan Record
	mu      sync.RWMutex
	closed  bool
	once    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder starts the writer goroutine.
func NewRecorder(store Store, opts RecorderOptions) *Recorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 512
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}
	r := &Recorder{
		store: store,
		opts:  opts,
		queue: make(chan Record, opts.QueueSize),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Attach subscribes the recorder to every event kind.
func (r *Recorder) Attach(bus *events.Bus) func() {
	return bus.SubscribeAll(r)
}

// HandleEvent enqueues ev. A full queue drops the record rather than stall dispatch.
func (r *Recorder) HandleEvent(ctx context.Context, ev events.Event) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRecorderClosed
	}
	rec := FromEvent(ev)
	select {
	case r.queue <- rec:
		return nil
	default:
		r.dropped.Add(1)
		logger.Warn(ctx, "audit", "record.dropped",
			slog.String("status", "skip"),
			slog.String("kind", rec.Kind),
			slog.Int64("count", int64(r.dropped.Load())),
		)
		return nil
	}
}

// FromEvent flattens an event into a journal row.
func FromEvent(ev events.Event) Record {
	rec := Record{
		Kind:       string(ev.Kind),
		Command:    ev.CommandName(),
		Callname:   ev.Callname,
		OccurredAt: ev.At.UTC(),
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	if ev.Message != nil {
		rec.UserID = ev.Message.AuthorID
		rec.ChatID = ev.Message.ChatID
		rec.ChatType = ev.Message.Channel.String()
	}
	if ev.Err != nil {
		rec.Error = logger.Truncate(ev.Err.Error(), 512)
	}
	return rec
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()
	start := time.Now()
	if err := r.store.Insert(ctx, rec); err != nil {
		r.failed.Add(1)
		logger.Error(ctx, "audit", "record.write",
			slog.String("status", "fail"),
			slog.String("kind", rec.Kind),
			slog.String("command", rec.Command),
			slog.String("err", logger.Truncate(err.Error(), 256)),
			slog.Duration("duration", logger.Since(start)),
		)
	}
}

// Dropped returns how many records were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed returns how many writes returned an error.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// Close stops accepting events and waits for queued records to be written.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		r.wg.Wait()
	})
}
