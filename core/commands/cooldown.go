package commands

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/dispatchbot/core/logger"
)

type cooldownKey struct {
	command string
	userID  int64
}

// cooldownTracker keeps the last invocation time per (command, user).
// Concurrent writers for the same key resolve as last-write-wins.
type cooldownTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[cooldownKey]time.Time
}

func newCooldownTracker(now func() time.Time) *cooldownTracker {
	return &cooldownTracker{
		now:     now,
		entries: make(map[cooldownKey]time.Time),
	}
}

func (t *cooldownTracker) record(command string, userID int64) {
	now := t.now()
	t.mu.Lock()
	t.entries[cooldownKey{command: command, userID: userID}] = now
	t.mu.Unlock()
}

func (t *cooldownTracker) remaining(command string, userID int64, cooldownSeconds int) time.Duration {
	if cooldownSeconds <= 0 {
		return 0
	}
	t.mu.Lock()
	last, ok := t.entries[cooldownKey{command: command, userID: userID}]
	t.mu.Unlock()
	if !ok {
		return 0
	}
	expires := last.Add(time.Duration(cooldownSeconds) * time.Second)
	left := expires.Sub(t.now())
	if left <= 0 {
		return 0
	}
	return left
}

func (t *cooldownTracker) sweep(maxAge time.Duration) int {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, last := range t.entries {
		if now.Sub(last) >= maxAge {
			delete(t.entries, k)
			removed++
		}
	}
	return removed
}

func (t *cooldownTracker) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// RunCooldownSweeper drops expired cooldown entries every interval until ctx is done.
// A non-positive interval disables sweeping.
func RunCooldownSweeper(ctx context.Context, reg *Registry, interval time.Duration) {
	if reg == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			removed := reg.Sweep()
			if removed == 0 {
				continue
			}
			logger.Debug(ctx, "cmd.registry", "cooldown.sweep",
				slog.String("status", "ok"),
				slog.Int("count", removed),
				slog.Int("pending_count", reg.CooldownEntries()),
				slog.Duration("duration", logger.Since(start)),
			)
		}
	}
}
