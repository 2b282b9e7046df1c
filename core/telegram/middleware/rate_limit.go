package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	"github.com/m3rciful/dispatchbot/core/logger"
	tghelpers "github.com/m3rciful/dispatchbot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	Interval  time.Duration
	Burst     int
	Exclude   map[string]struct{}
	OnLimited tele.HandlerFunc
	// IdleTTL bounds how long a limiter is kept for a silent user.
	IdleTTL time.Duration
	Now     func() time.Time
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// UserLimiter holds one token bucket per user.
type UserLimiter struct {
	opts      RateLimitOptions
	mu        sync.Mutex
	users     map[int64]*userLimiter
	lastPrune time.Time
}

// NewUserLimiter applies defaults to opts.
func NewUserLimiter(opts RateLimitOptions) *UserLimiter {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &UserLimiter{opts: opts, users: make(map[int64]*userLimiter)}
}

// Allow consumes one token for userID.
func (l *UserLimiter) Allow(userID int64) bool {
	if l.opts.Interval <= 0 {
		return true
	}
	now := l.opts.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastPrune) >= l.opts.IdleTTL {
		l.pruneLocked(now)
		l.lastPrune = now
	}
	u, ok := l.users[userID]
	if !ok {
		u = &userLimiter{lim: rate.NewLimiter(rate.Every(l.opts.Interval), l.opts.Burst)}
		l.users[userID] = u
	}
	u.lastSeen = now
	return u.lim.AllowN(now, 1)
}

// Len returns the number of tracked users.
func (l *UserLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

func (l *UserLimiter) pruneLocked(now time.Time) {
	for id, u := range l.users {
		if now.Sub(u.lastSeen) >= l.opts.IdleTTL {
			delete(l.users, id)
		}
	}
}

// UpdateKind names the update for exclusion matching.
func UpdateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return coreconfig.UpdateCallback
	case upd.Message != nil:
		return coreconfig.UpdateMessage
	case upd.Query != nil:
		return coreconfig.UpdateInlineQuery
	}
	return "other"
}

// RateLimit drops updates from users that exceed Burst updates per Interval.
func RateLimit(opts RateLimitOptions) tele.MiddlewareFunc {
	limiter := NewUserLimiter(opts)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := UpdateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if limiter.Allow(user.ID) {
				return next(c)
			}

			logger.Warn(tghelpers.Context(c), "tg", "rate_limit",
				slog.String("status", "skip"),
				slog.String("kind", kind),
				slog.Int64("user_id", user.ID),
			)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
