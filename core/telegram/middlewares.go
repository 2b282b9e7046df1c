package telegram

import (
	"time"

	coreconfig "github.com/m3rciful/dispatchbot/core/config"
	"github.com/m3rciful/dispatchbot/core/telegram/middleware"
)

// Chain returns the middlewares in the order they wrap a route: panic recovery,
// the per-user rate limit when one is configured, then the receipt log.
func Chain(cfg coreconfig.RateLimitConfig) []Middleware {
	chain := []Middleware{{Name: "recover", Use: middleware.Recover}}
	if cfg.IntervalMS > 0 {
		exclude := make(map[string]struct{}, len(cfg.ExcludeUpdates))
		for _, kind := range cfg.ExcludeUpdates {
			exclude[kind] = struct{}{}
		}
		chain = append(chain, Middleware{Name: "rate_limit", Use: middleware.RateLimit(middleware.RateLimitOptions{
			Interval: time.Duration(cfg.IntervalMS) * time.Millisecond,
			Burst:    cfg.Burst,
			Exclude:  exclude,
		})})
	}
	return append(chain, Middleware{Name: "receipt", Use: middleware.Receipt})
}
