// Package govern guards outbound SMTP connections: per-domain sliding
// window counters, adaptive pre-send delay, block flags and round-robin
// selection from the outbound IP pool. All shared state lives in the
// cache store; with the cache unavailable the governor fails open.
package govern

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/verimail/engine/pkg/cache"
	"github.com/verimail/engine/pkg/config"
)

var (
	// ErrRateLimitMinute means the domain's per-minute budget is spent.
	ErrRateLimitMinute = errors.New("govern: per-minute rate limit exceeded")

	// ErrRateLimitHour means the domain's per-hour budget is spent.
	ErrRateLimitHour = errors.New("govern: per-hour rate limit exceeded")
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// Delay ramps up once the minute counter passes this share of the limit
	delayKneeRatio = 0.8

	// Delay scale: (ratio - knee) * delayScale
	delayScale = 10 * time.Second
)

// Governor enforces the per-domain outbound limits.
type Governor struct {
	store  cache.Store
	limits config.RateLimitsConfig
	pool   []string
	log    *zap.Logger
}

// New builds a Governor over the given store, limit table and IP pool.
func New(store cache.Store, limits config.RateLimitsConfig, pool []string, log *zap.Logger) *Governor {
	if len(pool) == 0 {
		pool = []string{"0.0.0.0"}
	}
	return &Governor{store: store, limits: limits, pool: pool, log: log}
}

// Acquire increments the domain's minute and hour counters and, when
// both are within budget, returns the next outbound IP from the pool.
// With the cache down the counters read as fresh windows and the first
// pool IP is returned: the engine fails open rather than stalling.
func (g *Governor) Acquire(ctx context.Context, domain string) (string, error) {
	limit := g.limits.Limit(domain)

	minute := g.store.Incr(ctx, cache.MinuteKey(domain), minuteWindow)
	if minute > int64(limit.PerMinute) {
		return "", ErrRateLimitMinute
	}

	hour := g.store.Incr(ctx, cache.HourKey(domain), hourWindow)
	if hour > int64(limit.PerHour) {
		return "", ErrRateLimitHour
	}

	return g.nextIP(ctx), nil
}

// nextIP advances the persisted round-robin index and maps it onto the
// pool.
func (g *Governor) nextIP(ctx context.Context) string {
	idx := g.store.Incr(ctx, cache.IPIndexKey(), 0)
	return g.pool[int(idx)%len(g.pool)]
}

// Delay returns the progressive pre-send pause for a domain. Zero until
// the minute counter passes 80% of its limit, then ramping linearly:
// (usage_ratio - 0.8) * 10s.
func (g *Governor) Delay(ctx context.Context, domain string) time.Duration {
	limit := g.limits.Limit(domain)
	raw, ok := g.store.Get(ctx, cache.MinuteKey(domain))
	if !ok {
		return 0
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || limit.PerMinute <= 0 {
		return 0
	}

	ratio := float64(used) / float64(limit.PerMinute)
	if ratio <= delayKneeRatio {
		return 0
	}
	return time.Duration((ratio - delayKneeRatio) * float64(delayScale))
}

// MarkBlocked flags a domain as blocked for outbound probes for the
// given duration.
func (g *Governor) MarkBlocked(ctx context.Context, domain string, d time.Duration) {
	g.store.Set(ctx, cache.BlockedKey(domain), "1", d)
	g.log.Warn("domain blocked for outbound SMTP",
		zap.String("domain", domain),
		zap.Duration("for", d))
}

// IsBlocked reports whether the domain is currently blocked. Reads as
// false with the cache down.
func (g *Governor) IsBlocked(ctx context.Context, domain string) bool {
	return g.store.Exists(ctx, cache.BlockedKey(domain))
}

// ReportSuccess increments the hourly success counter for a domain.
func (g *Governor) ReportSuccess(ctx context.Context, domain string) {
	g.store.Incr(ctx, cache.SuccessKey(domain), hourWindow)
}

// ReportFailure increments the hourly failure counter for a domain.
func (g *Governor) ReportFailure(ctx context.Context, domain, reason string) {
	g.store.Incr(ctx, cache.FailureKey(domain), hourWindow)
	g.log.Debug("outbound SMTP failure reported",
		zap.String("domain", domain),
		zap.String("reason", reason))
}
