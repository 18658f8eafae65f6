// Package ratelimit keeps one token bucket per client key.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"vidgrab/internal/config"

	"golang.org/x/time/rate"
)

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter allows RPM requests per minute per key with the configured burst.
type Limiter struct {
	log     *slog.Logger
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*client
}

// New creates a limiter. RPM <= 0 disables it and Allow always succeeds.
func New(log *slog.Logger, cfg config.RateLimit) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Limiter{
		log:     log.With(slog.String("package", "ratelimit")),
		limit:   rate.Limit(float64(cfg.RPM) / time.Minute.Seconds()),
		burst:   burst,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
		clients: make(map[string]*client),
	}
}

// Enabled reports whether requests are limited at all.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}

	c.lastSeen = now

	return c.limiter.AllowN(now, 1)
}

// Evict drops keys idle for longer than the idle TTL and returns how many went.
func (l *Limiter) Evict() int {
	if !l.Enabled() || l.idleTTL <= 0 {
		return 0
	}

	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0

	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
			evicted++
		}
	}

	return evicted
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.clients)
}

// StartJanitor evicts idle keys every interval until ctx is done.
func (l *Limiter) StartJanitor(ctx context.Context, interval time.Duration) {
	if !l.Enabled() || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.Evict(); n > 0 {
				l.log.DebugContext(ctx, "evicted idle clients", slog.Int("count", n))
			}
		case <-ctx.Done():
			l.log.Info("rate limit janitor stopped")

			return
		}
	}
}
