// Package ratelimit provides per-key request limiting with a local
// token-bucket backend and a redis sliding-window backend for multi-node
// deployments. Callers never block; a denied request is reported, not queued.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"ab-gateway/internal/redis"
)

// Limiter answers whether one more request under key fits inside the
// configured window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Limit() int
	Window() time.Duration
}

// RedisBackend is the counting surface the distributed limiter needs.
type RedisBackend interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, int, error)
}

// New returns a redis-backed limiter when a client is available and a local
// in-process limiter otherwise. Single-node deployments without redis still
// get correct limiting; only cross-node coordination is lost.
func New(client *redis.Client, prefix string, limit int, window time.Duration) Limiter {
	if client != nil {
		return NewRedisLimiter(client, prefix, limit, window)
	}
	return NewLocalLimiter(limit, window)
}

type redisLimiter struct {
	backend RedisBackend
	prefix  string
	limit   int
	window  time.Duration
}

// NewRedisLimiter creates a sliding-window limiter over redis sorted sets.
func NewRedisLimiter(backend RedisBackend, prefix string, limit int, window time.Duration) Limiter {
	return &redisLimiter{
		backend: backend,
		prefix:  prefix,
		limit:   limit,
		window:  window,
	}
}

func (l *redisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	allowed, _, err := l.backend.CheckRateLimit(ctx, l.prefix+":"+key, l.limit, l.window)
	if err != nil {
		return false, err
	}
	return allowed, nil
}

func (l *redisLimiter) Limit() int            { return l.limit }
func (l *redisLimiter) Window() time.Duration { return l.window }

type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*localEntry
	limit    int
	window   time.Duration

	maxKeys     int
	lastCleanup time.Time
}

type localEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLocalLimiter creates an in-process per-key limiter. The bucket refills
// at limit tokens per window with a burst of limit, so a quiet key can spend
// its whole allowance at once, matching the sliding-window behavior closely
// enough for single-node use.
func NewLocalLimiter(limit int, window time.Duration) Limiter {
	return &localLimiter{
		limiters:    make(map[string]*localEntry),
		limit:       limit,
		window:      window,
		maxKeys:     10000,
		lastCleanup: time.Now(),
	}
}

func (l *localLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiterFor(key).Allow(), nil
}

func (l *localLimiter) Limit() int            { return l.limit }
func (l *localLimiter) Window() time.Duration { return l.window }

func (l *localLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) > 5*time.Minute || len(l.limiters) > l.maxKeys {
		l.cleanup()
	}

	entry, ok := l.limiters[key]
	if !ok {
		perSecond := rate.Limit(float64(l.limit) / l.window.Seconds())
		entry = &localEntry{limiter: rate.NewLimiter(perSecond, l.limit)}
		l.limiters[key] = entry
	}
	entry.lastUsed = time.Now()
	return entry.limiter
}

// cleanup drops keys idle for more than two windows. Caller holds the lock.
func (l *localLimiter) cleanup() {
	cutoff := time.Now().Add(-2 * l.window)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = time.Now()
}
