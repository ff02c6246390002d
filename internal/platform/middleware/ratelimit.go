package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/platform/auth"
)

// RateLimitConfig holds rate limiting configuration. Store defaults to an
// in-process token bucket per key; a RedisLimiterStore shares buckets across
// replicas.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	Store             LimiterStore
	Logger            zerolog.Logger
}

// DefaultRateLimitConfig returns default rate limiting settings.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// LimiterStore decides whether key may spend one token. retryAfter is in
// seconds and only meaningful when allowed is false.
type LimiterStore interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter int, err error)
}

// tokenBucket implements a token bucket rate limiter.
type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(rate float64, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (b *tokenBucket) retryAfter() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return retryAfterSeconds(b.tokens, b.refillRate)
}

func retryAfterSeconds(tokens, rate float64) int {
	if rate <= 0 {
		return 1
	}
	return int((1-tokens)/rate) + 1
}

// rateLimiterStore holds per-key token buckets in memory.
type rateLimiterStore struct {
	buckets map[string]*tokenBucket
	mu      sync.RWMutex
	rate    float64
	burst   int
}

func newRateLimiterStore(cfg RateLimitConfig) *rateLimiterStore {
	return &rateLimiterStore{
		buckets: make(map[string]*tokenBucket),
		rate:    cfg.RequestsPerSecond,
		burst:   cfg.BurstSize,
	}
}

func (s *rateLimiterStore) getBucket(key string) *tokenBucket {
	s.mu.RLock()
	bucket, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return bucket
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if bucket, ok := s.buckets[key]; ok {
		return bucket
	}
	bucket = newTokenBucket(s.rate, s.burst)
	s.buckets[key] = bucket
	return bucket
}

func (s *rateLimiterStore) Allow(_ context.Context, key string) (bool, int, error) {
	b := s.getBucket(key)
	if b.allow() {
		return true, 0, nil
	}
	return false, b.retryAfter(), nil
}

// RateLimit returns a rate limiting middleware keyed by authenticated user,
// falling back to client IP. A failing store lets the request through.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := cfg.Store
	if store == nil {
		store = newRateLimiterStore(cfg)
	}
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			allowed, retryAfter, err := store.Allow(c.Request().Context(), key)
			if err != nil {
				cfg.Logger.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, allowing request")
				allowed = true
			}

			c.Response().Header().Set("X-RateLimit-Limit", limit)
			if !allowed {
				c.Response().Header().Set("Retry-After", strconv.Itoa(retryAfter))
				c.Response().Header().Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
