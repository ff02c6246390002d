package token

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SkewBuffer is subtracted from a token's expiry when deciding validity so a
// request never starts with a token that lapses mid-call.
const SkewBuffer = 5 * time.Minute

// Status is a point-in-time view of the cached token.
type Status struct {
	Token     string
	ExpiresAt time.Time
	IsValid   bool
}

// IsValidAt reports whether a token expiring at expiresAt is usable at now.
func IsValidAt(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return now.Add(SkewBuffer).Before(expiresAt)
}

// Cache is the single owner of the bearer token. It is safe for concurrent
// use; all mutation goes through Persist, Restore and Invalidate.
type Cache struct {
	mu      sync.RWMutex
	rec     Record
	storage Storage
	now     func() time.Time
	logger  zerolog.Logger

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for storage failures and transitions.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache returns an empty cache backed by storage. A nil storage keeps the
// token in memory only.
func NewCache(storage Storage, opts ...Option) *Cache {
	if storage == nil {
		storage = NewMemoryStorage()
	}
	c := &Cache{
		storage: storage,
		now:     time.Now,
		logger:  zerolog.Nop(),
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Now returns the cache's clock reading.
func (c *Cache) Now() time.Time {
	return c.now()
}

// Status is a pure read.
func (c *Cache) Status() Status {
	c.mu.RLock()
	rec := c.rec
	c.mu.RUnlock()
	return c.statusOf(rec)
}

func (c *Cache) statusOf(rec Record) Status {
	return Status{
		Token:     rec.Value,
		ExpiresAt: rec.ExpiresAt,
		IsValid:   rec.Value != "" && IsValidAt(rec.ExpiresAt, c.now()),
	}
}

// Persist stores a freshly acquired token in memory and in durable storage.
// A storage write failure is logged; the in-memory token is still usable.
func (c *Cache) Persist(ctx context.Context, value string, expiresAt time.Time) {
	c.persist(ctx, Record{Value: value, ExpiresAt: expiresAt}, EventAcquired)
}

func (c *Cache) persist(ctx context.Context, rec Record, kind EventKind) {
	c.mu.Lock()
	c.rec = rec
	if err := c.storage.Save(ctx, rec); err != nil {
		c.logger.Warn().Err(err).Msg("token storage write failed")
	}
	st := c.statusOf(rec)
	c.mu.Unlock()

	c.logger.Info().
		Str("event", string(kind)).
		Time("expires_at", rec.ExpiresAt).
		Str("token", Redact(rec.Value)).
		Msg("token stored")
	c.emit(kind, st)
}

// Restore loads a previously persisted token. A token that is already inside
// the skew buffer is discarded and storage is cleared. Storage read failures
// count as "no token". It reports whether a usable token was restored.
func (c *Cache) Restore(ctx context.Context) bool {
	rec, err := c.storage.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoRecord) {
			c.logger.Warn().Err(err).Msg("token storage read failed")
		}
		c.mu.Lock()
		c.rec = Record{}
		c.mu.Unlock()
		return false
	}

	if !IsValidAt(rec.ExpiresAt, c.now()) {
		c.mu.Lock()
		c.rec = Record{}
		if err := c.storage.Clear(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("token storage clear failed")
		}
		c.mu.Unlock()

		c.logger.Info().Time("expires_at", rec.ExpiresAt).Msg("discarded stale persisted token")
		c.emit(EventDiscarded, Status{ExpiresAt: rec.ExpiresAt})
		return false
	}

	c.mu.Lock()
	c.rec = rec
	st := c.statusOf(rec)
	c.mu.Unlock()

	c.logger.Info().Time("expires_at", rec.ExpiresAt).Msg("restored persisted token")
	c.emit(EventRestored, st)
	return true
}

// Invalidate clears the in-memory and persisted token unconditionally.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.clearLocked(ctx)
	c.mu.Unlock()

	c.logger.Info().Msg("token invalidated")
	c.emit(EventInvalidated, Status{})
}

// InvalidateIf clears the token only when the cached value equals value, so
// a caller holding a superseded token cannot drop a newer one. It reports
// whether the token was cleared.
func (c *Cache) InvalidateIf(ctx context.Context, value string) bool {
	c.mu.Lock()
	if value == "" || c.rec.Value != value {
		c.mu.Unlock()
		return false
	}
	c.clearLocked(ctx)
	c.mu.Unlock()

	c.logger.Info().Msg("token invalidated")
	c.emit(EventInvalidated, Status{})
	return true
}

func (c *Cache) clearLocked(ctx context.Context) {
	c.rec = Record{}
	if err := c.storage.Clear(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("token storage clear failed")
	}
}

// Redact keeps the scheme and the first four characters of a bearer value.
func Redact(value string) string {
	if value == "" {
		return ""
	}
	scheme := ""
	rest := value
	if strings.HasPrefix(value, BearerPrefix) {
		scheme = BearerPrefix
		rest = value[len(BearerPrefix):]
	}
	if len(rest) <= 4 {
		return scheme + "****"
	}
	return scheme + rest[:4] + "..."
}
