package token

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ManualTokenLifetime is the validity given to an operator-supplied token.
const ManualTokenLifetime = time.Hour

// AcquireTimeout bounds a shared acquisition.
const AcquireTimeout = 30 * time.Second

// ErrInvalidManualToken is returned when a manual token lacks the Bearer
// scheme or has an empty credential.
var ErrInvalidManualToken = errors.New(`token must start with "Bearer " followed by the credential`)

// Manager is what the rest of the service uses to get a token. It collapses
// concurrent acquisitions into one network call.
type Manager struct {
	cache    *Cache
	acquirer Acquirer
	group    singleflight.Group
	logger   zerolog.Logger
}

func NewManager(cache *Cache, acquirer Acquirer, logger zerolog.Logger) *Manager {
	return &Manager{cache: cache, acquirer: acquirer, logger: logger}
}

// Cache exposes the underlying cache for status reads and subscriptions.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// Status returns the current cache status.
func (m *Manager) Status() Status {
	return m.cache.Status()
}

// EnsureToken returns the cached token when it is valid, otherwise acquires
// a new one. Concurrent callers share a single acquisition.
func (m *Manager) EnsureToken(ctx context.Context) (string, error) {
	if st := m.cache.Status(); st.IsValid {
		return st.Token, nil
	}
	return m.acquire(ctx, "ensure", true)
}

// Refresh forces a new acquisition regardless of the cached token.
func (m *Manager) Refresh(ctx context.Context) (Status, error) {
	_, err := m.acquire(ctx, "refresh", false)
	return m.cache.Status(), err
}

// acquire runs one shared acquisition per key. The acquisition is detached
// from the caller that started it and bounded by AcquireTimeout; each caller
// stops waiting when its own ctx is done.
func (m *Manager) acquire(ctx context.Context, key string, reuseValid bool) (string, error) {
	ch := m.group.DoChan(key, func() (interface{}, error) {
		if reuseValid {
			if st := m.cache.Status(); st.IsValid {
				return st.Token, nil
			}
		}
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), AcquireTimeout)
		defer cancel()
		rec, err := m.acquirer.Acquire(actx)
		if err != nil {
			return "", err
		}
		return rec.Value, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			m.logger.Warn().Err(res.Err).Str("flight", key).Bool("shared", res.Shared).Msg("token acquisition failed")
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// SetManual stores an operator-supplied "Bearer ..." token valid for
// ManualTokenLifetime.
func (m *Manager) SetManual(ctx context.Context, value string) (Status, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, BearerPrefix) || strings.TrimSpace(value[len(BearerPrefix):]) == "" {
		return m.cache.Status(), ErrInvalidManualToken
	}
	rec := Record{Value: value, ExpiresAt: m.cache.Now().Add(ManualTokenLifetime)}
	m.cache.persist(ctx, rec, EventManual)
	return m.cache.Status(), nil
}

// Invalidate drops the cached token.
func (m *Manager) Invalidate(ctx context.Context) {
	m.cache.Invalidate(ctx)
}

// InvalidateIf drops the cached token only while it still equals value.
func (m *Manager) InvalidateIf(ctx context.Context, value string) bool {
	return m.cache.InvalidateIf(ctx, value)
}
