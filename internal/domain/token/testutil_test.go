package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ehr/eligibility/pkg/client"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeEndpoint struct {
	calls atomic.Int32
	delay time.Duration
	data  *client.TokenData
	err   error
}

func (f *fakeEndpoint) Token(ctx context.Context) (*client.TokenData, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	d := *f.data
	return &d, nil
}

// failingStorage fails every operation.
type failingStorage struct{}

var errStorage = errors.New("disk on fire")

func (failingStorage) Load(context.Context) (Record, error) { return Record{}, errStorage }
func (failingStorage) Save(context.Context, Record) error   { return errStorage }
func (failingStorage) Clear(context.Context) error          { return errStorage }

func newTestManager(ep *fakeEndpoint) (*Manager, *fakeClock) {
	clock := newFakeClock()
	cache := NewCache(NewMemoryStorage(), WithClock(clock.Now))
	return NewManager(cache, NewGatewayAcquirer(ep, cache), zerologNop()), clock
}
