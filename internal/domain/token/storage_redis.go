package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the token keys inside a shared Redis.
const DefaultRedisPrefix = "eligibility:"

// RedisStorage keeps the record in two Redis string keys that expire with
// the token itself, so a crashed process never restores a dead token.
type RedisStorage struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStorage wraps an existing client.
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix, now: time.Now}
}

// NewRedisStorageFromURL parses a redis:// URL and returns a storage using a
// fresh client.
func NewRedisStorageFromURL(url, prefix string) (*RedisStorage, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
	}
	return NewRedisStorage(redis.NewClient(opts), prefix), nil
}

// Ping checks connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) key(name string) string {
	return s.prefix + name
}

func (s *RedisStorage) Load(ctx context.Context) (Record, error) {
	vals, err := s.client.MGet(ctx, s.key(KeyToken), s.key(KeyExpires)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("redis mget: %w", err)
	}

	fields := make(map[string]string, 2)
	for i, name := range []string{KeyToken, KeyExpires} {
		if str, ok := vals[i].(string); ok {
			fields[name] = str
		}
	}
	return decodeFields(fields)
}

func (s *RedisStorage) Save(ctx context.Context, rec Record) error {
	ttl := rec.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return s.Clear(ctx)
	}

	fields := encodeFields(rec)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(KeyToken), fields[KeyToken], ttl)
		pipe.Set(ctx, s.key(KeyExpires), fields[KeyExpires], ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save: %w", err)
	}
	return nil
}

func (s *RedisStorage) Clear(ctx context.Context) error {
	err := s.client.Del(ctx, s.key(KeyToken), s.key(KeyExpires)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
