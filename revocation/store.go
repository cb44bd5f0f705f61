// Package revocation keeps a denylist of credential ids that were logged out
// before their natural expiry.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the denylist cannot be consulted
var ErrUnavailable = errors.New("revocation store unavailable")

// Store records revoked credential ids until they would have expired anyway.
type Store interface {
	Revoke(ctx context.Context, tokenID string, expiresAt, now time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisStore keeps one key per revoked id with a TTL equal to the
// credential's remaining lifetime.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses a redis:// URL into a client
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisStore creates a denylist over client using keys prefix+tokenID
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(tokenID string) string {
	return s.prefix + tokenID
}

// Revoke denylists tokenID. Ids that are already past expiry are skipped.
func (s *RedisStore) Revoke(ctx context.Context, tokenID string, expiresAt, now time.Time) error {
	if tokenID == "" {
		return errors.New("token id is empty")
	}
	ttl := expiresAt.Sub(now)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, s.key(tokenID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsRevoked reports whether tokenID is on the denylist
func (s *RedisStore) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.key(tokenID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// Ping checks connectivity for readiness probes
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Noop is used when no Redis URL is configured: nothing is ever revoked.
type Noop struct{}

func (Noop) Revoke(context.Context, string, time.Time, time.Time) error { return nil }

func (Noop) IsRevoked(context.Context, string) (bool, error) { return false, nil }
