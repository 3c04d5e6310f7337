// Package redis provides an in-flight set shared across processes via Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

// DefaultKeyPrefix namespaces in-flight keys.
const DefaultKeyPrefix = "frontier:inflight:"

// Set stores one key per in-flight URL, each with its own TTL.
type Set struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSet wraps an existing client. A non-positive ttl keeps keys until released.
func NewSet(client *redis.Client, prefix string, ttl time.Duration) (*Set, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Set{client: client, prefix: prefix, ttl: ttl}, nil
}

// Dial connects to addr and returns a set using that connection.
func Dial(addr, prefix string, ttl time.Duration) (*Set, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	set, err := NewSet(client, prefix, ttl)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return set, nil
}

func (s *Set) key(url string) string {
	return s.prefix + url
}

// Contains reports whether url is currently marked.
func (s *Set) Contains(ctx context.Context, url string) (bool, error) {
	n, err := s.client.WithContext(ctx).Exists(s.key(url)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Mark records url as in flight. It returns false when url was already marked.
func (s *Set) Mark(ctx context.Context, url string) (bool, error) {
	ok, err := s.client.WithContext(ctx).SetNX(s.key(url), time.Now().UTC().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Release removes url from the set.
func (s *Set) Release(ctx context.Context, url string) error {
	if err := s.client.WithContext(ctx).Del(s.key(url)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Set) Ping(ctx context.Context) error {
	if err := s.client.WithContext(ctx).Ping().Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Set) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
