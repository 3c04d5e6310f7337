// Package memory provides an in-process in-flight set backed by go-cache.
package memory

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Set tracks in-flight URLs with a TTL so abandoned fetches eventually expire.
type Set struct {
	items *cache.Cache
	ttl   time.Duration
}

// NewSet constructs a set whose marks expire after ttl. A non-positive ttl never expires.
func NewSet(ttl time.Duration) *Set {
	expiry := ttl
	cleanup := ttl
	if ttl <= 0 {
		expiry = cache.NoExpiration
		cleanup = 0
	}
	return &Set{items: cache.New(expiry, cleanup), ttl: expiry}
}

// Contains reports whether url is currently marked.
func (s *Set) Contains(_ context.Context, url string) (bool, error) {
	_, ok := s.items.Get(url)
	return ok, nil
}

// Mark records url as in flight. It returns false when url was already marked.
func (s *Set) Mark(_ context.Context, url string) (bool, error) {
	if err := s.items.Add(url, struct{}{}, s.ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Release removes url from the set.
func (s *Set) Release(_ context.Context, url string) error {
	s.items.Delete(url)
	return nil
}

// Len reports the number of unexpired marks.
func (s *Set) Len() int {
	return s.items.ItemCount()
}
