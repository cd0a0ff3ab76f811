// Package cache provides a generic, thread-safe in-memory cache with
// optional TTL expiry and explicit invalidation. The gateway uses it to
// hold the generated OpenAPI document between route-table changes.
package cache

import (
	"sync"
	"time"
)

// Cache is a minimal generic cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key. Returns the zero value and false when
	// the key is absent or expired.
	Get(key string) (V, bool)

	// Set stores a value under key, replacing any existing entry.
	Set(key string, value V)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) bool

	// Clear removes all entries.
	Clear()

	// Size returns the current number of live entries.
	Size() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Option configures a Store
type Option func(*options)

type options struct {
	ttl time.Duration
}

// WithTTL sets a time-to-live applied to every entry. Zero means entries
// never expire and live until deleted or cleared.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.ttl = ttl
	}
}

// Store is the mutex-guarded map implementation of Cache. Expired entries
// are dropped lazily on access; there is no background sweeper.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
}

// New creates a cache store with the given options
func New[V any](opts ...Option) *Store[V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		entries: make(map[string]entry[V]),
		ttl:     o.ttl,
	}
}

// Get retrieves a value by key
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if e.expired(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock: a fresher entry may have landed
		if cur, still := s.entries[key]; still && cur.expired(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores a value under key
func (s *Store[V]) Set(key string, value V) {
	e := entry[V]{value: value}
	if s.ttl > 0 {
		e.expiresAt = time.Now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// Delete removes an entry by key
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.entries[key]
	delete(s.entries, key)
	return existed
}

// Clear removes all entries
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]entry[V])
	s.mu.Unlock()
}

// Size returns the number of live entries
func (s *Store[V]) Size() int {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}
