package pagecache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMaxEntries = 1000
	DefaultMaxAge     = 15 * time.Minute
)

// MemoryStore is an in-process Store bounded by entry count and age.
// Beyond maxEntries the least recently used entry is evicted; entries older
// than maxAge read as absent and are purged in the background.
type MemoryStore struct {
	lru *expirable.LRU[string, string]
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most maxEntries documents for at
// most maxAge each. Non-positive arguments fall back to the defaults.
func NewMemoryStore(maxEntries int, maxAge time.Duration) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, string](maxEntries, nil, maxAge),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	value, ok := m.lru.Get(key)
	return value, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value string) error {
	m.lru.Add(key, value)
	return nil
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	return m.lru.Len()
}

// Purge drops every entry.
func (m *MemoryStore) Purge() {
	m.lru.Purge()
}

// NoopStore never stores anything. It backs development mode, where every
// request renders fresh.
type NoopStore struct{}

var _ Store = NoopStore{}

func (NoopStore) Get(context.Context, string) (string, bool, error) { return "", false, nil }

func (NoopStore) Set(context.Context, string, string) error { return nil }
