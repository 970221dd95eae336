package inmemorystore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/lazymod/internal/cache"
)

// Store is an in-memory cache.Store.
type Store struct {
	entries sync.Map // Key: cache key, Value: []byte
}

// New creates an empty store.
func New() *Store {
	return &Store{}
}

var _ cache.Store = (*Store)(nil)

// Get returns a copy of the value stored under key, or cache.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := s.entries.Load(key)
	if !ok {
		return nil, fmt.Errorf("%q: %w", key, cache.ErrNotFound)
	}
	return append([]byte(nil), v.([]byte)...), nil
}

// Put stores a copy of value under key.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.entries.Store(key, append([]byte(nil), value...))
	return nil
}

// Delete removes key. Unknown keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.entries.Delete(key)
	return nil
}

// Keys lists the stored keys in sorted order.
func (s *Store) Keys() []string {
	var keys []string
	s.entries.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	return keys
}
