package fixtures

import (
	"context"
	"sync"
)

// MemoryStore is an in-process associative store, useful as a stand-in for a real data source.
// It is safe for concurrent use.
type MemoryStore[K comparable, R any] struct {
	mu    sync.RWMutex
	items map[K]R
}

func NewMemoryStore[K comparable, R any]() *MemoryStore[K, R] {
	return &MemoryStore[K, R]{items: map[K]R{}}
}

func (s *MemoryStore[K, R]) Put(key K, record R) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items == nil {
		s.items = map[K]R{}
	}
	s.items[key] = record
}

func (s *MemoryStore[K, R]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

func (s *MemoryStore[K, R]) Get(key K) (R, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[key]
	return r, ok
}

func (s *MemoryStore[K, R]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore[K, R]) Keys() []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]K, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	return keys
}

func (s *MemoryStore[K, R]) Values() []R {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values := make([]R, 0, len(s.items))
	for _, v := range s.items {
		values = append(values, v)
	}
	return values
}

// MemoryBackend writes records into a MemoryStore under the key computed by Key.
type MemoryBackend[K comparable, R any] struct {
	Store *MemoryStore[K, R]
	Key   func(R) K
}

var _ Backend[any] = (*MemoryBackend[string, any])(nil)

func NewMemoryBackend[K comparable, R any](store *MemoryStore[K, R], key func(R) K) *MemoryBackend[K, R] {
	return &MemoryBackend[K, R]{Store: store, Key: key}
}

func (b *MemoryBackend[K, R]) Insert(ctx context.Context, record R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Store.Put(b.Key(record), record)
	return nil
}

func (b *MemoryBackend[K, R]) Remove(ctx context.Context, record R) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Store.Delete(b.Key(record))
	return nil
}
