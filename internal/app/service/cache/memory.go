package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Memory is an in-process LRU cache with TTL, safe for concurrent use.
type Memory[V any] struct {
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	now     func() time.Time
	mutex   sync.Mutex
}

// NewMemory creates a cache holding at most maxSize entries; zero means unbounded.
func NewMemory[V any](maxSize int) *Memory[V] {
	return &Memory[V]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *Memory[V]) WithClock(now func() time.Time) *Memory[V] {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.now = now
	return m
}

// Load returns the live entry for key.
func (m *Memory[V]) Load(key string) (V, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var zero V
	el, ok := m.entries[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*memoryEntry[V])
	if !entry.expiresAt.IsZero() && !m.now().Before(entry.expiresAt) {
		m.removeElement(el)
		return zero, false
	}
	m.order.MoveToFront(el)
	return entry.value, true
}

// Store inserts or replaces key. A non-positive ttl never expires.
func (m *Memory[V]) Store(key string, val V, ttl time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}

	if el, ok := m.entries[key]; ok {
		entry := el.Value.(*memoryEntry[V])
		entry.value = val
		entry.expiresAt = expiresAt
		m.order.MoveToFront(el)
		return
	}

	if m.maxSize > 0 && m.order.Len() >= m.maxSize {
		m.evictLocked()
	}
	m.entries[key] = m.order.PushFront(&memoryEntry[V]{key: key, value: val, expiresAt: expiresAt})
}

// Remove drops key.
func (m *Memory[V]) Remove(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if el, ok := m.entries[key]; ok {
		m.removeElement(el)
	}
}

// Purge drops every entry.
func (m *Memory[V]) Purge() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.entries = make(map[string]*list.Element)
	m.order.Init()
}

// Len counts stored entries, expired ones included until they are touched.
func (m *Memory[V]) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.order.Len()
}

// evictLocked drops expired entries, then the least recently used one if
// the cache is still full.
func (m *Memory[V]) evictLocked() {
	now := m.now()
	for el := m.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*memoryEntry[V])
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			m.removeElement(el)
		}
		el = prev
	}
	if m.order.Len() >= m.maxSize {
		if oldest := m.order.Back(); oldest != nil {
			m.removeElement(oldest)
		}
	}
}

func (m *Memory[V]) removeElement(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*memoryEntry[V]).key)
}

// MemoryStore adapts Memory[string] to Store.
type MemoryStore struct {
	*Memory[string]
}

// NewMemoryStore creates a string Store bounded to maxSize entries.
func NewMemoryStore(maxSize int) *MemoryStore {
	return &MemoryStore{Memory: NewMemory[string](maxSize)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.Load(key)
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.Store(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.Remove(key)
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.Purge()
	return nil
}
