package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type item[V any] struct {
	expiresAt time.Time // zero never expires
	value     V
	key       string
}

func (it *item[V]) expired(now time.Time) bool {
	return !it.expiresAt.IsZero() && now.After(it.expiresAt)
}

// Memory is an in-process cache with expiry and optional LRU bounding.
// Used when Redis is not configured and in tests.
type Memory[V any] struct {
	items      map[string]*list.Element
	lru        *list.List // front is most recently used
	done       chan struct{}
	defaultTTL time.Duration
	maxEntries int
	mu         sync.Mutex
	closed     bool
}

// MemoryOption configures the in-memory cache.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxEntries      int
}

// WithDefaultTTL sets the TTL used when Set gets zero. Default: 1h.
func WithDefaultTTL(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.defaultTTL = d }
}

// WithCleanupInterval sets how often expired entries are swept. Zero disables
// the sweeper; expired entries are still dropped on access. Default: 1m.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.cleanupInterval = d }
}

// WithMaxEntries bounds the cache, evicting the least recently used entry.
// Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) { o.maxEntries = n }
}

// NewMemory creates an in-memory cache. Close stops its sweeper.
func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	o := &memoryOptions{defaultTTL: time.Hour, cleanupInterval: time.Minute}
	for _, opt := range opts {
		opt(o)
	}

	m := &Memory[V]{
		items:      make(map[string]*list.Element),
		lru:        list.New(),
		done:       make(chan struct{}),
		defaultTTL: o.defaultTTL,
		maxEntries: o.maxEntries,
	}
	if o.cleanupInterval > 0 {
		go m.sweep(o.cleanupInterval)
	}
	return m
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero V
	el, ok := m.items[key]
	if !ok {
		return zero, ErrNotFound
	}
	it := el.Value.(*item[V])
	if it.expired(time.Now()) {
		m.remove(el)
		return zero, ErrNotFound
	}
	m.lru.MoveToFront(el)
	return it.value, nil
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if ttl == 0 {
		ttl = m.defaultTTL
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	if el, ok := m.items[key]; ok {
		it := el.Value.(*item[V])
		it.value, it.expiresAt = value, expiresAt
		m.lru.MoveToFront(el)
		return nil
	}

	if m.maxEntries > 0 && len(m.items) >= m.maxEntries {
		if oldest := m.lru.Back(); oldest != nil {
			m.remove(oldest)
		}
	}
	m.items[key] = m.lru.PushFront(&item[V]{key: key, value: value, expiresAt: expiresAt})
	return nil
}

func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if el, ok := m.items[key]; ok {
		m.remove(el)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until swept.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close is idempotent.
func (m *Memory[V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *Memory[V]) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-m.done:
			return
		case now := <-t.C:
			m.mu.Lock()
			for el := m.lru.Back(); el != nil; {
				prev := el.Prev()
				if el.Value.(*item[V]).expired(now) {
					m.remove(el)
				}
				el = prev
			}
			m.mu.Unlock()
		}
	}
}

// remove requires m.mu.
func (m *Memory[V]) remove(el *list.Element) {
	m.lru.Remove(el)
	delete(m.items, el.Value.(*item[V]).key)
}

var _ Cache[any] = (*Memory[any])(nil)
