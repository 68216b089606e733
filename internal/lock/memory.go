package lock

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Locker for single-instance deployments and tests.
type Memory struct {
	held map[string]memoryEntry
	now  func() time.Time
	mu   sync.Mutex
}

type memoryEntry struct {
	expires time.Time
	token   string
}

// NewMemory creates an in-process locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]memoryEntry), now: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.held[key]; ok && now.Before(e.expires) {
		return nil, ErrLocked
	}

	token := newToken()
	m.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return &memoryLock{m: m, key: key, token: token}, nil
}

type memoryLock struct {
	m     *Memory
	key   string
	token string
}

func (l *memoryLock) Refresh(_ context.Context, ttl time.Duration) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	e, ok := l.m.held[l.key]
	if !ok || e.token != l.token || !l.m.now().Before(e.expires) {
		return ErrNotHeld
	}
	e.expires = l.m.now().Add(ttl)
	l.m.held[l.key] = e
	return nil
}

func (l *memoryLock) Release(context.Context) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()

	e, ok := l.m.held[l.key]
	if !ok || e.token != l.token {
		return ErrNotHeld
	}
	delete(l.m.held, l.key)
	return nil
}

var _ Locker = (*Memory)(nil)
