package kvstore

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

type entry struct {
	value   string
	expires time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Memory is a single process Store, used when redis is not configured and in
// tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

func NewMemory() *Memory {
	m := &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func (m *Memory) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *Memory) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 {
		return Decision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := m.now()
	key = RateLimitPrefix + key

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	count := 0
	if ok && !e.expired(now) {
		count = decodeCount(e.value)
	} else {
		e = entry{expires: now.Add(window)}
	}
	if count >= limit {
		return Decision{Allowed: false, Count: count, WindowEnd: e.expires}
	}
	count++
	e.value = encodeCount(count)
	m.entries[key] = e
	return Decision{Allowed: true, Count: count, WindowEnd: e.expires}
}

func (m *Memory) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, key)
		}
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() {
		close(m.stopCh)
	})
	return nil
}
