package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

const defaultMemoryTTL = 24 * time.Hour

// MemoryOption configures the in-process cache.
type MemoryOption func(*MemoryCache)

// WithMemoryMaxSize caps the number of stored entries.
func WithMemoryMaxSize(size int) MemoryOption {
	return func(mc *MemoryCache) { mc.maxSize = size }
}

// WithMemoryCleanup sets how often expired entries are purged.
func WithMemoryCleanup(interval time.Duration) MemoryOption {
	return func(mc *MemoryCache) { mc.cleanupEvery = interval }
}

type memoryEntry struct {
	payload  []byte
	expireAt time.Time
	lastRead time.Time
}

// MemoryCache is the L1 layer: JSON payloads in a map with LRU
// eviction and periodic expiry sweeps.
type MemoryCache struct {
	mu           sync.Mutex
	entries      map[string]*memoryEntry
	maxSize      int
	cleanupEvery time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

func NewMemoryCache(opts ...MemoryOption) *MemoryCache {
	mc := &MemoryCache{
		entries:      make(map[string]*memoryEntry),
		maxSize:      1000,
		cleanupEvery: 5 * time.Minute,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(mc)
	}
	go mc.janitor()
	return mc
}

func (mc *MemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = defaultMemoryTTL
	}
	now := time.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if len(mc.entries) >= mc.maxSize {
		mc.evictOldest()
	}
	mc.entries[key] = &memoryEntry{payload: payload, expireAt: now.Add(ttl), lastRead: now}
	return nil
}

func (mc *MemoryCache) Get(_ context.Context, key string, dest interface{}) error {
	now := time.Now()

	mc.mu.Lock()
	e, ok := mc.entries[key]
	if !ok || now.After(e.expireAt) {
		if ok {
			delete(mc.entries, key)
		}
		mc.mu.Unlock()
		return ErrCacheMiss
	}
	e.lastRead = now
	payload := e.payload
	mc.mu.Unlock()

	return json.Unmarshal(payload, dest)
}

func (mc *MemoryCache) Delete(_ context.Context, keys ...string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, key := range keys {
		delete(mc.entries, key)
	}
	return nil
}

// Close stops the expiry janitor.
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() { close(mc.stop) })
	return nil
}

// evictOldest drops the least recently read entry. Caller holds mu.
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestAt time.Time
	for key, e := range mc.entries {
		if oldestKey == "" || e.lastRead.Before(oldestAt) {
			oldestKey = key
			oldestAt = e.lastRead
		}
	}
	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

func (mc *MemoryCache) janitor() {
	ticker := time.NewTicker(mc.cleanupEvery)
	defer ticker.Stop()
	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			now := time.Now()
			mc.mu.Lock()
			for key, e := range mc.entries {
				if now.After(e.expireAt) {
					delete(mc.entries, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}
