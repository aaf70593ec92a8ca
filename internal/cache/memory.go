package cache

import (
	"context"
	"image"
	"sync"
	"time"
)

// DefaultMemoryCapacity 是内存层默认容纳的图片数量。
const DefaultMemoryCapacity = 64

// memoryEntry 只属于 MemoryTier：Store 时创建，Load 时更新，淘汰/失效时销毁。
type memoryEntry struct {
	data       image.Image
	uses       int
	lastAccess time.Time
}

// MemoryStats 是内存层计数快照，供诊断接口使用。
type MemoryStats struct {
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// MemoryTier 是容量受限的进程内图片缓存，所有操作由同一把锁串行化。
// 满时淘汰最久未访问的条目（O(n) 扫描）。
type MemoryTier struct {
	capacity int
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string]*memoryEntry
	hits      int64
	misses    int64
	evictions int64
}

// MemoryOption 调整 MemoryTier 的可选行为。
type MemoryOption func(*MemoryTier)

// WithClock 替换时钟，便于测试淘汰顺序。
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryTier) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryTier 构造容量为 capacity 的内存层，capacity <= 0 时使用默认值。
func NewMemoryTier(capacity int, opts ...MemoryOption) *MemoryTier {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	m := &MemoryTier{
		capacity: capacity,
		now:      time.Now,
		entries:  make(map[string]*memoryEntry, capacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ ImageTier = (*MemoryTier)(nil)

func (m *MemoryTier) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok, nil
}

func (m *MemoryTier) Load(_ context.Context, key string) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, ErrNotFound
	}
	entry.uses++
	entry.lastAccess = m.now()
	m.hits++
	return entry.data, nil
}

// Store 在 key 已存在时不覆盖。
func (m *MemoryTier) Store(_ context.Context, key string, value image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; ok {
		return nil
	}
	if len(m.entries) >= m.capacity {
		m.evictOldest()
	}
	m.entries[key] = &memoryEntry{
		data:       value,
		uses:       1,
		lastAccess: m.now(),
	}
	return nil
}

// Invalidate 只移除引用，图片内存交由 GC 回收。
func (m *MemoryTier) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryTier) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		delete(m.entries, key)
	}
	return nil
}

// Len 返回当前条目数。
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Stats 返回计数快照。
func (m *MemoryTier) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MemoryStats{
		Entries:   len(m.entries),
		Capacity:  m.capacity,
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
	}
}

// evictOldest 调用方须持有 m.mu。
func (m *MemoryTier) evictOldest() {
	var oldestKey string
	var oldest *memoryEntry

	for key, entry := range m.entries {
		if oldest == nil || entry.lastAccess.Before(oldest.lastAccess) {
			oldestKey = key
			oldest = entry
		}
	}

	if oldest != nil {
		delete(m.entries, oldestKey)
		m.evictions++
	}
}
