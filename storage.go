package zenq

import (
	"context"
	"sync"
)

// --- Default In-Memory Storage Implementation ---

// memoryStorage implements Storage using an in-memory sync.Map. It is the
// backend queries and mutation queues fall back to when no driver is wired in.
type memoryStorage struct {
	store      sync.Map // map[string][]byte
	counters   sync.Map // map[string]int
	countersMu sync.Mutex
}

// NewMemoryStorage creates a fresh in-memory Storage, mainly for tests that
// need isolation from DefaultStorage.
func NewMemoryStorage() Storage {
	return &memoryStorage{}
}

// DefaultStorage is the default in-memory storage backend.
var DefaultStorage Storage = &memoryStorage{}

var _ StorageStatsProvider = (*memoryStorage)(nil)

func (m *memoryStorage) Read(ctx context.Context, key string) ([]byte, error) {
	m.incrCounter("Read")
	if v, ok := m.store.Load(key); ok {
		if b, ok := v.([]byte); ok {
			m.incrCounter("ReadHit")
			out := make([]byte, len(b))
			copy(out, b)
			return out, nil
		}
	}
	m.incrCounter("ReadMiss")
	return nil, ErrNotFound
}

func (m *memoryStorage) Write(ctx context.Context, key string, value []byte) error {
	m.incrCounter("Write")
	stored := make([]byte, len(value))
	copy(stored, value)
	m.store.Store(key, stored)
	return nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	m.incrCounter("Delete")
	m.store.Delete(key)
	return nil
}

func (m *memoryStorage) incrCounter(name string) {
	m.countersMu.Lock()
	defer m.countersMu.Unlock()
	val, _ := m.counters.LoadOrStore(name, 0)
	m.counters.Store(name, val.(int)+1)
}

// GetStorageStats returns storage operation statistics for monitoring and
// hit/miss analysis.
func (m *memoryStorage) GetStorageStats(ctx context.Context) StorageStats {
	cloned := make(map[string]int)
	m.counters.Range(func(key, value any) bool {
		k, ok1 := key.(string)
		v, ok2 := value.(int)
		if ok1 && ok2 {
			cloned[k] = v
		}
		return true
	})
	return StorageStats{Counters: cloned}
}
