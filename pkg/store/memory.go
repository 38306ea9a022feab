package store

import (
	"context"
	"sync"

	"github.com/gravito-framework/pulsar-go/pkg/types"
)

// MemoryStore keeps samples in a bounded in-process ring
type MemoryStore struct {
	mu       sync.RWMutex
	samples  []types.Sample // oldest first
	capacity int            // 0 = unbounded
}

// NewMemoryStore creates a store holding at most capacity samples (0 = unbounded)
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{capacity: capacity}
}

// Append adds a sample, evicting the oldest when full
func (m *MemoryStore) Append(_ context.Context, s types.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples = append(m.samples, s)
	if m.capacity > 0 && len(m.samples) > m.capacity {
		// Copy down so the backing array does not grow forever
		n := copy(m.samples, m.samples[len(m.samples)-m.capacity:])
		m.samples = m.samples[:n]
	}
	return nil
}

// QueryRecent returns at most n samples, newest first
func (m *MemoryStore) QueryRecent(_ context.Context, n int) ([]types.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || len(m.samples) == 0 {
		return []types.Sample{}, nil
	}
	if n > len(m.samples) {
		n = len(m.samples)
	}

	out := make([]types.Sample, 0, n)
	for i := len(m.samples) - 1; i >= len(m.samples)-n; i-- {
		out = append(out, m.samples[i])
	}
	return out, nil
}

// Len returns the number of retained samples
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.samples)
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
