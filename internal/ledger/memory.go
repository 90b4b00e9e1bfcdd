package ledger

import (
	"context"
	"sync"
)

// Memory is a Store that lives only in process memory.
type Memory struct {
	mu   sync.RWMutex
	days Snapshot
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{days: Snapshot{}}
}

func (m *Memory) Load(ctx context.Context) (Snapshot, error) {
	return m.QueryAll(ctx)
}

func (m *Memory) Append(_ context.Context, date string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.days[date] = append(m.days[date], rec.Clone())
	return nil
}

func (m *Memory) QueryDay(_ context.Context, date string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return CloneRecords(m.days[date]), nil
}

func (m *Memory) QueryAll(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.days.Clone(), nil
}
