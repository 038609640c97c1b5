package audit

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryLog is a Log held in process memory.
type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	streams map[uuid.UUID][]int
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{streams: make(map[uuid.UUID][]int)}
}

func (m *MemoryLog) Append(ctx context.Context, aggregateID uuid.UUID, expectedVersion int, entries []Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if expectedVersion < 0 {
		return ErrInvalidVersion
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.streams[aggregateID]) != expectedVersion {
		return ErrConcurrencyConflict
	}
	for i, e := range entries {
		e.ID = int64(len(m.entries) + 1)
		e.AggregateID = aggregateID
		e.Version = expectedVersion + i + 1
		m.streams[aggregateID] = append(m.streams[aggregateID], len(m.entries))
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *MemoryLog) Load(ctx context.Context, aggregateID uuid.UUID, fromVersion, toVersion int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, idx := range m.streams[aggregateID] {
		e := m.entries[idx]
		if e.Version < fromVersion || (toVersion > 0 && e.Version > toVersion) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MemoryLog) CurrentVersion(ctx context.Context, aggregateID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.streams[aggregateID]), nil
}

func (m *MemoryLog) Stream(ctx context.Context, afterID int64, batchSize int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	start := int(max(afterID, 0))
	if start >= len(m.entries) {
		return nil, nil
	}
	end := len(m.entries)
	if batchSize > 0 {
		end = min(end, start+batchSize)
	}
	return append([]Entry(nil), m.entries[start:end]...), nil
}

var _ Log = (*MemoryLog)(nil)
