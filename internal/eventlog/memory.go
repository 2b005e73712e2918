package eventlog

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implementa Store em memória; usado em testes e execução local
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]Record)}
}

func (m *MemoryStore) Append(ctx context.Context, streamID string, expectedVersion int64, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := int64(len(m.streams[streamID]))
	if cur != expectedVersion {
		return ErrVersionConflict
	}
	for i := range records {
		r := records[i]
		r.StreamID = streamID
		r.Version = cur + int64(i) + 1
		if r.At.IsZero() {
			r.At = time.Now().UTC()
		}
		m.streams[streamID] = append(m.streams[streamID], r)
	}
	return nil
}

func (m *MemoryStore) ReadAll(ctx context.Context, streamID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.streams[streamID]
	out := make([]Record, len(src))
	copy(out, src)
	return out, nil
}
