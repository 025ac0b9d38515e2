package bus

import (
	"context"
	"sync"
)

// MemoryCursorStore is an in-process CursorStore, used for tests and by
// subscribers that tolerate replaying their whole history on restart.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

// NewMemoryCursorStore creates an empty MemoryCursorStore.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]uint64)}
}

func cursorKey(subscriberID string, stream Stream) string {
	return subscriberID + "|" + string(stream)
}

func (m *MemoryCursorStore) Load(ctx context.Context, subscriberID string, stream Stream) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[cursorKey(subscriberID, stream)], nil
}

func (m *MemoryCursorStore) Save(ctx context.Context, subscriberID string, stream Stream, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[cursorKey(subscriberID, stream)] = seq
	return nil
}
