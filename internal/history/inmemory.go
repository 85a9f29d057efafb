package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process session store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	order   []string
	records map[string]SessionRecord
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]SessionRecord)}
}

func (s *InMemoryStore) SaveSession(_ context.Context, record SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	if record.DurationMS == 0 && !record.StartedAt.IsZero() {
		record.DurationMS = record.EndedAt.Sub(record.StartedAt).Milliseconds()
	}
	if _, exists := s.records[record.ID]; !exists {
		s.order = append(s.order, record.ID)
	}
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryStore) RecentSessions(_ context.Context, limit int) ([]SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]SessionRecord, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.records[s.order[i]])
	}
	return out, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, id string) (SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return r, nil
}

func (s *InMemoryStore) Close() error { return nil }
