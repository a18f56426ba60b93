package memory

import (
	"context"
	"sort"
	"sync"

	"nft-market-etl/internal/storage"
)

// CycleStore is an in-memory implementation of storage.CycleStore.
type CycleStore struct {
	mu   sync.RWMutex
	data map[string]*storage.CycleRecord // keyed by cycle id
}

var _ storage.CycleStore = (*CycleStore)(nil)

// NewCycleStore creates a new in-memory cycle store.
func NewCycleStore() *CycleStore {
	return &CycleStore{
		data: make(map[string]*storage.CycleRecord),
	}
}

// Insert adds a cycle record. Returns ErrDuplicateKey if ID exists.
func (s *CycleStore) Insert(_ context.Context, r *storage.CycleRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.ID] = copyCycle(r)
	return nil
}

// GetByID retrieves a cycle. Returns ErrNotFound if absent.
func (s *CycleStore) GetByID(_ context.Context, id string) (*storage.CycleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCycle(r), nil
}

// GetRecent returns up to limit cycles ordered by started_at DESC.
func (s *CycleStore) GetRecent(_ context.Context, limit int) ([]*storage.CycleRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*storage.CycleRecord, 0, len(s.data))
	for _, r := range s.data {
		result = append(result, copyCycle(r))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].ID > result[j].ID
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func copyCycle(r *storage.CycleRecord) *storage.CycleRecord {
	c := *r
	c.Errors = append([]string(nil), r.Errors...)
	return &c
}
