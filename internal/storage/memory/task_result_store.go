package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"nft-market-etl/internal/storage"
)

// TaskResultStore is an in-memory implementation of storage.TaskResultStore.
type TaskResultStore struct {
	mu   sync.RWMutex
	data map[string]*storage.TaskResultRecord // keyed by (task_id, attempt)
}

var _ storage.TaskResultStore = (*TaskResultStore)(nil)

// NewTaskResultStore creates a new in-memory task result store.
func NewTaskResultStore() *TaskResultStore {
	return &TaskResultStore{
		data: make(map[string]*storage.TaskResultRecord),
	}
}

func taskResultKey(taskID string, attempt int) string {
	return fmt.Sprintf("%s|%d", taskID, attempt)
}

// InsertBulk appends records. Fails entire batch on duplicate.
func (s *TaskResultStore) InsertBulk(_ context.Context, records []*storage.TaskResultRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.TaskID == "" {
			return storage.ErrInvalidInput
		}
		key := taskResultKey(r.TaskID, r.Attempt)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, r := range records {
		c := *r
		c.Errors = append([]string(nil), r.Errors...)
		s.data[taskResultKey(r.TaskID, r.Attempt)] = &c
	}
	return nil
}

// GetByTaskID returns every attempt of a task ordered by attempt ASC.
func (s *TaskResultStore) GetByTaskID(_ context.Context, taskID string) ([]*storage.TaskResultRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.TaskResultRecord
	for _, r := range s.data {
		if r.TaskID == taskID {
			c := *r
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Attempt < result[j].Attempt })
	return result, nil
}
