package clickhouse

import (
	"context"
	"fmt"
	"time"

	"nft-market-etl/internal/storage"
)

// TaskResultStore implements storage.TaskResultStore using ClickHouse.
type TaskResultStore struct {
	conn *Conn
}

// NewTaskResultStore creates a new TaskResultStore.
func NewTaskResultStore(conn *Conn) *TaskResultStore {
	return &TaskResultStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TaskResultStore = (*TaskResultStore)(nil)

// InsertBulk appends records. Fails entire batch on duplicate (task_id, attempt).
func (s *TaskResultStore) InsertBulk(ctx context.Context, records []*storage.TaskResultRecord) error {
	if len(records) == 0 {
		return nil
	}

	type key struct {
		taskID  string
		attempt int
	}
	seen := make(map[key]struct{}, len(records))
	for _, r := range records {
		if r == nil || r.TaskID == "" {
			return storage.ErrInvalidInput
		}
		k := key{r.TaskID, r.Attempt}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, r := range records {
		exists, err := s.exists(ctx, r.TaskID, r.Attempt)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO task_results (
			task_id, name, attempt, operation, status, errors, duration_ms, finished_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		errs := r.Errors
		if errs == nil {
			errs = []string{}
		}
		err = batch.Append(
			r.TaskID, r.Name, uint32(r.Attempt), r.Operation, r.Status,
			errs, uint64(r.DurationMs), r.FinishedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTaskID returns every attempt of a task ordered by attempt ASC.
func (s *TaskResultStore) GetByTaskID(ctx context.Context, taskID string) ([]*storage.TaskResultRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT task_id, name, attempt, operation, status, errors, duration_ms, finished_at
		FROM task_results
		WHERE task_id = ?
		ORDER BY attempt ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	var result []*storage.TaskResultRecord
	for rows.Next() {
		var (
			r          storage.TaskResultRecord
			attempt    uint32
			durationMs uint64
			finishedAt time.Time
		)
		if err := rows.Scan(&r.TaskID, &r.Name, &attempt, &r.Operation, &r.Status,
			&r.Errors, &durationMs, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan task result: %w", err)
		}
		r.Attempt = int(attempt)
		r.DurationMs = int64(durationMs)
		r.FinishedAt = finishedAt.UTC()
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task results: %w", err)
	}
	return result, nil
}

func (s *TaskResultStore) exists(ctx context.Context, taskID string, attempt int) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count() FROM task_results WHERE task_id = ? AND attempt = ?
	`, taskID, uint32(attempt)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
