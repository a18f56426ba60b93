package postgres

import (
	"context"
	"fmt"

	"nft-market-etl/internal/storage"
)

// CycleStore is a PostgreSQL implementation of storage.CycleStore.
// One row per refresh cycle in refresh_cycles; errors are a text[] column.
type CycleStore struct {
	pool *Pool
}

var _ storage.CycleStore = (*CycleStore)(nil)

// NewCycleStore creates a new PostgreSQL cycle store.
func NewCycleStore(pool *Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// Insert adds a cycle record. Returns ErrDuplicateKey if ID exists.
func (s *CycleStore) Insert(ctx context.Context, r *storage.CycleRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	errs := r.Errors
	if errs == nil {
		errs = []string{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_cycles (
			id, started_at, finished_at, outcome,
			discovered, known, new_collections, tasks_submitted, floor_groups_skipped, errors
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.StartedAt, r.FinishedAt, r.Outcome,
		r.Discovered, r.Known, r.New, r.TasksSubmitted, r.FloorGroupsSkipped, errs)
	if isDuplicateKeyError(err) {
		return storage.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("insert refresh cycle: %w", err)
	}
	return nil
}

// GetByID retrieves a cycle. Returns ErrNotFound if absent.
func (s *CycleStore) GetByID(ctx context.Context, id string) (*storage.CycleRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, started_at, finished_at, outcome,
		       discovered, known, new_collections, tasks_submitted, floor_groups_skipped, errors
		FROM refresh_cycles
		WHERE id = $1
	`, id)

	r, err := scanCycle(row)
	if isNotFoundError(err) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh cycle: %w", err)
	}
	return r, nil
}

// GetRecent returns up to limit cycles ordered by started_at DESC.
func (s *CycleStore) GetRecent(ctx context.Context, limit int) ([]*storage.CycleRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, started_at, finished_at, outcome,
		       discovered, known, new_collections, tasks_submitted, floor_groups_skipped, errors
		FROM refresh_cycles
		ORDER BY started_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query refresh cycles: %w", err)
	}
	defer rows.Close()

	var result []*storage.CycleRecord
	for rows.Next() {
		r, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refresh cycle: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCycle(row scanner) (*storage.CycleRecord, error) {
	var r storage.CycleRecord
	err := row.Scan(
		&r.ID, &r.StartedAt, &r.FinishedAt, &r.Outcome,
		&r.Discovered, &r.Known, &r.New, &r.TasksSubmitted, &r.FloorGroupsSkipped, &r.Errors,
	)
	if err != nil {
		return nil, err
	}
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}
