package storage

import (
	"context"
	"time"

	"nft-market-etl/internal/domain"
)

// Executor runs typed statements against the wide-column store.
type Executor interface {
	// Exec runs a single statement.
	Exec(ctx context.Context, stmt Statement) error

	// ExecBatch runs statements as one CQL batch.
	ExecBatch(ctx context.Context, batch Batch) error
}

// Reader reads the wide-column tables.
type Reader interface {
	// ListCollectionAddresses returns every stored collection address, sorted.
	ListCollectionAddresses(ctx context.Context) ([]string, error)

	// GetCollection retrieves one collection. Returns ErrNotFound if absent.
	GetCollection(ctx context.Context, address string) (*domain.Collection, error)

	// GetRankingPartition returns the rows of one (metric, duration)
	// partition ordered by position ASC.
	GetRankingPartition(ctx context.Context, metric domain.Metric, duration domain.Duration) ([]domain.RankingEntry, error)

	// GetDataPoints returns the points of a collection ordered by timestamp ASC.
	GetDataPoints(ctx context.Context, collection string) ([]domain.TimeSeriesPoint, error)
}

// Session is a connection to the wide-column store.
type Session interface {
	Executor
	Reader
	Close() error
}

// CycleRecord is the persisted summary of one refresh cycle.
type CycleRecord struct {
	ID                 string
	StartedAt          time.Time
	FinishedAt         time.Time
	Outcome            string // success | partial_failure | failed
	Discovered         int
	Known              int
	New                int
	TasksSubmitted     int
	FloorGroupsSkipped int
	Errors             []string
}

// CycleStore keeps refresh cycle history.
type CycleStore interface {
	// Insert adds a cycle record. Returns ErrDuplicateKey if ID exists.
	Insert(ctx context.Context, r *CycleRecord) error

	// GetByID retrieves a cycle. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id string) (*CycleRecord, error)

	// GetRecent returns up to limit cycles, newest first.
	GetRecent(ctx context.Context, limit int) ([]*CycleRecord, error)
}

// TaskResultRecord is one task execution outcome.
type TaskResultRecord struct {
	TaskID     string
	Name       string
	Attempt    int
	Operation  string
	Status     string // success | partial_failure | error
	Errors     []string
	DurationMs int64
	FinishedAt time.Time
}

// TaskResultStore is an append-only audit log of task executions.
type TaskResultStore interface {
	// InsertBulk appends records.
	InsertBulk(ctx context.Context, records []*TaskResultRecord) error

	// GetByTaskID returns every attempt of a task ordered by attempt ASC.
	GetByTaskID(ctx context.Context, taskID string) ([]*TaskResultRecord, error)
}
