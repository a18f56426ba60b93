package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"nft-market-etl/internal/storage"
)

// ResultSink receives the record of every task execution.
type ResultSink interface {
	Record(ctx context.Context, r Result) error
}

// LogSink writes results to a logger. Failures log at warn level.
type LogSink struct {
	Log logrus.FieldLogger
}

// Record logs r.
func (s LogSink) Record(_ context.Context, r Result) error {
	entry := s.Log.WithFields(logrus.Fields{
		"task_id":     r.TaskID,
		"task":        r.Name,
		"attempt":     r.Attempt,
		"status":      r.Status,
		"duration_ms": r.Duration.Milliseconds(),
	})
	if r.Write != nil {
		entry = entry.WithField("operation", r.Write.Operation)
	}

	switch r.Status {
	case StatusSuccess:
		entry.Debug("task finished")
	case StatusPartialFailure:
		entry.WithField("errors", r.Write.Errors).Warn("task finished with write failures")
	default:
		entry.WithField("error", r.Error).WithField("redeliver", r.Redeliver).Warn("task failed")
	}
	return nil
}

// ResultKeyPrefix prefixes result keys in the Redis result backend.
const ResultKeyPrefix = "task-result:"

// RedisResultBackend stores the latest result of each task as JSON under
// task-result:<id> with a TTL.
type RedisResultBackend struct {
	cli redis.UniversalClient
	ttl time.Duration
}

var _ ResultSink = (*RedisResultBackend)(nil)

// NewRedisResultBackend creates a backend. A zero ttl defaults to 24h.
func NewRedisResultBackend(cli redis.UniversalClient, ttl time.Duration) *RedisResultBackend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisResultBackend{cli: cli, ttl: ttl}
}

// Record stores r, replacing any earlier attempt.
func (b *RedisResultBackend) Record(ctx context.Context, r Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := b.cli.Set(ctx, ResultKeyPrefix+r.TaskID, raw, b.ttl).Err(); err != nil {
		return fmt.Errorf("store result %s: %w", r.TaskID, err)
	}
	return nil
}

// Get returns the stored result of a task. Returns storage.ErrNotFound if
// absent or expired.
func (b *RedisResultBackend) Get(ctx context.Context, taskID string) (*Result, error) {
	raw, err := b.cli.Get(ctx, ResultKeyPrefix+taskID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result %s: %w", taskID, err)
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode result %s: %w", taskID, err)
	}
	return &r, nil
}

// StoreSink appends results to a storage.TaskResultStore.
type StoreSink struct {
	Store storage.TaskResultStore
}

// Record appends r.
func (s StoreSink) Record(ctx context.Context, r Result) error {
	rec := &storage.TaskResultRecord{
		TaskID:     r.TaskID,
		Name:       r.Name,
		Attempt:    r.Attempt,
		Status:     r.Status,
		DurationMs: r.Duration.Milliseconds(),
		FinishedAt: r.FinishedAt,
	}
	if r.Write != nil {
		rec.Operation = r.Write.Operation
		rec.Errors = r.Write.Errors
	}
	if r.Error != "" {
		rec.Errors = append(rec.Errors, r.Error)
	}
	return s.Store.InsertBulk(ctx, []*storage.TaskResultRecord{rec})
}
