// Package writer turns canonical records into chunked, retried statement
// batches and reports every outcome as a domain.WriteResult.
package writer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/logging"
	"nft-market-etl/internal/observability"
	"nft-market-etl/internal/storage"
)

// MaxBatchSize is the statement ceiling of one storage batch.
const MaxBatchSize = 30

// Defaults.
const (
	DefaultMaxRetries = 2
	DefaultRetryDelay = 200 * time.Millisecond
	DefaultMaxDelay   = 2 * time.Second
)

// Options configures a Writer.
type Options struct {
	Executor   storage.Executor
	BatchSize  int // statements per batch, capped at MaxBatchSize
	MaxRetries int // extra attempts per chunk; negative disables retries
	RetryDelay time.Duration
	MaxDelay   time.Duration
	Logger     logrus.FieldLogger
}

// Writer executes logical write operations best-effort: a failed chunk is
// recorded and the remaining chunks still run.
type Writer struct {
	exec       storage.Executor
	batchSize  int
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
	log        logrus.FieldLogger
}

// New creates a Writer.
func New(opts Options) *Writer {
	w := &Writer{
		exec:       opts.Executor,
		batchSize:  opts.BatchSize,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		maxDelay:   opts.MaxDelay,
		log:        logging.OrDefault(opts.Logger).WithField("component", "writer"),
	}
	if w.batchSize <= 0 || w.batchSize > MaxBatchSize {
		w.batchSize = MaxBatchSize
	}
	if w.maxRetries == 0 {
		w.maxRetries = DefaultMaxRetries
	}
	if w.maxRetries < 0 {
		w.maxRetries = 0
	}
	if w.retryDelay <= 0 {
		w.retryDelay = DefaultRetryDelay
	}
	if w.maxDelay <= 0 {
		w.maxDelay = DefaultMaxDelay
	}
	return w
}

// Operation ids.
func collectionOp(address string) string { return "collection/upsert/" + address }
func rankingOp(m domain.Metric, d domain.Duration) string {
	return fmt.Sprintf("ranking/%s/%s", m, d)
}
func seriesOp(kind domain.SeriesKind, address string) string { return string(kind) + "/" + address }
func floorOp(n int) string                                   { return fmt.Sprintf("floor/%d", n) }

// DeleteAllRankingsOp is the operation id of DeleteAllRankings.
const DeleteAllRankingsOp = "ranking/delete/all"

// UpsertCollection writes collection metadata. Floor is left untouched.
func (w *Writer) UpsertCollection(ctx context.Context, c domain.Collection) domain.WriteResult {
	op := collectionOp(c.Address)
	if c.Address == "" {
		return invalid(op, "empty collection address")
	}
	return w.Write(ctx, op, []storage.Statement{storage.UpsertCollection(c)}, true)
}

// ReplaceRankingPartition replaces the (metric, duration) partition with
// entries. The partition delete is written just before fetchedAt so it
// removes every older row but none of the rows inserted here.
func (w *Writer) ReplaceRankingPartition(ctx context.Context, metric domain.Metric, duration domain.Duration, entries []domain.RankingEntry, fetchedAt time.Time) domain.WriteResult {
	op := rankingOp(metric, duration)
	if !metric.IsValid() || !duration.IsValid() {
		return invalid(op, "unknown metric or duration")
	}

	ts := storage.Micros(fetchedAt)
	stmts := make([]storage.Statement, 0, len(entries)+1)
	stmts = append(stmts, storage.DeleteRankingPartition(metric, duration, ts-1))
	for _, e := range entries {
		if e.Metric != metric || e.Duration != duration || e.Collection == "" {
			return invalid(op, fmt.Sprintf("entry %q does not belong to partition", e.Collection))
		}
		stmts = append(stmts, storage.InsertRanking(e, ts))
	}
	return w.Write(ctx, op, stmts, true)
}

// DeleteAllRankings removes every ranking partition written at or before
// cycleStart.
func (w *Writer) DeleteAllRankings(ctx context.Context, cycleStart time.Time) domain.WriteResult {
	ts := storage.Micros(cycleStart)
	stmts := make([]storage.Statement, 0, len(domain.AllMetrics)*len(domain.AllDurations))
	for _, m := range domain.AllMetrics {
		for _, d := range domain.AllDurations {
			stmts = append(stmts, storage.DeleteRankingPartition(m, d, ts))
		}
	}
	return w.Write(ctx, DeleteAllRankingsOp, stmts, true)
}

// UpsertTimeSeries writes the kind's fields of every point of one
// collection. Nil fields are not written.
func (w *Writer) UpsertTimeSeries(ctx context.Context, kind domain.SeriesKind, collection string, points []domain.TimeSeriesPoint) domain.WriteResult {
	op := seriesOp(kind, collection)
	if !kind.IsValid() {
		return invalid(op, "unknown series kind")
	}

	stmts := make([]storage.Statement, 0, len(points))
	for _, p := range points {
		if p.Collection != collection {
			return invalid(op, fmt.Sprintf("point for %q in series of %q", p.Collection, collection))
		}
		if stmt, ok := storage.UpdateDataPoint(kind, p); ok {
			stmts = append(stmts, stmt)
		}
	}
	return w.Write(ctx, op, stmts, true)
}

// UpsertFloorPrices writes reconciled floors with unlogged batches.
func (w *Writer) UpsertFloorPrices(ctx context.Context, floors []domain.CollectionFloor) domain.WriteResult {
	op := floorOp(len(floors))
	stmts := make([]storage.Statement, 0, len(floors))
	for _, f := range floors {
		if f.Collection == "" {
			continue
		}
		stmts = append(stmts, storage.SetFloor(f))
	}
	return w.Write(ctx, op, stmts, false)
}

// Write executes stmts in chunks of the batch size. A single statement is
// executed directly; more are sent as batches.
func (w *Writer) Write(ctx context.Context, operation string, stmts []storage.Statement, logged bool) domain.WriteResult {
	res := domain.WriteResult{Operation: operation, Status: domain.WriteStatusSuccess}
	log := w.log.WithField("operation", operation)
	label := metricLabel(operation)

	for i, chunk := 0, 0; i < len(stmts); i, chunk = i+w.batchSize, chunk+1 {
		end := min(i+w.batchSize, len(stmts))
		part := stmts[i:end]
		res.Attempted++

		err := w.execChunk(ctx, part, logged)
		observability.RecordWriteChunk(label, err != nil)
		if err == nil {
			continue
		}

		wErr := &storage.WriteError{Operation: operation, Chunk: chunk, Size: len(part), Err: err}
		res.Failed++
		res.Errors = append(res.Errors, wErr.Error())
		log.WithError(err).WithField("chunk", chunk).Warn("chunk failed after retries")
	}

	if res.Failed > 0 {
		res.Status = domain.WriteStatusPartialFailure
	}
	return res
}

// execChunk runs one chunk with bounded retries and exponential backoff.
func (w *Writer) execChunk(ctx context.Context, part []storage.Statement, logged bool) error {
	delay := w.retryDelay
	var lastErr error

	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
			case <-time.After(delay):
			}
			delay *= 2
			if delay > w.maxDelay {
				delay = w.maxDelay
			}
		}

		lastErr = w.execOnce(ctx, part, logged)
		if lastErr == nil {
			return nil
		}
		if isPermanent(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (w *Writer) execOnce(ctx context.Context, part []storage.Statement, logged bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("storage panic: %v", r)
		}
	}()
	if len(part) == 1 {
		return w.exec.Exec(ctx, part[0])
	}
	return w.exec.ExecBatch(ctx, storage.Batch{Logged: logged, Statements: part})
}

// isPermanent reports errors that a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, storage.ErrInvalidInput) || errors.Is(err, storage.ErrSessionClosed)
}

func invalid(op, reason string) domain.WriteResult {
	return domain.WriteResult{
		Operation: op,
		Status:    domain.WriteStatusPartialFailure,
		Errors:    []string{fmt.Sprintf("%s: %v: %s", op, storage.ErrInvalidInput, reason)},
		Failed:    1,
	}
}

// metricLabel keeps the operation family only, e.g. "ranking" or "prices".
func metricLabel(operation string) string {
	if i := strings.IndexByte(operation, '/'); i > 0 {
		return operation[:i]
	}
	return operation
}
