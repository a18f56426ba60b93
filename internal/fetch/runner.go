// Package fetch runs provider calls under per-provider rate limits and a
// selectable concurrency policy.
package fetch

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// NewLimiter returns a limiter admitting at most calls per window.
// Calls are evenly spaced (burst 1) so no rolling window sees more than calls.
func NewLimiter(calls int, window time.Duration) *rate.Limiter {
	if calls <= 0 {
		calls = 1
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(calls)), 1)
}

// Policy selects how RunAll schedules jobs.
type Policy struct {
	limit int // 0 = unbounded
}

// MaxThroughput runs every job at once; pacing comes only from the
// provider limiter.
func MaxThroughput() Policy {
	return Policy{}
}

// MaxConcurrency keeps at most n jobs in flight.
func MaxConcurrency(n int) Policy {
	if n < 1 {
		n = 1
	}
	return Policy{limit: n}
}

// Limit returns the in-flight bound, or 0 when unbounded.
func (p Policy) Limit() int {
	return p.limit
}

// String returns a readable policy name.
func (p Policy) String() string {
	if p.limit == 0 {
		return "max-throughput"
	}
	return fmt.Sprintf("max-concurrency(%d)", p.limit)
}

// Job is a unit of fetch work.
type Job[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one job.
type Result[T any] struct {
	Value T
	Err   error
}

// RunAll runs jobs under policy and returns one result per job, in
// submission order. A failing or panicking job does not stop its siblings.
func RunAll[T any](ctx context.Context, policy Policy, jobs []Job[T]) []Result[T] {
	results := make([]Result[T], len(jobs))
	if len(jobs) == 0 {
		return results
	}

	var g errgroup.Group
	if policy.limit > 0 {
		g.SetLimit(policy.limit)
	}

	for i, job := range jobs {
		g.Go(func() error {
			results[i] = runJob(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runJob[T any](ctx context.Context, job Job[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: fmt.Errorf("job panicked: %v", r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result[T]{Err: err}
	}
	v, err := job(ctx)
	return Result[T]{Value: v, Err: err}
}
