// Package dispatcher hands named tasks to an asynchronous worker pool with
// at-least-once delivery.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"nft-market-etl/internal/domain"
)

// Errors.
var (
	ErrUnknownTask  = errors.New("unknown task")
	ErrBrokerClosed = errors.New("broker closed")
)

// Task is one unit of queued work.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"` // 1-based
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewTask builds a first-attempt task.
func NewTask(name string, payload json.RawMessage) Task {
	return Task{
		ID:         uuid.New(),
		Name:       name,
		Payload:    payload,
		Attempt:    1,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Outcome is what a handler produces.
type Outcome struct {
	Write *domain.WriteResult // set by write tasks
	Value json.RawMessage     // set by read tasks
}

// Handler executes one task payload. Returning an error requests
// redelivery unless the error is wrapped with Permanent.
type Handler func(ctx context.Context, payload json.RawMessage) (Outcome, error)

// Result statuses.
const (
	StatusSuccess        = "success"
	StatusPartialFailure = "partial_failure"
	StatusError          = "error"
)

// Result is the record of one task execution, emitted to every sink.
type Result struct {
	TaskID     string              `json:"task_id"`
	Name       string              `json:"name"`
	Attempt    int                 `json:"attempt"`
	Status     string              `json:"status"`
	Write      *domain.WriteResult `json:"write,omitempty"`
	Value      json.RawMessage     `json:"value,omitempty"`
	Error      string              `json:"error,omitempty"`
	Redeliver  bool                `json:"redeliver"`
	Duration   time.Duration       `json:"duration_ns"`
	FinishedAt time.Time           `json:"finished_at"`
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
