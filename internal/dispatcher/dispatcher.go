package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/logging"
	"nft-market-etl/internal/observability"
)

// Defaults.
const (
	DefaultWorkers     = 4
	DefaultMaxAttempts = 3
)

// Options configures a Dispatcher.
type Options struct {
	Broker      Broker
	Workers     int
	MaxAttempts int // deliveries per task including the first
	Sinks       []ResultSink
	Logger      logrus.FieldLogger
}

// Dispatcher submits tasks to a broker and runs the worker pool that
// executes them.
type Dispatcher struct {
	broker      Broker
	workers     int
	maxAttempts int
	sinks       []ResultSink
	log         logrus.FieldLogger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a Dispatcher.
func New(opts Options) *Dispatcher {
	d := &Dispatcher{
		broker:      opts.Broker,
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		sinks:       opts.Sinks,
		log:         logging.OrDefault(opts.Logger).WithField("component", "dispatcher"),
		handlers:    make(map[string]Handler),
	}
	if d.workers <= 0 {
		d.workers = DefaultWorkers
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = DefaultMaxAttempts
	}
	return d
}

// Register binds a handler to a task name, replacing any earlier one.
func (d *Dispatcher) Register(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

func (d *Dispatcher) handler(name string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[name]
	return h, ok
}

// Submit enqueues a task and returns its id without waiting for it to run.
func (d *Dispatcher) Submit(ctx context.Context, name string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", name, err)
	}
	t := NewTask(name, raw)
	if err := d.broker.Publish(ctx, t); err != nil {
		return "", fmt.Errorf("submit %s: %w", name, err)
	}
	observability.RecordTaskSubmitted(name)
	return t.ID.String(), nil
}

// Call runs a task synchronously in the caller's goroutine and decodes the
// handler's Value into out. Intended for read tasks.
func (d *Dispatcher) Call(ctx context.Context, name string, payload, out any) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	res, err := d.execute(ctx, NewTask(name, raw))
	d.record(ctx, res)
	if err != nil {
		return res, err
	}
	if out != nil && len(res.Value) > 0 {
		if err := json.Unmarshal(res.Value, out); err != nil {
			return res, fmt.Errorf("decode %s result: %w", name, err)
		}
	}
	return res, nil
}

// Run consumes tasks with the worker pool until ctx is done or the broker
// is closed and drained. In-flight tasks finish even after ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		worker := i
		g.Go(func() error {
			return d.work(gctx, worker)
		})
	}
	d.log.WithField("workers", d.workers).Info("worker pool started")
	err := g.Wait()
	d.log.Info("worker pool stopped")
	return err
}

func (d *Dispatcher) work(ctx context.Context, worker int) error {
	log := d.log.WithField("worker", worker)
	backoff := 100 * time.Millisecond

	for {
		del, err := d.broker.Consume(ctx)
		switch {
		case errors.Is(err, ErrBrokerClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			log.WithError(err).Warn("consume failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = 100 * time.Millisecond

		d.process(context.WithoutCancel(ctx), del)
	}
}

// process executes a delivery, then acks it or hands it back for another attempt.
func (d *Dispatcher) process(ctx context.Context, del *Delivery) {
	res, err := d.execute(ctx, del.Task)

	if err != nil && !IsPermanent(err) && del.Task.Attempt < d.maxAttempts {
		res.Redeliver = true
		if rqErr := d.broker.Requeue(ctx, del); rqErr != nil {
			d.log.WithError(rqErr).WithField("task_id", res.TaskID).Error("requeue failed")
			res.Redeliver = false
		} else {
			observability.RecordTaskRedelivered(del.Task.Name)
		}
	} else if ackErr := d.broker.Ack(ctx, del); ackErr != nil {
		d.log.WithError(ackErr).WithField("task_id", res.TaskID).Error("ack failed")
	}

	d.record(ctx, res)
}

// execute runs the registered handler, converting panics into errors.
func (d *Dispatcher) execute(ctx context.Context, t Task) (res Result, err error) {
	start := time.Now()
	res = Result{TaskID: t.ID.String(), Name: t.Name, Attempt: t.Attempt}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
		res.Duration = time.Since(start)
		res.FinishedAt = time.Now().UTC()
		res.Status = status(res.Write, err)
		if err != nil {
			res.Error = err.Error()
		}
		observability.RecordTaskCompleted(t.Name, res.Status, res.Duration.Seconds())
	}()

	h, ok := d.handler(t.Name)
	if !ok {
		return res, Permanent(fmt.Errorf("%w: %s", ErrUnknownTask, t.Name))
	}

	out, err := h(ctx, t.Payload)
	res.Write = out.Write
	res.Value = out.Value
	return res, err
}

func status(w *domain.WriteResult, err error) string {
	switch {
	case err != nil:
		return StatusError
	case w != nil && !w.OK():
		return StatusPartialFailure
	default:
		return StatusSuccess
	}
}

func (d *Dispatcher) record(ctx context.Context, res Result) {
	for _, s := range d.sinks {
		if err := s.Record(ctx, res); err != nil {
			d.log.WithError(err).WithField("task_id", res.TaskID).Warn("result sink failed")
		}
	}
}
