package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"nft-market-etl/internal/logging"
)

// RedisBrokerOptions configures a RedisBroker.
type RedisBrokerOptions struct {
	Client       redis.UniversalClient
	Queue        string        // list key; processing list is Queue + ":processing"
	BlockTimeout time.Duration // BLMOVE timeout; bounds how long Close takes to be noticed
	Logger       logrus.FieldLogger
}

// RedisBroker is a reliable list queue. Publish pushes on the left of the
// queue; Consume atomically moves the rightmost task into a processing
// list; Ack removes it from there. Tasks left in the processing list by a
// crashed worker are moved back by Recover.
type RedisBroker struct {
	cli        redis.UniversalClient
	queue      string
	processing string
	block      time.Duration
	log        logrus.FieldLogger
	closed     atomic.Bool
}

var _ Broker = (*RedisBroker)(nil)

// NewRedisBroker creates a broker. The caller owns the client.
func NewRedisBroker(opts RedisBrokerOptions) *RedisBroker {
	queue := opts.Queue
	if queue == "" {
		queue = "nft-etl:tasks"
	}
	block := opts.BlockTimeout
	if block <= 0 {
		block = time.Second
	}
	return &RedisBroker{
		cli:        opts.Client,
		queue:      queue,
		processing: queue + ":processing",
		block:      block,
		log:        logging.OrDefault(opts.Logger).WithField("component", "redis_broker"),
	}
}

// Publish enqueues t.
func (b *RedisBroker) Publish(ctx context.Context, t Task) error {
	if b.closed.Load() {
		return ErrBrokerClosed
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := b.cli.LPush(ctx, b.queue, raw).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", b.queue, err)
	}
	return nil
}

// Consume blocks until a task is moved into the processing list.
func (b *RedisBroker) Consume(ctx context.Context) (*Delivery, error) {
	for {
		if b.closed.Load() {
			return nil, ErrBrokerClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := b.cli.BLMove(ctx, b.queue, b.processing, "RIGHT", "LEFT", b.block).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("blmove %s: %w", b.queue, err)
		}

		var t Task
		if err := json.Unmarshal([]byte(raw), &t); err != nil {
			b.log.WithError(err).Error("dropping undecodable task")
			if err := b.cli.LRem(ctx, b.processing, 1, raw).Err(); err != nil {
				return nil, fmt.Errorf("lrem undecodable task: %w", err)
			}
			continue
		}
		return &Delivery{Task: t, raw: raw}, nil
	}
}

// Ack removes the delivery from the processing list.
func (b *RedisBroker) Ack(ctx context.Context, d *Delivery) error {
	if err := b.cli.LRem(ctx, b.processing, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("lrem %s: %w", b.processing, err)
	}
	return nil
}

// Requeue atomically replaces the delivery with its next attempt.
func (b *RedisBroker) Requeue(ctx context.Context, d *Delivery) error {
	t := d.Task
	t.Attempt++
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	pipe := b.cli.TxPipeline()
	pipe.LRem(ctx, b.processing, 1, d.raw)
	pipe.LPush(ctx, b.queue, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("requeue task %s: %w", t.ID, err)
	}
	return nil
}

// Recover moves every task stranded in the processing list back to the
// queue and returns how many were moved. Run it before starting workers.
func (b *RedisBroker) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := b.cli.LMove(ctx, b.processing, b.queue, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("lmove %s: %w", b.processing, err)
		}
		n++
	}
}

// Len returns the number of queued tasks.
func (b *RedisBroker) Len(ctx context.Context) (int64, error) {
	return b.cli.LLen(ctx, b.queue).Result()
}

// Close stops accepting and consuming tasks. The client stays open.
func (b *RedisBroker) Close() error {
	b.closed.Store(true)
	return nil
}
