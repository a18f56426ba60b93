package dispatcher

import (
	"context"
	"sync"
)

// Delivery is a task taken from a broker. It must be acked or requeued.
type Delivery struct {
	Task Task
	raw  string // broker-specific receipt
}

// Broker is a one-way task queue with at-least-once delivery.
type Broker interface {
	// Publish enqueues a task.
	Publish(ctx context.Context, t Task) error

	// Consume blocks until a task is available. Returns ErrBrokerClosed
	// once the broker is closed and drained.
	Consume(ctx context.Context) (*Delivery, error)

	// Ack removes a delivered task for good.
	Ack(ctx context.Context, d *Delivery) error

	// Requeue puts a delivered task back with its attempt incremented.
	Requeue(ctx context.Context, d *Delivery) error

	// Close stops accepting new tasks.
	Close() error
}

// ChannelBroker is an in-process Broker over a buffered channel.
// Publish blocks while the buffer is full. Redeliveries go to an unbounded
// retry list that Consume drains first, so a worker never blocks handing a
// task back. After Close, Consume returns ErrBrokerClosed only once the
// buffer and the retry list are empty and no delivery is outstanding.
type ChannelBroker struct {
	ch   chan Task
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	retry    []Task
	inflight int           // delivered, not yet acked or requeued
	changed  chan struct{} // closed and replaced on every retry/inflight/close change
}

var _ Broker = (*ChannelBroker)(nil)

// NewChannelBroker creates a broker buffering up to size tasks.
func NewChannelBroker(size int) *ChannelBroker {
	if size <= 0 {
		size = 1024
	}
	return &ChannelBroker{
		ch:      make(chan Task, size),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
}

// signal wakes every waiting consumer. Callers hold b.mu.
func (b *ChannelBroker) signal() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Publish enqueues t, blocking while the buffer is full.
func (b *ChannelBroker) Publish(ctx context.Context, t Task) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrBrokerClosed
	}

	select {
	case b.ch <- t:
		return nil
	case <-b.done:
		return ErrBrokerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume returns the next task, redeliveries first.
func (b *ChannelBroker) Consume(ctx context.Context) (*Delivery, error) {
	for {
		b.mu.Lock()
		if len(b.retry) > 0 {
			t := b.retry[0]
			b.retry = b.retry[1:]
			b.inflight++
			b.mu.Unlock()
			return &Delivery{Task: t}, nil
		}
		select {
		case t := <-b.ch:
			b.inflight++
			b.mu.Unlock()
			return &Delivery{Task: t}, nil
		default:
		}
		if b.closed && b.inflight == 0 {
			b.mu.Unlock()
			return nil, ErrBrokerClosed
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case t := <-b.ch:
			b.mu.Lock()
			b.inflight++
			b.mu.Unlock()
			return &Delivery{Task: t}, nil
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ack settles a delivery; the task has already left the queue.
func (b *ChannelBroker) Ack(context.Context, *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.settle()
	return nil
}

// Requeue appends the task to the retry list with its attempt incremented.
// It never blocks and is accepted after Close.
func (b *ChannelBroker) Requeue(_ context.Context, d *Delivery) error {
	t := d.Task
	t.Attempt++

	b.mu.Lock()
	defer b.mu.Unlock()
	b.retry = append(b.retry, t)
	b.settle()
	return nil
}

func (b *ChannelBroker) settle() {
	if b.inflight > 0 {
		b.inflight--
	}
	b.signal()
}

// Len returns the number of queued tasks, redeliveries included.
func (b *ChannelBroker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ch) + len(b.retry)
}

// Close stops accepting new tasks.
func (b *ChannelBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
		b.signal()
	}
	return nil
}
