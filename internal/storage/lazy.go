package storage

import (
	"context"
	"fmt"
	"sync"

	"nft-market-etl/internal/domain"
)

// Factory opens a new Session.
type Factory func(ctx context.Context) (Session, error)

// LazySession connects on first use and reuses the connection afterwards.
// A failed connect is retried on the next call. Safe for concurrent use.
type LazySession struct {
	factory Factory

	mu      sync.Mutex
	session Session
	closed  bool
}

var _ Session = (*LazySession)(nil)

// NewLazySession creates a guard around factory. No connection is made yet.
func NewLazySession(factory Factory) *LazySession {
	return &LazySession{factory: factory}
}

// Get returns the underlying session, connecting if needed.
func (l *LazySession) Get(ctx context.Context) (Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrSessionClosed
	}
	if l.session != nil {
		return l.session, nil
	}

	s, err := l.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	l.session = s
	return s, nil
}

// Initialized reports whether a connection has been made.
func (l *LazySession) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session != nil
}

func (l *LazySession) Exec(ctx context.Context, stmt Statement) error {
	s, err := l.Get(ctx)
	if err != nil {
		return err
	}
	return s.Exec(ctx, stmt)
}

func (l *LazySession) ExecBatch(ctx context.Context, batch Batch) error {
	s, err := l.Get(ctx)
	if err != nil {
		return err
	}
	return s.ExecBatch(ctx, batch)
}

func (l *LazySession) ListCollectionAddresses(ctx context.Context) ([]string, error) {
	s, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.ListCollectionAddresses(ctx)
}

func (l *LazySession) GetCollection(ctx context.Context, address string) (*domain.Collection, error) {
	s, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetCollection(ctx, address)
}

func (l *LazySession) GetRankingPartition(ctx context.Context, metric domain.Metric, duration domain.Duration) ([]domain.RankingEntry, error) {
	s, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetRankingPartition(ctx, metric, duration)
}

func (l *LazySession) GetDataPoints(ctx context.Context, collection string) ([]domain.TimeSeriesPoint, error) {
	s, err := l.Get(ctx)
	if err != nil {
		return nil, err
	}
	return s.GetDataPoints(ctx, collection)
}

// Close closes the underlying session if one was opened.
// Later calls return ErrSessionClosed.
func (l *LazySession) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	if l.session == nil {
		return nil
	}
	err := l.session.Close()
	l.session = nil
	return err
}
