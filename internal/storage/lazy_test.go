package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/domain"
)

type fakeSession struct {
	execs  atomic.Int32
	closed atomic.Bool
}

func (f *fakeSession) Exec(context.Context, Statement) error {
	f.execs.Add(1)
	return nil
}

func (f *fakeSession) ExecBatch(context.Context, Batch) error {
	f.execs.Add(1)
	return nil
}

func (f *fakeSession) ListCollectionAddresses(context.Context) ([]string, error) {
	return []string{"0xa"}, nil
}

func (f *fakeSession) GetCollection(context.Context, string) (*domain.Collection, error) {
	return nil, ErrNotFound
}

func (f *fakeSession) GetRankingPartition(context.Context, domain.Metric, domain.Duration) ([]domain.RankingEntry, error) {
	return nil, nil
}

func (f *fakeSession) GetDataPoints(context.Context, string) ([]domain.TimeSeriesPoint, error) {
	return nil, nil
}

func (f *fakeSession) Close() error {
	f.closed.Store(true)
	return nil
}

func TestLazySession_ConnectsOnceOnFirstUse(t *testing.T) {
	var opens atomic.Int32
	fake := &fakeSession{}
	lazy := NewLazySession(func(context.Context) (Session, error) {
		opens.Add(1)
		return fake, nil
	})
	assert.False(t, lazy.Initialized())

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, lazy.Exec(ctx, Statement{}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load())
	assert.Equal(t, int32(16), fake.execs.Load())
	assert.True(t, lazy.Initialized())
}

func TestLazySession_RetriesFailedInit(t *testing.T) {
	calls := 0
	lazy := NewLazySession(func(context.Context) (Session, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("no hosts available")
		}
		return &fakeSession{}, nil
	})
	ctx := context.Background()

	_, err := lazy.ListCollectionAddresses(ctx)
	require.ErrorContains(t, err, "no hosts available")
	assert.False(t, lazy.Initialized())

	addrs, err := lazy.ListCollectionAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa"}, addrs)
	assert.Equal(t, 2, calls)
}

func TestLazySession_Close(t *testing.T) {
	fake := &fakeSession{}
	lazy := NewLazySession(func(context.Context) (Session, error) { return fake, nil })
	ctx := context.Background()

	require.NoError(t, lazy.Close(), "close before first use")
	_, err := lazy.GetCollection(ctx, "0xa")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, fake.closed.Load())

	lazy = NewLazySession(func(context.Context) (Session, error) { return fake, nil })
	require.NoError(t, lazy.ExecBatch(ctx, Batch{}))
	require.NoError(t, lazy.Close())
	assert.True(t, fake.closed.Load())
	assert.ErrorIs(t, lazy.Exec(ctx, Statement{}), ErrSessionClosed)
}
