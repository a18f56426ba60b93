package tasks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/dispatcher"
	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/storage/memory"
	"nft-market-etl/internal/writer"
)

func setup(t *testing.T) (*dispatcher.Dispatcher, *memory.Session) {
	t.Helper()
	sess := memory.NewSession()
	d := dispatcher.New(dispatcher.Options{Broker: dispatcher.NewChannelBroker(16)})
	Register(d, writer.New(writer.Options{Executor: sess, MaxRetries: -1}), sess)
	return d, sess
}

func TestRegister_BindsCatalogue(t *testing.T) {
	rec := &recordingRegistry{}
	Register(rec, nil, nil)
	assert.ElementsMatch(t, Names, rec.names)
}

func TestCreateAndGetRankings(t *testing.T) {
	d, _ := setup(t)
	ctx := context.Background()
	now := time.Now()

	entries := []domain.RankingEntry{
		{Metric: domain.MetricAvgPrice, Duration: domain.DurationOneDay, Position: 2, Collection: "0xb", Value: decimal.RequireFromString("1.5"), Provider: domain.ProviderMnemonic},
		{Metric: domain.MetricAvgPrice, Duration: domain.DurationOneDay, Position: 1, Collection: "0xa", Value: decimal.RequireFromString("9.25"), Provider: domain.ProviderMnemonic},
	}
	res, err := d.Call(ctx, CreateRankings, RankingsPayload{
		Metric: domain.MetricAvgPrice, Duration: domain.DurationOneDay, Entries: entries, FetchedAt: now,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Write)
	assert.True(t, res.Write.OK())

	got, err := FetchRankings(ctx, d, domain.MetricAvgPrice, domain.DurationOneDay)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "0xa", got[0].Collection)
	assert.True(t, got[0].Value.Equal(decimal.RequireFromString("9.25")))
}

func TestGetRankings_InvalidQueryIsPermanent(t *testing.T) {
	d, _ := setup(t)
	_, err := FetchRankings(context.Background(), d, "floor", domain.DurationOneDay)
	require.Error(t, err)
	assert.True(t, dispatcher.IsPermanent(err))
}

func TestDeleteRankings_RemovesOlderPartitions(t *testing.T) {
	d, sess := setup(t)
	ctx := context.Background()
	fetched := time.Now().Add(-time.Minute)

	_, err := d.Call(ctx, CreateRankings, RankingsPayload{
		Metric:   domain.MetricSalesVolume,
		Duration: domain.DurationAllTime,
		Entries: []domain.RankingEntry{
			{Metric: domain.MetricSalesVolume, Duration: domain.DurationAllTime, Position: 1, Collection: "0xa", Value: decimal.NewFromInt(10)},
		},
		FetchedAt: fetched,
	}, nil)
	require.NoError(t, err)

	res, err := d.Call(ctx, DeleteRankings, DeleteRankingsPayload{CycleStart: time.Now()}, nil)
	require.NoError(t, err)
	assert.Equal(t, writer.DeleteAllRankingsOp, res.Write.Operation)

	rows, err := sess.GetRankingPartition(ctx, domain.MetricSalesVolume, domain.DurationAllTime)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateSeriesAndFloor(t *testing.T) {
	d, sess := setup(t)
	ctx := context.Background()

	_, err := d.Call(ctx, UpsertCollection, CollectionPayload{Collection: domain.Collection{Address: "0xa", Name: "A", Types: []string{"ERC721"}}}, nil)
	require.NoError(t, err)

	owners := int64(42)
	_, err = d.Call(ctx, UpdateOwners, SeriesPayload{
		Collection: "0xa",
		Points:     []domain.TimeSeriesPoint{{Collection: "0xa", Timestamp: "2023-01-01T00:00:00+0000", OwnersCount: &owners}},
	}, nil)
	require.NoError(t, err)

	res, err := d.Call(ctx, UpdateFloor, FloorPayload{Floors: []domain.CollectionFloor{{Collection: "0xa", Floor: decimal.RequireFromString("0.8")}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "floor/1", res.Write.Operation)

	col, err := sess.GetCollection(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, "A", col.Name)
	require.NotNil(t, col.Floor)
	assert.True(t, col.Floor.Equal(decimal.RequireFromString("0.8")))

	points, err := sess.GetDataPoints(ctx, "0xa")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(42), *points[0].OwnersCount)
	assert.Nil(t, points[0].AvgPrice)
}

func TestWriteTask_BadPayloadIsPermanent(t *testing.T) {
	d, _ := setup(t)
	_, err := d.Call(context.Background(), UpdatePrices, "not an object", nil)
	require.Error(t, err)
	assert.True(t, dispatcher.IsPermanent(err))
}

func TestWriteTask_PartialFailureIsData(t *testing.T) {
	d, sess := setup(t)
	sess.FailOn(func(int, memory.Call) error { return assert.AnError })

	res, err := d.Call(context.Background(), UpsertCollection, CollectionPayload{Collection: domain.Collection{Address: "0xa"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, dispatcher.StatusPartialFailure, res.Status)
	assert.Equal(t, domain.WriteStatusPartialFailure, res.Write.Status)
}

func TestClient_SubmitsNamedTasks(t *testing.T) {
	sub := &recordingSubmitter{}
	c := NewClient(sub)
	ctx := context.Background()

	_, err := c.UpsertCollection(ctx, domain.Collection{Address: "0xa"})
	require.NoError(t, err)
	_, err = c.UpdateSeries(ctx, domain.SeriesTokens, "0xa", nil)
	require.NoError(t, err)
	_, err = c.DeleteRankings(ctx, time.Now())
	require.NoError(t, err)
	_, err = c.UpdateSeries(ctx, "volume", "0xa", nil)
	assert.Error(t, err)

	assert.Equal(t, []string{UpsertCollection, UpdateTokens, DeleteRankings}, sub.names)
}

type recordingRegistry struct {
	names []string
}

func (r *recordingRegistry) Register(name string, _ dispatcher.Handler) {
	r.names = append(r.names, name)
}

type recordingSubmitter struct {
	mu    sync.Mutex
	names []string
}

func (s *recordingSubmitter) Submit(_ context.Context, name string, _ any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	return name, nil
}
