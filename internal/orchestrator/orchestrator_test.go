package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/dispatcher"
	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/logging"
	"nft-market-etl/internal/provider/gallop"
	"nft-market-etl/internal/provider/mnemonic"
	"nft-market-etl/internal/provider/stub"
	"nft-market-etl/internal/provider/wire"
	"nft-market-etl/internal/storage/memory"
	"nft-market-etl/internal/tasks"
	"nft-market-etl/internal/writer"
)

// inline runs every submitted task immediately so that storage can be
// inspected as soon as RunCycle returns.
type inline struct {
	d *dispatcher.Dispatcher
}

func (s inline) Submit(ctx context.Context, name string, payload any) (string, error) {
	res, err := s.d.Call(ctx, name, payload, nil)
	return res.TaskID, err
}

type harness struct {
	sess     *memory.Session
	writer   *writer.Writer
	mnemonic *stub.Mnemonic
	gallop   *stub.Gallop
	cycles   *memory.CycleStore
	d        *dispatcher.Dispatcher
	opts     Options
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sess:     memory.NewSession(),
		mnemonic: stub.NewMnemonic(),
		gallop:   stub.NewGallop(),
		cycles:   memory.NewCycleStore(),
	}
	h.writer = writer.New(writer.Options{Executor: h.sess, MaxRetries: -1, Logger: logging.Discard()})
	h.d = dispatcher.New(dispatcher.Options{Broker: dispatcher.NewChannelBroker(256), Logger: logging.Discard()})
	tasks.Register(h.d, h.writer, h.sess)

	h.opts = Options{
		Mnemonic:       h.mnemonic,
		Gallop:         h.gallop,
		Catalog:        h.sess,
		Tasks:          tasks.NewClient(inline{h.d}),
		Recorder:       h.cycles,
		TopN:           2,
		FloorBatchSize: 20,
		ShallowWindow:  domain.DurationSevenDays,
		DeepWindow:     domain.DurationOneYear,
		Logger:         logging.Discard(),
	}
	h.seed()
	return h
}

func name(s string) *string { return &s }

// seed installs one known collection (0xaaa) and one that only appears in a
// ranking (0xabc).
func (h *harness) seed() {
	ctx := context.Background()
	h.writer.UpsertCollection(ctx, domain.Collection{Address: "0xaaa", Name: "Alpha"})

	h.mnemonic.Top[stub.Board{Metric: domain.MetricAvgPrice, Duration: domain.DurationOneDay}] = []mnemonic.TopCollection{
		{Collection: mnemonic.CollectionRef{ContractAddress: "0xAAA", Name: "Alpha"}, MetricValue: wire.NewNumber("5.5")},
		{Collection: mnemonic.CollectionRef{ContractAddress: "0xabc", Name: "Abc"}, MetricValue: wire.NewNumber("3")},
	}
	h.mnemonic.Metadata["0xaaa"] = &mnemonic.MetadataResponse{
		Name:        name("Alpha"),
		Types:       []string{"TOKEN_TYPE_ERC721"},
		TokensCount: wire.NewNumber("10000"),
		OwnersCount: wire.NewNumber("4200"),
		SalesVolume: wire.NewNumber("123.5"),
	}
	h.mnemonic.Owners["0xaaa"] = &mnemonic.OwnerSeries{DataPoints: []mnemonic.OwnerPoint{
		{Timestamp: "2023-06-18T00:00:00Z", Count: wire.NewNumber("4100")},
		{Timestamp: "2023-06-19T00:00:00Z", Count: wire.NewNumber("4200")},
	}}
	h.mnemonic.Prices["0xabc"] = &mnemonic.PriceSeries{DataPoints: []mnemonic.PricePoint{
		{Timestamp: "2023-06-19T00:00:00Z", Min: wire.NewNumber("1"), Max: wire.NewNumber("2"), Avg: wire.NewNumber("1.5")},
	}}

	h.gallop.Boards[stub.Board{Metric: domain.MetricSalesVolume, Duration: domain.DurationOneDay}] = []gallop.LeaderboardRow{
		{Rank: 1, CollectionAddress: "0xaaa", CollectionName: "Alpha", Value: wire.NewNumber("900")},
		{Rank: 2, CollectionAddress: "0xabc", CollectionName: "Abc", Value: wire.NewNumber("800")},
		{Rank: 3, CollectionAddress: "0xccc", CollectionName: "Cut", Value: wire.NewNumber("700")},
	}
	h.gallop.Floors["0xaaa"] = []gallop.MarketplaceFloor{
		{Marketplace: "opensea", UpdatedAt: "2023-06-19T00:00:00Z", FloorPrice: wire.NewNumber("1.0")},
		{Marketplace: "blur", UpdatedAt: "2023-06-19T01:00:00Z", FloorPrice: wire.NewNumber("1.2")},
		{Marketplace: "x2y2", UpdatedAt: "2023-06-19T02:00:00Z"},
	}
}

func (h *harness) run(t *testing.T) *CycleResult {
	t.Helper()
	res, err := New(h.opts).RunCycle(context.Background())
	require.NoError(t, err)
	return res
}

func TestRunCycle_StateSequence(t *testing.T) {
	h := newHarness(t)
	o := New(h.opts)

	res, err := o.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateRankingsRefreshing,
		StateCollectionsDiscovered,
		StatePerCollectionRefreshing,
		StateFloorPriceReconciling,
		StateIdle,
	}, res.States)
	assert.Equal(t, StateIdle, o.State())
	assert.Same(t, res, o.LastResult())
}

func TestRunCycle_Discovery(t *testing.T) {
	h := newHarness(t)
	res := h.run(t)

	assert.Equal(t, 2, res.Discovered, "TopN caps the gallop board at two rows")
	assert.Equal(t, 1, res.Known)
	assert.Equal(t, 1, res.New)
	assert.Equal(t, 2, res.CollectionsRefreshed)
	assert.Equal(t, 2, res.RankingTasks)
	assert.Equal(t, 4, res.RankingsFetched)
}

func TestRunCycle_NewCollectionGetsDeepBackfill(t *testing.T) {
	h := newHarness(t)
	h.run(t)

	windows := map[string]domain.Duration{}
	for _, c := range h.mnemonic.CallsTo(mnemonic.ResourcePrices) {
		windows[c.Address] = c.Duration
	}
	assert.Equal(t, domain.DurationOneYear, windows["0xabc"])
	assert.Equal(t, domain.DurationSevenDays, windows["0xaaa"])
}

func TestRunCycle_FallbackUpsertForNewCollection(t *testing.T) {
	h := newHarness(t)
	res := h.run(t)

	col, err := h.sess.GetCollection(context.Background(), "0xabc")
	require.NoError(t, err, "ranking reference resolves to a row")
	assert.Equal(t, "Abc", col.Name)
	assert.Zero(t, col.Tokens)
	assert.True(t, col.SalesVolume.IsZero())
	assert.Contains(t, res.Errors[0], "metadata 0xabc")
}

func TestRunCycle_WritesMetadataSeriesAndFloors(t *testing.T) {
	h := newHarness(t)
	h.run(t)
	ctx := context.Background()

	col, err := h.sess.GetCollection(ctx, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), col.Tokens)
	assert.Equal(t, []string{"ERC721"}, col.Types)
	require.NotNil(t, col.Floor)
	assert.True(t, col.Floor.Equal(decimal.RequireFromString("1.2")))

	other, err := h.sess.GetCollection(ctx, "0xabc")
	require.NoError(t, err)
	require.NotNil(t, other.Floor, "no quotes reconcile to zero")
	assert.True(t, other.Floor.IsZero())

	points, err := h.sess.GetDataPoints(ctx, "0xaaa")
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2023-06-18T00:00:00+0000", points[0].Timestamp)
	assert.Equal(t, int64(4100), *points[0].OwnersCount)

	points, err = h.sess.GetDataPoints(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.True(t, points[0].AvgPrice.Equal(decimal.RequireFromString("1.5")))
	assert.Nil(t, points[0].OwnersCount)
}

func TestRunCycle_RankingsReplaced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Hour)

	stale := domain.RankingEntry{Metric: domain.MetricAvgPrice, Duration: domain.DurationOneDay, Position: 1, Collection: "0xold", Value: decimal.NewFromInt(1)}
	h.writer.ReplaceRankingPartition(ctx, stale.Metric, stale.Duration, []domain.RankingEntry{stale}, before)
	gone := domain.RankingEntry{Metric: domain.MetricMaxPrice, Duration: domain.DurationThirtyDays, Position: 1, Collection: "0xold", Value: decimal.NewFromInt(1)}
	h.writer.ReplaceRankingPartition(ctx, gone.Metric, gone.Duration, []domain.RankingEntry{gone}, before)

	h.run(t)

	rows, err := h.sess.GetRankingPartition(ctx, domain.MetricAvgPrice, domain.DurationOneDay)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "0xaaa", rows[0].Collection)
	assert.Equal(t, "0xabc", rows[1].Collection)

	rows, err = h.sess.GetRankingPartition(ctx, domain.MetricMaxPrice, domain.DurationThirtyDays)
	require.NoError(t, err)
	assert.Empty(t, rows, "boards absent this cycle are cleared")

	rows, err = h.sess.GetRankingPartition(ctx, domain.MetricSalesVolume, domain.DurationOneDay)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[1].Position)
}

func TestRunCycle_ErrorShapedFloorGroupSkipped(t *testing.T) {
	h := newHarness(t)
	h.opts.FloorBatchSize = 1
	h.gallop.ErrorShaped["0xabc"] = true

	res := h.run(t)

	assert.Equal(t, 2, res.FloorGroups)
	assert.Equal(t, 1, res.FloorGroupsSkipped)

	col, err := h.sess.GetCollection(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, col.Floor)
	col, err = h.sess.GetCollection(context.Background(), "0xaaa")
	require.NoError(t, err)
	require.NotNil(t, col.Floor)
}

func TestRunCycle_MultiPageFloorGroupIsFlagged(t *testing.T) {
	h := newHarness(t)
	h.gallop.FloorPages = 2
	h.gallop.FloorPageSize = 1

	res := h.run(t)

	assert.Equal(t, 1, res.FloorGroups)
	assert.Equal(t, 1, res.FloorGroupsTruncated)
	assert.Equal(t, 0, res.FloorGroupsSkipped)

	// Only the first page's collection (0xaaa sorts first) gets a floor.
	col, err := h.sess.GetCollection(context.Background(), "0xaaa")
	require.NoError(t, err)
	require.NotNil(t, col.Floor)
	col, err = h.sess.GetCollection(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, col.Floor)
}

func TestRunCycle_FetchFailureIsCollected(t *testing.T) {
	h := newHarness(t)
	h.mnemonic.Fail(mnemonic.ResourceOwners, "0xaaa", errors.New("status 503"))
	h.mnemonic.Metadata["0xabc"] = &mnemonic.MetadataResponse{Name: name("Abc")}

	res := h.run(t)

	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "owners 0xaaa")
	assert.Equal(t, OutcomePartialFailure, res.Outcome())

	col, err := h.sess.GetCollection(context.Background(), "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), col.Owners, "metadata still written")

	rec, err := h.cycles.GetByID(context.Background(), res.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomePartialFailure, rec.Outcome)
	assert.Equal(t, res.TasksSubmitted, rec.TasksSubmitted)
}

func TestRunCycle_ShallowWindowOff(t *testing.T) {
	h := newHarness(t)
	h.opts.ShallowWindow = ""

	h.run(t)

	for _, c := range h.mnemonic.Calls() {
		if c.Address == "0xaaa" {
			assert.Equal(t, mnemonic.ResourceMetadata, c.Resource)
		}
	}
	points, err := h.sess.GetDataPoints(context.Background(), "0xaaa")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestRunCycle_CatalogFailureAbortsCycle(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sess.Close())

	_, err := New(h.opts).RunCycle(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.mnemonic.Calls())
}

type blockingCatalog struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (c *blockingCatalog) ListCollectionAddresses(context.Context) ([]string, error) {
	c.once.Do(func() { close(c.entered) })
	<-c.release
	return nil, nil
}

func TestRunCycle_RejectsOverlap(t *testing.T) {
	h := newHarness(t)
	cat := &blockingCatalog{entered: make(chan struct{}), release: make(chan struct{})}
	h.opts.Catalog = cat
	o := New(h.opts)

	done := make(chan error, 1)
	go func() {
		_, err := o.RunCycle(context.Background())
		done <- err
	}()
	<-cat.entered

	_, err := o.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(cat.release)
	require.NoError(t, <-done)

	_, err = o.RunCycle(context.Background())
	assert.NotErrorIs(t, err, ErrCycleInProgress)
}

func TestRunCycle_AsyncDispatch(t *testing.T) {
	h := newHarness(t)
	broker := dispatcher.NewChannelBroker(256)
	d := dispatcher.New(dispatcher.Options{Broker: broker, Workers: 2, Logger: logging.Discard()})
	tasks.Register(d, h.writer, h.sess)
	h.opts.Tasks = tasks.NewClient(d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	res := h.run(t)
	require.NoError(t, broker.Close())
	require.NoError(t, <-done)

	assert.Positive(t, res.TasksSubmitted)
	col, err := h.sess.GetCollection(ctx, "0xaaa")
	require.NoError(t, err)
	require.NotNil(t, col.Floor)
	assert.True(t, col.Floor.Equal(decimal.RequireFromString("1.2")))
}
