// Package tasks binds the named task catalogue to Batch Writer operations
// and storage reads.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nft-market-etl/internal/dispatcher"
	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/storage"
)

// Task names.
const (
	UpsertCollection = "upsert_collection"
	CreateRankings   = "create_rankings"
	DeleteRankings   = "delete_rankings"
	UpdatePrices     = "update_prices"
	UpdateSales      = "update_sales"
	UpdateTokens     = "update_tokens"
	UpdateOwners     = "update_owners"
	UpdateFloor      = "update_floor"
	GetRankings      = "get_rankings"
)

// Names lists every task in the catalogue.
var Names = []string{
	UpsertCollection, CreateRankings, DeleteRankings,
	UpdatePrices, UpdateSales, UpdateTokens, UpdateOwners,
	UpdateFloor, GetRankings,
}

// SeriesTask returns the task that writes kind.
func SeriesTask(kind domain.SeriesKind) (string, error) {
	switch kind {
	case domain.SeriesPrices:
		return UpdatePrices, nil
	case domain.SeriesSales:
		return UpdateSales, nil
	case domain.SeriesTokens:
		return UpdateTokens, nil
	case domain.SeriesOwners:
		return UpdateOwners, nil
	default:
		return "", fmt.Errorf("no task for series kind %q", kind)
	}
}

// CollectionPayload is the payload of upsert_collection.
type CollectionPayload struct {
	Collection domain.Collection `json:"collection"`
}

// RankingsPayload is the payload of create_rankings.
type RankingsPayload struct {
	Metric    domain.Metric         `json:"metric"`
	Duration  domain.Duration       `json:"duration"`
	Entries   []domain.RankingEntry `json:"entries"`
	FetchedAt time.Time             `json:"fetched_at"`
}

// DeleteRankingsPayload is the payload of delete_rankings.
type DeleteRankingsPayload struct {
	CycleStart time.Time `json:"cycle_start"`
}

// SeriesPayload is the payload of the update_<series> tasks.
type SeriesPayload struct {
	Collection string                   `json:"collection"`
	Points     []domain.TimeSeriesPoint `json:"points"`
}

// FloorPayload is the payload of update_floor.
type FloorPayload struct {
	Floors []domain.CollectionFloor `json:"floors"`
}

// RankingQuery is the payload of get_rankings.
type RankingQuery struct {
	Metric   domain.Metric   `json:"metric"`
	Duration domain.Duration `json:"duration"`
}

// Writer is the subset of the Batch Writer the write tasks call.
type Writer interface {
	UpsertCollection(ctx context.Context, c domain.Collection) domain.WriteResult
	ReplaceRankingPartition(ctx context.Context, metric domain.Metric, duration domain.Duration, entries []domain.RankingEntry, fetchedAt time.Time) domain.WriteResult
	DeleteAllRankings(ctx context.Context, cycleStart time.Time) domain.WriteResult
	UpsertTimeSeries(ctx context.Context, kind domain.SeriesKind, collection string, points []domain.TimeSeriesPoint) domain.WriteResult
	UpsertFloorPrices(ctx context.Context, floors []domain.CollectionFloor) domain.WriteResult
}

// Registry is where handlers are bound.
type Registry interface {
	Register(name string, h dispatcher.Handler)
}

// Register binds every task of the catalogue.
func Register(r Registry, w Writer, reader storage.Reader) {
	r.Register(UpsertCollection, write(func(ctx context.Context, p CollectionPayload) domain.WriteResult {
		return w.UpsertCollection(ctx, p.Collection)
	}))
	r.Register(CreateRankings, write(func(ctx context.Context, p RankingsPayload) domain.WriteResult {
		return w.ReplaceRankingPartition(ctx, p.Metric, p.Duration, p.Entries, p.FetchedAt)
	}))
	r.Register(DeleteRankings, write(func(ctx context.Context, p DeleteRankingsPayload) domain.WriteResult {
		return w.DeleteAllRankings(ctx, p.CycleStart)
	}))
	for _, kind := range domain.AllSeriesKinds {
		name, _ := SeriesTask(kind)
		r.Register(name, write(func(ctx context.Context, p SeriesPayload) domain.WriteResult {
			return w.UpsertTimeSeries(ctx, kind, p.Collection, p.Points)
		}))
	}
	r.Register(UpdateFloor, write(func(ctx context.Context, p FloorPayload) domain.WriteResult {
		return w.UpsertFloorPrices(ctx, p.Floors)
	}))
	r.Register(GetRankings, getRankings(reader))
}

// write adapts a typed write operation to a dispatcher handler. A payload
// that does not decode is a permanent failure. The write result is returned
// as data; failed chunks are not redelivered.
func write[P any](op func(ctx context.Context, p P) domain.WriteResult) dispatcher.Handler {
	return func(ctx context.Context, raw json.RawMessage) (dispatcher.Outcome, error) {
		var p P
		if err := json.Unmarshal(raw, &p); err != nil {
			return dispatcher.Outcome{}, dispatcher.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		res := op(ctx, p)
		return dispatcher.Outcome{Write: &res}, nil
	}
}

func getRankings(reader storage.Reader) dispatcher.Handler {
	return func(ctx context.Context, raw json.RawMessage) (dispatcher.Outcome, error) {
		var q RankingQuery
		if err := json.Unmarshal(raw, &q); err != nil {
			return dispatcher.Outcome{}, dispatcher.Permanent(fmt.Errorf("decode payload: %w", err))
		}
		if !q.Metric.IsValid() || !q.Duration.IsValid() {
			return dispatcher.Outcome{}, dispatcher.Permanent(fmt.Errorf("%w: ranking %s/%s", storage.ErrInvalidInput, q.Metric, q.Duration))
		}

		entries, err := reader.GetRankingPartition(ctx, q.Metric, q.Duration)
		if err != nil {
			return dispatcher.Outcome{}, fmt.Errorf("read rankings %s/%s: %w", q.Metric, q.Duration, err)
		}
		value, err := json.Marshal(entries)
		if err != nil {
			return dispatcher.Outcome{}, fmt.Errorf("encode rankings: %w", err)
		}
		return dispatcher.Outcome{Value: value}, nil
	}
}
