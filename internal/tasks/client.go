package tasks

import (
	"context"
	"time"

	"nft-market-etl/internal/dispatcher"
	"nft-market-etl/internal/domain"
)

// Submitter enqueues a named task without waiting for it.
type Submitter interface {
	Submit(ctx context.Context, name string, payload any) (string, error)
}

// Caller runs a named task synchronously.
type Caller interface {
	Call(ctx context.Context, name string, payload, out any) (dispatcher.Result, error)
}

// Client is the typed front of the task catalogue. Every write method
// returns the submitted task id.
type Client struct {
	s Submitter
}

// NewClient creates a Client over s.
func NewClient(s Submitter) *Client {
	return &Client{s: s}
}

func (c *Client) UpsertCollection(ctx context.Context, col domain.Collection) (string, error) {
	return c.s.Submit(ctx, UpsertCollection, CollectionPayload{Collection: col})
}

func (c *Client) CreateRankings(ctx context.Context, metric domain.Metric, duration domain.Duration, entries []domain.RankingEntry, fetchedAt time.Time) (string, error) {
	return c.s.Submit(ctx, CreateRankings, RankingsPayload{
		Metric:    metric,
		Duration:  duration,
		Entries:   entries,
		FetchedAt: fetchedAt,
	})
}

func (c *Client) DeleteRankings(ctx context.Context, cycleStart time.Time) (string, error) {
	return c.s.Submit(ctx, DeleteRankings, DeleteRankingsPayload{CycleStart: cycleStart})
}

// UpdateSeries submits the task that writes kind for collection.
func (c *Client) UpdateSeries(ctx context.Context, kind domain.SeriesKind, collection string, points []domain.TimeSeriesPoint) (string, error) {
	name, err := SeriesTask(kind)
	if err != nil {
		return "", err
	}
	return c.s.Submit(ctx, name, SeriesPayload{Collection: collection, Points: points})
}

func (c *Client) UpdateFloor(ctx context.Context, floors []domain.CollectionFloor) (string, error) {
	return c.s.Submit(ctx, UpdateFloor, FloorPayload{Floors: floors})
}

// FetchRankings runs get_rankings synchronously and returns the partition
// ordered by position.
func FetchRankings(ctx context.Context, c Caller, metric domain.Metric, duration domain.Duration) ([]domain.RankingEntry, error) {
	var out []domain.RankingEntry
	if _, err := c.Call(ctx, GetRankings, RankingQuery{Metric: metric, Duration: duration}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
