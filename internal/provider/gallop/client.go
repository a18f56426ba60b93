// Package gallop is the client for the marketplace analytics provider
// serving volume/sales leaderboards and per-marketplace floor prices.
package gallop

import (
	"context"
	"fmt"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/fetch"
)

const (
	leaderboardPath = "/v1/analytics/eth/getLeaderBoard"
	floorPath       = "/v1/data/eth/getMarketplaceFloorPrice"

	// APIKeyHeader carries the provider API key.
	APIKeyHeader = "x-api-key"

	// MaxPageSize is the largest leaderboard page.
	MaxPageSize = 100

	// DefaultFloorBatchSize is the number of addresses per floor call.
	DefaultFloorBatchSize = 20
)

// Resource names used for metrics and errors.
const (
	ResourceLeaderboard = "leaderboard"
	ResourceFloor       = "floor_price"
)

// Metrics lists the ranking metrics this provider serves.
var Metrics = []domain.Metric{
	domain.MetricSalesVolume,
	domain.MetricSalesCount,
}

// Durations lists the ranking windows this provider serves.
var Durations = []domain.Duration{
	domain.DurationOneDay,
	domain.DurationSevenDays,
	domain.DurationThirtyDays,
	domain.DurationNinetyDays,
	domain.DurationAllTime,
}

// MetricTag maps a metric to the ranking_metric field.
func MetricTag(m domain.Metric) (string, error) {
	switch m {
	case domain.MetricSalesVolume:
		return "eth_volume", nil
	case domain.MetricSalesCount:
		return "sales_count", nil
	case domain.MetricAvgPrice, domain.MetricMaxPrice:
		return "", fmt.Errorf("gallop: metric %s not served", m)
	default:
		return "", fmt.Errorf("gallop: unknown metric %q", m)
	}
}

// IntervalTag maps a duration to the interval field.
func IntervalTag(d domain.Duration) (string, error) {
	switch d {
	case domain.DurationOneDay:
		return "one_day", nil
	case domain.DurationSevenDays:
		return "seven_days", nil
	case domain.DurationThirtyDays:
		return "thirty_days", nil
	case domain.DurationNinetyDays:
		return "ninety_days", nil
	case domain.DurationAllTime:
		return "all_time", nil
	case domain.DurationOneYear:
		return "", fmt.Errorf("gallop: duration %s not served", d)
	default:
		return "", fmt.Errorf("gallop: unknown duration %q", d)
	}
}

// Client is the provider interface consumed by the orchestrator.
type Client interface {
	Leaderboard(ctx context.Context, metric domain.Metric, duration domain.Duration, pageSize, page int) (*Envelope, error)
	FloorPrices(ctx context.Context, addresses []string) (*Envelope, error)
}

// HTTPClient implements Client over the rate-limited fetch client.
type HTTPClient struct {
	http *fetch.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client rooted at baseURL.
func NewHTTPClient(baseURL, apiKey string, opts ...fetch.ClientOption) *HTTPClient {
	opts = append([]fetch.ClientOption{fetch.WithAPIKey(APIKeyHeader, apiKey)}, opts...)
	return &HTTPClient{http: fetch.NewClient(domain.ProviderGallop, baseURL, opts...)}
}

// Leaderboard fetches one leaderboard page. Pages are 1-based.
func (c *HTTPClient) Leaderboard(ctx context.Context, metric domain.Metric, duration domain.Duration, pageSize, page int) (*Envelope, error) {
	metricTag, err := MetricTag(metric)
	if err != nil {
		return nil, err
	}
	interval, err := IntervalTag(duration)
	if err != nil {
		return nil, err
	}

	req := LeaderboardRequest{
		Interval:      interval,
		RankingMetric: metricTag,
		PageSize:      pageSize,
		Page:          page,
	}

	var env Envelope
	if err := c.http.Post(ctx, ResourceLeaderboard, leaderboardPath, req, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// FloorPrices fetches marketplace floor quotes for a group of collections.
func (c *HTTPClient) FloorPrices(ctx context.Context, addresses []string) (*Envelope, error) {
	var env Envelope
	if err := c.http.Post(ctx, ResourceFloor, floorPath, FloorRequest{CollectionAddress: addresses}, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
