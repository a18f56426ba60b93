// Package mnemonic is the client for the collection analytics REST provider
// serving price leaderboards, collection metadata and history series.
package mnemonic

import (
	"context"
	"net/url"
	"strconv"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/fetch"
)

const (
	basePath = "/collections/v1beta2"

	// APIKeyHeader carries the provider API key.
	APIKeyHeader = "X-API-Key"

	// MaxPageSize is the largest page the leaderboard endpoint returns.
	MaxPageSize = 100
)

// Resource names used for metrics and errors.
const (
	ResourceTop      = "top"
	ResourceMetadata = "metadata"
	ResourcePrices   = "prices"
	ResourceSales    = "sales_volume"
	ResourceSupply   = "supply"
	ResourceOwners   = "owners_count"
)

// Client is the provider interface consumed by the orchestrator.
type Client interface {
	TopCollections(ctx context.Context, metric domain.Metric, duration domain.Duration, limit, offset int) (*TopCollectionsResponse, error)
	CollectionMetadata(ctx context.Context, address string) (*MetadataResponse, error)
	PriceHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*PriceSeries, error)
	SalesHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*SalesSeries, error)
	TokenHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*TokenSeries, error)
	OwnerHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*OwnerSeries, error)
}

// HTTPClient implements Client over the rate-limited fetch client.
type HTTPClient struct {
	http *fetch.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client rooted at baseURL.
func NewHTTPClient(baseURL, apiKey string, opts ...fetch.ClientOption) *HTTPClient {
	opts = append([]fetch.ClientOption{fetch.WithAPIKey(APIKeyHeader, apiKey)}, opts...)
	return &HTTPClient{http: fetch.NewClient(domain.ProviderMnemonic, baseURL, opts...)}
}

// TopCollections fetches one leaderboard page.
func (c *HTTPClient) TopCollections(ctx context.Context, metric domain.Metric, duration domain.Duration, limit, offset int) (*TopCollectionsResponse, error) {
	metricTag, err := MetricTag(metric)
	if err != nil {
		return nil, err
	}
	durationTag, err := DurationTag(duration)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var resp TopCollectionsResponse
	path := basePath + "/top/" + metricTag + "/" + durationTag
	if err := c.http.Get(ctx, ResourceTop, path, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CollectionMetadata fetches metadata with stats for one collection.
func (c *HTTPClient) CollectionMetadata(ctx context.Context, address string) (*MetadataResponse, error) {
	query := url.Values{}
	query.Set("includeStats", "true")

	var resp MetadataResponse
	path := basePath + "/" + url.PathEscape(address) + "/metadata"
	if err := c.http.Get(ctx, ResourceMetadata, path, query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PriceHistory fetches min/max/avg price points.
func (c *HTTPClient) PriceHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*PriceSeries, error) {
	var resp PriceSeries
	if err := c.series(ctx, ResourcePrices, address, duration, groupBy, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SalesHistory fetches sales quantity/volume points.
func (c *HTTPClient) SalesHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*SalesSeries, error) {
	var resp SalesSeries
	if err := c.series(ctx, ResourceSales, address, duration, groupBy, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TokenHistory fetches minted/burned supply points.
func (c *HTTPClient) TokenHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*TokenSeries, error) {
	var resp TokenSeries
	if err := c.series(ctx, ResourceSupply, address, duration, groupBy, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OwnerHistory fetches owners count points.
func (c *HTTPClient) OwnerHistory(ctx context.Context, address string, duration domain.Duration, groupBy GroupBy) (*OwnerSeries, error) {
	var resp OwnerSeries
	if err := c.series(ctx, ResourceOwners, address, duration, groupBy, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) series(ctx context.Context, resource, address string, duration domain.Duration, groupBy GroupBy, out any) error {
	durationTag, err := DurationTag(duration)
	if err != nil {
		return err
	}
	groupTag, err := GroupByTag(groupBy)
	if err != nil {
		return err
	}
	path := basePath + "/" + url.PathEscape(address) + "/" + resource + "/" + durationTag + "/" + groupTag
	return c.http.Get(ctx, resource, path, nil, out)
}

// TopN pages through a leaderboard until n rows or a short page.
func TopN(ctx context.Context, c Client, metric domain.Metric, duration domain.Duration, n int) ([]TopCollection, error) {
	var rows []TopCollection
	for offset := 0; offset < n; {
		limit := min(MaxPageSize, n-offset)
		page, err := c.TopCollections(ctx, metric, duration, limit, offset)
		if err != nil {
			return rows, err
		}
		rows = append(rows, page.Collections...)
		if len(page.Collections) < limit {
			break
		}
		offset += len(page.Collections)
	}
	return rows, nil
}
