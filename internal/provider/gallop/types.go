package gallop

import (
	"encoding/json"

	"nft-market-etl/internal/provider/wire"
)

// Envelope is the outer body of every response. Success bodies carry
// Response; error bodies do not.
type Envelope struct {
	Status   json.RawMessage `json:"status"`
	Message  string          `json:"message,omitempty"`
	Response json.RawMessage `json:"response"`
}

// HasResponse reports whether the body is a success payload.
func (e *Envelope) HasResponse() bool {
	return e != nil && len(e.Response) > 0 && string(e.Response) != "null"
}

// LeaderboardRequest is the body of getLeaderBoard.
type LeaderboardRequest struct {
	Interval      string `json:"interval"`
	RankingMetric string `json:"ranking_metric"`
	PageSize      int    `json:"page_size"`
	Page          int    `json:"page,omitempty"`
}

// LeaderboardPayload is the response of getLeaderBoard.
type LeaderboardPayload struct {
	TotalItems    int              `json:"total_items"`
	TotalPages    int              `json:"total_pages"`
	Page          int              `json:"page"`
	Interval      string           `json:"interval"`
	RankingMetric string           `json:"ranking_metric"`
	Leaderboard   []LeaderboardRow `json:"leaderboard"`
}

// LeaderboardRow is one leaderboard entry.
type LeaderboardRow struct {
	Rank              int         `json:"rank"`
	CollectionAddress string      `json:"collection_address"`
	CollectionName    string      `json:"collection_name"`
	Value             wire.Number `json:"value"`
	Type              string      `json:"type"`
	Symbol            string      `json:"symbol"`
}

// FloorRequest is the body of getMarketplaceFloorPrice.
type FloorRequest struct {
	CollectionAddress []string `json:"collection_address"`
}

// FloorPayload is the response of getMarketplaceFloorPrice.
// The endpoint takes no page parameter; only the first page is ever returned.
type FloorPayload struct {
	TotalItems  int               `json:"total_items"`
	TotalPages  int               `json:"total_pages"`
	Page        int               `json:"page"`
	Collections []FloorCollection `json:"collections"`
}

// FloorCollection groups the marketplace quotes of one collection.
type FloorCollection struct {
	CollectionAddress string             `json:"collection_address"`
	Marketplaces      []MarketplaceFloor `json:"marketplaces"`
}

// MarketplaceFloor is one marketplace's floor quote.
type MarketplaceFloor struct {
	UpdatedAt        string      `json:"updated_at"`
	FloorPrice       wire.Number `json:"floor_price"`
	Marketplace      string      `json:"marketplace"`
	CollectionID     string      `json:"collection_id"`
	EthFloorPrice    wire.Number `json:"eth_floor_price"`
	UsdFloorPrice    wire.Number `json:"usd_floor_price"`
	SubCollectionTag string      `json:"sub_collection_tag"`
}
