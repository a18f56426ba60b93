package mnemonic

import "nft-market-etl/internal/provider/wire"

// TopCollectionsResponse is the body of /top/{metric}/{duration}.
type TopCollectionsResponse struct {
	Collections []TopCollection `json:"collections"`
}

// TopCollection is one leaderboard row.
type TopCollection struct {
	Collection  CollectionRef `json:"collection"`
	MetricValue wire.Number   `json:"metricValue"`
}

// CollectionRef identifies a collection inside a leaderboard row.
type CollectionRef struct {
	ContractAddress string `json:"contractAddress"`
	Name            string `json:"name"`
}

// MetadataResponse is the body of /{address}/metadata?includeStats=true.
type MetadataResponse struct {
	Name        *string        `json:"name"`
	Types       []string       `json:"types"`
	TokensCount wire.Number    `json:"tokensCount"`
	OwnersCount wire.Number    `json:"ownersCount"`
	SalesVolume wire.Number    `json:"salesVolume"`
	Metadata    []MetadataItem `json:"metadata"`
}

// MetadataItem is a typed metadata attribute.
type MetadataItem struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Metadata attribute types.
const (
	MetaImageURL       = "TYPE_IMAGE_URL"
	MetaBannerImageURL = "TYPE_BANNER_IMAGE_URL"
	MetaDescription    = "TYPE_DESCRIPTION"
	MetaExternalURL    = "TYPE_EXTERNAL_URL"
)

// PricePoint is one point of the price history.
type PricePoint struct {
	Timestamp string      `json:"timestamp"`
	Min       wire.Number `json:"min"`
	Max       wire.Number `json:"max"`
	Avg       wire.Number `json:"avg"`
}

// SalesPoint is one point of the sales volume history.
type SalesPoint struct {
	Timestamp string      `json:"timestamp"`
	Quantity  wire.Number `json:"quantity"`
	Volume    wire.Number `json:"volume"`
}

// TokenPoint is one point of the token supply history.
type TokenPoint struct {
	Timestamp   string      `json:"timestamp"`
	Minted      wire.Number `json:"minted"`
	Burned      wire.Number `json:"burned"`
	TotalMinted wire.Number `json:"totalMinted"`
	TotalBurned wire.Number `json:"totalBurned"`
}

// OwnerPoint is one point of the owners count history.
type OwnerPoint struct {
	Timestamp string      `json:"timestamp"`
	Count     wire.Number `json:"count"`
}

// PriceSeries is the body of /prices/{duration}/{groupBy}.
type PriceSeries struct {
	DataPoints []PricePoint `json:"dataPoints"`
}

// SalesSeries is the body of /sales_volume/{duration}/{groupBy}.
type SalesSeries struct {
	DataPoints []SalesPoint `json:"dataPoints"`
}

// TokenSeries is the body of /supply/{duration}/{groupBy}.
type TokenSeries struct {
	DataPoints []TokenPoint `json:"dataPoints"`
}

// OwnerSeries is the body of /owners_count/{duration}/{groupBy}.
type OwnerSeries struct {
	DataPoints []OwnerPoint `json:"dataPoints"`
}
