package domain

import "github.com/shopspring/decimal"

// SeriesKind names one of the field groups of a data point.
type SeriesKind string

const (
	SeriesPrices SeriesKind = "prices"
	SeriesSales  SeriesKind = "sales"
	SeriesTokens SeriesKind = "tokens"
	SeriesOwners SeriesKind = "owners"
)

// AllSeriesKinds lists every field group in fetch order.
var AllSeriesKinds = []SeriesKind{SeriesPrices, SeriesSales, SeriesTokens, SeriesOwners}

// String returns the string representation of SeriesKind.
func (k SeriesKind) String() string {
	return string(k)
}

// IsValid checks if the kind is a known value.
func (k SeriesKind) IsValid() bool {
	switch k {
	case SeriesPrices, SeriesSales, SeriesTokens, SeriesOwners:
		return true
	}
	return false
}

// TimeSeriesPoint is one row of the data_point table.
// Key is (Collection, Timestamp). A nil field is left untouched on write.
type TimeSeriesPoint struct {
	Collection string
	Timestamp  string // canonical form 2006-01-02T15:04:05+0000

	// prices
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	AvgPrice *decimal.Decimal

	// sales
	SalesCount  *decimal.Decimal
	SalesVolume *decimal.Decimal

	// tokens
	TokensMinted *int64
	TokensBurned *int64
	TotalMinted  *int64
	TotalBurned  *int64

	// owners
	OwnersCount *int64
}
