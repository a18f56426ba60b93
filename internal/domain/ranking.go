package domain

import "github.com/shopspring/decimal"

// Metric is the ranking measure a leaderboard is ordered by.
type Metric string

const (
	MetricAvgPrice    Metric = "avg_price"
	MetricMaxPrice    Metric = "max_price"
	MetricSalesVolume Metric = "sales_volume"
	MetricSalesCount  Metric = "sales_count"
)

// AllMetrics lists every metric variant. Iteration over metrics uses this
// list rather than reflection over the type.
var AllMetrics = []Metric{
	MetricAvgPrice,
	MetricMaxPrice,
	MetricSalesVolume,
	MetricSalesCount,
}

// String returns the string representation of Metric.
func (m Metric) String() string {
	return string(m)
}

// IsValid checks if the metric is a known value.
func (m Metric) IsValid() bool {
	for _, v := range AllMetrics {
		if v == m {
			return true
		}
	}
	return false
}

// Provider returns the vendor that publishes leaderboards for the metric.
func (m Metric) Provider() Provider {
	switch m {
	case MetricSalesVolume, MetricSalesCount:
		return ProviderGallop
	default:
		return ProviderMnemonic
	}
}

// Duration is the lookback window of a ranking or history query.
type Duration string

const (
	DurationOneDay     Duration = "ONE_DAY"
	DurationSevenDays  Duration = "SEVEN_DAYS"
	DurationThirtyDays Duration = "THIRTY_DAYS"
	DurationNinetyDays Duration = "NINETY_DAYS"
	DurationOneYear    Duration = "ONE_YEAR"
	DurationAllTime    Duration = "ALL_TIME"
)

// AllDurations lists every duration variant, shortest first.
var AllDurations = []Duration{
	DurationOneDay,
	DurationSevenDays,
	DurationThirtyDays,
	DurationNinetyDays,
	DurationOneYear,
	DurationAllTime,
}

// String returns the string representation of Duration.
func (d Duration) String() string {
	return string(d)
}

// IsValid checks if the duration is a known value.
func (d Duration) IsValid() bool {
	for _, v := range AllDurations {
		if v == d {
			return true
		}
	}
	return false
}

// Days returns the window length in days, or 0 for ALL_TIME.
func (d Duration) Days() int {
	switch d {
	case DurationOneDay:
		return 1
	case DurationSevenDays:
		return 7
	case DurationThirtyDays:
		return 30
	case DurationNinetyDays:
		return 90
	case DurationOneYear:
		return 365
	default:
		return 0
	}
}

// RankingEntry is one row of a leaderboard.
// Partition key is (Metric, Duration), stored in the rank and duration
// columns; rows within a partition are keyed by Collection.
type RankingEntry struct {
	Metric     Metric
	Duration   Duration
	Position   int    // 1-based leaderboard position
	Collection string // contract address, references Collection.Address
	Value      decimal.Decimal
	Provider   Provider

	CollectionName string // as reported by the leaderboard; not persisted
}
