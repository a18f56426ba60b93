package mnemonic

import (
	"fmt"

	"nft-market-etl/internal/domain"
)

// GroupBy is the bucket width of a history query.
type GroupBy string

const (
	GroupBy15Minutes GroupBy = "15m"
	GroupByHour      GroupBy = "1h"
	GroupByDay       GroupBy = "1d"
)

// Metrics lists the ranking metrics this provider serves.
var Metrics = []domain.Metric{
	domain.MetricAvgPrice,
	domain.MetricMaxPrice,
}

// Durations lists the ranking and history windows this provider serves.
var Durations = []domain.Duration{
	domain.DurationOneDay,
	domain.DurationSevenDays,
	domain.DurationThirtyDays,
	domain.DurationOneYear,
}

// MetricTag maps a metric to its path segment.
func MetricTag(m domain.Metric) (string, error) {
	switch m {
	case domain.MetricAvgPrice:
		return "METRIC_AVG_PRICE", nil
	case domain.MetricMaxPrice:
		return "METRIC_MAX_PRICE", nil
	case domain.MetricSalesVolume, domain.MetricSalesCount:
		return "", fmt.Errorf("mnemonic: metric %s not served", m)
	default:
		return "", fmt.Errorf("mnemonic: unknown metric %q", m)
	}
}

// DurationTag maps a duration to its path segment.
func DurationTag(d domain.Duration) (string, error) {
	switch d {
	case domain.DurationOneDay:
		return "DURATION_1_DAY", nil
	case domain.DurationSevenDays:
		return "DURATION_7_DAYS", nil
	case domain.DurationThirtyDays:
		return "DURATION_30_DAYS", nil
	case domain.DurationOneYear:
		return "DURATION_365_DAYS", nil
	case domain.DurationNinetyDays, domain.DurationAllTime:
		return "", fmt.Errorf("mnemonic: duration %s not served", d)
	default:
		return "", fmt.Errorf("mnemonic: unknown duration %q", d)
	}
}

// GroupByTag maps a bucket width to its path segment.
func GroupByTag(g GroupBy) (string, error) {
	switch g {
	case GroupBy15Minutes:
		return "GROUP_BY_PERIOD_15_MINUTES", nil
	case GroupByHour:
		return "GROUP_BY_PERIOD_1_HOUR", nil
	case GroupByDay:
		return "GROUP_BY_PERIOD_1_DAY", nil
	default:
		return "", fmt.Errorf("mnemonic: unknown group-by %q", g)
	}
}
