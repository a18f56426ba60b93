package normalization

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/provider/gallop"
)

// GallopLeaderboard decodes a leaderboard envelope. An envelope without a
// response field is an error-shaped body and yields a NormalizationError.
func GallopLeaderboard(env *gallop.Envelope) (*gallop.LeaderboardPayload, error) {
	var payload gallop.LeaderboardPayload
	if err := decodeEnvelope(env, gallop.ResourceLeaderboard, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// GallopFloorPayload decodes a floor-price envelope, rejecting error shapes.
func GallopFloorPayload(env *gallop.Envelope) (*gallop.FloorPayload, error) {
	var payload gallop.FloorPayload
	if err := decodeEnvelope(env, gallop.ResourceFloor, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func decodeEnvelope(env *gallop.Envelope, resource string, out any) error {
	if !env.HasResponse() {
		reason := "response field missing"
		if env != nil && env.Message != "" {
			reason += ": " + env.Message
		}
		return newError(domain.ProviderGallop, resource, "%s", reason)
	}
	if err := json.Unmarshal(env.Response, out); err != nil {
		return newError(domain.ProviderGallop, resource, "decode response: %v", err)
	}
	return nil
}

// GallopRankings maps leaderboard rows to ranking entries. Positions come
// from the row rank, falling back to offset order when absent.
func GallopRankings(metric domain.Metric, duration domain.Duration, offset int, rows []gallop.LeaderboardRow) ([]domain.RankingEntry, error) {
	entries := make([]domain.RankingEntry, 0, len(rows))
	var errs []error
	for i, row := range rows {
		addr := strings.ToLower(strings.TrimSpace(row.CollectionAddress))
		if addr == "" {
			errs = append(errs, newError(domain.ProviderGallop, gallop.ResourceLeaderboard, "row %d: missing collection_address", offset+i))
			continue
		}
		value, err := decimalOrZero(row.Value)
		if err != nil {
			errs = append(errs, newError(domain.ProviderGallop, gallop.ResourceLeaderboard, "%s: %v", addr, err))
			continue
		}
		pos := row.Rank
		if pos <= 0 {
			pos = offset + i + 1
		}
		entries = append(entries, domain.RankingEntry{
			Metric:         metric,
			Duration:       duration,
			Position:       pos,
			Collection:     addr,
			Value:          value,
			Provider:       domain.ProviderGallop,
			CollectionName: row.CollectionName,
		})
	}
	return entries, errors.Join(errs...)
}

// GallopFloorQuotes maps marketplace quotes. Unparseable timestamps become
// empty and unparseable prices become nil.
func GallopFloorQuotes(markets []gallop.MarketplaceFloor) []domain.FloorQuote {
	quotes := make([]domain.FloorQuote, 0, len(markets))
	for _, m := range markets {
		q := domain.FloorQuote{Marketplace: m.Marketplace}
		if ts, err := CanonicalTimestamp(m.UpdatedAt); err == nil {
			q.UpdatedAt = ts
		}
		if d, err := decimalPtr(m.FloorPrice); err == nil {
			q.Floor = d
		}
		quotes = append(quotes, q)
	}
	return quotes
}

// GallopFloors reconciles one floor value per collection in the payload.
func GallopFloors(payload *gallop.FloorPayload) []domain.CollectionFloor {
	if payload == nil {
		return nil
	}
	floors := make([]domain.CollectionFloor, 0, len(payload.Collections))
	for _, c := range payload.Collections {
		addr := strings.ToLower(strings.TrimSpace(c.CollectionAddress))
		if addr == "" {
			continue
		}
		floors = append(floors, domain.CollectionFloor{
			Collection: addr,
			Floor:      SelectFloor(GallopFloorQuotes(c.Marketplaces)),
		})
	}
	return floors
}

// SelectFloor picks one floor from marketplace quotes:
//   - a nil floor never overrides a present one
//   - a zero floor never overrides a non-zero one
//   - otherwise the most recently updated quote wins
//   - on equal timestamps a non-zero value beats zero
//
// Returns zero when no quote carries a floor.
func SelectFloor(quotes []domain.FloorQuote) decimal.Decimal {
	var (
		best   *decimal.Decimal
		bestAt time.Time
	)
	for _, q := range quotes {
		if q.Floor == nil {
			continue
		}
		at := quoteTime(q)
		switch {
		case best == nil:
		case best.IsZero() && !q.Floor.IsZero():
		case q.Floor.IsZero():
			continue
		case at.After(bestAt):
		default:
			continue
		}
		f := *q.Floor
		best, bestAt = &f, at
	}
	if best == nil {
		return decimal.Zero
	}
	return *best
}

func quoteTime(q domain.FloorQuote) time.Time {
	t, err := ParseTimestamp(q.UpdatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
