package normalization

import (
	"errors"
	"strings"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/provider/mnemonic"
)

// MnemonicCollection maps a metadata response to a Collection.
// Null counts and volumes become zero. Floor is never set here.
func MnemonicCollection(address string, resp *mnemonic.MetadataResponse) (domain.Collection, error) {
	const resource = mnemonic.ResourceMetadata
	if resp == nil {
		return domain.Collection{}, newError(domain.ProviderMnemonic, resource, "empty body")
	}
	if resp.Name == nil {
		return domain.Collection{}, newError(domain.ProviderMnemonic, resource, "%s: missing name", address)
	}

	tokens, err := int64OrZero(resp.TokensCount)
	if err != nil {
		return domain.Collection{}, newError(domain.ProviderMnemonic, resource, "%s: tokensCount: %v", address, err)
	}
	owners, err := int64OrZero(resp.OwnersCount)
	if err != nil {
		return domain.Collection{}, newError(domain.ProviderMnemonic, resource, "%s: ownersCount: %v", address, err)
	}
	volume, err := decimalOrZero(resp.SalesVolume)
	if err != nil {
		return domain.Collection{}, newError(domain.ProviderMnemonic, resource, "%s: salesVolume: %v", address, err)
	}

	c := domain.Collection{
		Address:     strings.ToLower(address),
		Name:        *resp.Name,
		Tokens:      tokens,
		Owners:      owners,
		SalesVolume: volume,
	}
	for _, t := range resp.Types {
		if tag := TokenType(t); tag != "" {
			c.Types = append(c.Types, tag)
		}
	}
	for _, item := range resp.Metadata {
		switch item.Type {
		case mnemonic.MetaImageURL:
			c.Image = item.Value
		case mnemonic.MetaBannerImageURL:
			c.BannerImage = item.Value
		case mnemonic.MetaDescription:
			c.Description = item.Value
		case mnemonic.MetaExternalURL:
			c.ExternalURL = item.Value
		}
	}
	return c, nil
}

// MnemonicRankings maps leaderboard rows to ranking entries. offset is the
// zero-based position of rows[0]. Rows without an address are skipped and
// reported in the returned error; the remaining entries are still returned.
func MnemonicRankings(metric domain.Metric, duration domain.Duration, offset int, rows []mnemonic.TopCollection) ([]domain.RankingEntry, error) {
	entries := make([]domain.RankingEntry, 0, len(rows))
	var errs []error
	for i, row := range rows {
		addr := strings.ToLower(strings.TrimSpace(row.Collection.ContractAddress))
		if addr == "" {
			errs = append(errs, newError(domain.ProviderMnemonic, mnemonic.ResourceTop, "row %d: missing contract address", offset+i))
			continue
		}
		value, err := decimalOrZero(row.MetricValue)
		if err != nil {
			errs = append(errs, newError(domain.ProviderMnemonic, mnemonic.ResourceTop, "%s: %v", addr, err))
			continue
		}
		entries = append(entries, domain.RankingEntry{
			Metric:         metric,
			Duration:       duration,
			Position:       offset + i + 1,
			Collection:     addr,
			Value:          value,
			Provider:       domain.ProviderMnemonic,
			CollectionName: row.Collection.Name,
		})
	}
	return entries, errors.Join(errs...)
}

// MnemonicPricePoints maps a price series. Null fields stay nil.
func MnemonicPricePoints(address string, series *mnemonic.PriceSeries) ([]domain.TimeSeriesPoint, error) {
	if series == nil {
		return nil, nil
	}
	points := make([]domain.TimeSeriesPoint, 0, len(series.DataPoints))
	var errs []error
	for _, dp := range series.DataPoints {
		p, err := newPoint(address, dp.Timestamp)
		if err == nil {
			p.MinPrice, err = decimalPtr(dp.Min)
		}
		if err == nil {
			p.MaxPrice, err = decimalPtr(dp.Max)
		}
		if err == nil {
			p.AvgPrice, err = decimalPtr(dp.Avg)
		}
		if err != nil {
			errs = append(errs, wrapPointErr(mnemonic.ResourcePrices, address, err))
			continue
		}
		points = append(points, p)
	}
	return points, errors.Join(errs...)
}

// MnemonicSalesPoints maps a sales series. Null fields stay nil.
func MnemonicSalesPoints(address string, series *mnemonic.SalesSeries) ([]domain.TimeSeriesPoint, error) {
	if series == nil {
		return nil, nil
	}
	points := make([]domain.TimeSeriesPoint, 0, len(series.DataPoints))
	var errs []error
	for _, dp := range series.DataPoints {
		p, err := newPoint(address, dp.Timestamp)
		if err == nil {
			p.SalesCount, err = decimalPtr(dp.Quantity)
		}
		if err == nil {
			p.SalesVolume, err = decimalPtr(dp.Volume)
		}
		if err != nil {
			errs = append(errs, wrapPointErr(mnemonic.ResourceSales, address, err))
			continue
		}
		points = append(points, p)
	}
	return points, errors.Join(errs...)
}

// MnemonicTokenPoints maps a supply series. Null fields stay nil.
func MnemonicTokenPoints(address string, series *mnemonic.TokenSeries) ([]domain.TimeSeriesPoint, error) {
	if series == nil {
		return nil, nil
	}
	points := make([]domain.TimeSeriesPoint, 0, len(series.DataPoints))
	var errs []error
	for _, dp := range series.DataPoints {
		p, err := newPoint(address, dp.Timestamp)
		if err == nil {
			p.TokensMinted, err = int64Ptr(dp.Minted)
		}
		if err == nil {
			p.TokensBurned, err = int64Ptr(dp.Burned)
		}
		if err == nil {
			p.TotalMinted, err = int64Ptr(dp.TotalMinted)
		}
		if err == nil {
			p.TotalBurned, err = int64Ptr(dp.TotalBurned)
		}
		if err != nil {
			errs = append(errs, wrapPointErr(mnemonic.ResourceSupply, address, err))
			continue
		}
		points = append(points, p)
	}
	return points, errors.Join(errs...)
}

// MnemonicOwnerPoints maps an owners series. Null fields stay nil.
func MnemonicOwnerPoints(address string, series *mnemonic.OwnerSeries) ([]domain.TimeSeriesPoint, error) {
	if series == nil {
		return nil, nil
	}
	points := make([]domain.TimeSeriesPoint, 0, len(series.DataPoints))
	var errs []error
	for _, dp := range series.DataPoints {
		p, err := newPoint(address, dp.Timestamp)
		if err == nil {
			p.OwnersCount, err = int64Ptr(dp.Count)
		}
		if err != nil {
			errs = append(errs, wrapPointErr(mnemonic.ResourceOwners, address, err))
			continue
		}
		points = append(points, p)
	}
	return points, errors.Join(errs...)
}

func newPoint(address, rawTimestamp string) (domain.TimeSeriesPoint, error) {
	ts, err := CanonicalTimestamp(rawTimestamp)
	if err != nil {
		return domain.TimeSeriesPoint{}, err
	}
	return domain.TimeSeriesPoint{Collection: strings.ToLower(address), Timestamp: ts}, nil
}

func wrapPointErr(resource, address string, err error) error {
	return newError(domain.ProviderMnemonic, resource, "%s: %v", address, err)
}
