package normalization

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"nft-market-etl/internal/provider/wire"
)

// decimalPtr parses n, returning nil for null or empty values.
func decimalPtr(n wire.Number) (*decimal.Decimal, error) {
	if !n.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(n.Raw)
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", n.Raw, err)
	}
	return &d, nil
}

// decimalOrZero parses n, substituting zero for null or empty values.
func decimalOrZero(n wire.Number) (decimal.Decimal, error) {
	d, err := decimalPtr(n)
	if err != nil || d == nil {
		return decimal.Zero, err
	}
	return *d, nil
}

// int64Ptr parses an integral count. Values like "1e4" or "10000.0" are
// accepted; fractional parts are truncated.
func int64Ptr(n wire.Number) (*int64, error) {
	d, err := decimalPtr(n)
	if err != nil || d == nil {
		return nil, err
	}
	v := d.IntPart()
	return &v, nil
}

// int64OrZero parses an integral count, substituting zero for null.
func int64OrZero(n wire.Number) (int64, error) {
	v, err := int64Ptr(n)
	if err != nil || v == nil {
		return 0, err
	}
	return *v, nil
}

// TokenType maps a provider token-standard tag to its canonical form,
// e.g. TOKEN_TYPE_ERC721 or erc721 to ERC721.
func TokenType(tag string) string {
	t := strings.ToUpper(strings.TrimSpace(tag))
	return strings.TrimPrefix(t, "TOKEN_TYPE_")
}
