package normalization

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market-etl/internal/domain"
	"nft-market-etl/internal/provider/mnemonic"
	"nft-market-etl/internal/provider/wire"
)

func strPtr(s string) *string { return &s }

func TestMnemonicCollection(t *testing.T) {
	resp := &mnemonic.MetadataResponse{
		Name:        strPtr("Apes"),
		Types:       []string{"TOKEN_TYPE_ERC721"},
		TokensCount: wire.NewNumber("10000"),
		OwnersCount: wire.NewNumber("5400"),
		SalesVolume: wire.NewNumber("1234.5"),
		Metadata: []mnemonic.MetadataItem{
			{Type: mnemonic.MetaImageURL, Value: "https://img"},
			{Type: mnemonic.MetaBannerImageURL, Value: "https://banner"},
			{Type: mnemonic.MetaDescription, Value: "apes together"},
			{Type: mnemonic.MetaExternalURL, Value: "https://apes.example"},
			{Type: "TYPE_TWITTER_USERNAME", Value: "apes"},
		},
	}

	c, err := MnemonicCollection("0xABC", resp)
	require.NoError(t, err)

	assert.Equal(t, "0xabc", c.Address)
	assert.Equal(t, "Apes", c.Name)
	assert.Equal(t, []string{"ERC721"}, c.Types)
	assert.Equal(t, int64(10000), c.Tokens)
	assert.Equal(t, int64(5400), c.Owners)
	assert.True(t, decimal.RequireFromString("1234.5").Equal(c.SalesVolume))
	assert.Equal(t, "https://img", c.Image)
	assert.Equal(t, "https://banner", c.BannerImage)
	assert.Equal(t, "apes together", c.Description)
	assert.Equal(t, "https://apes.example", c.ExternalURL)
	assert.Nil(t, c.Floor)
}

func TestMnemonicCollection_NullStatsBecomeZero(t *testing.T) {
	c, err := MnemonicCollection("0xabc", &mnemonic.MetadataResponse{Name: strPtr("Apes")})
	require.NoError(t, err)

	assert.Equal(t, int64(0), c.Tokens)
	assert.Equal(t, int64(0), c.Owners)
	assert.True(t, c.SalesVolume.IsZero())
}

func TestMnemonicCollection_MissingName(t *testing.T) {
	_, err := MnemonicCollection("0xabc", &mnemonic.MetadataResponse{})

	var nErr *NormalizationError
	require.True(t, errors.As(err, &nErr))
	assert.Equal(t, domain.ProviderMnemonic, nErr.Provider)
	assert.Equal(t, mnemonic.ResourceMetadata, nErr.Resource)
}

func TestMnemonicCollection_BadNumber(t *testing.T) {
	_, err := MnemonicCollection("0xabc", &mnemonic.MetadataResponse{
		Name:        strPtr("Apes"),
		TokensCount: wire.NewNumber("lots"),
	})
	assert.ErrorContains(t, err, "tokensCount")
}

func TestMnemonicRankings(t *testing.T) {
	rows := []mnemonic.TopCollection{
		{Collection: mnemonic.CollectionRef{ContractAddress: "0xAAA", Name: "A"}, MetricValue: wire.NewNumber("10.5")},
		{Collection: mnemonic.CollectionRef{ContractAddress: ""}, MetricValue: wire.NewNumber("9")},
		{Collection: mnemonic.CollectionRef{ContractAddress: "0xccc", Name: "C"}},
	}

	entries, err := MnemonicRankings(domain.MetricAvgPrice, domain.DurationOneDay, 100, rows)
	require.Error(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "0xaaa", entries[0].Collection)
	assert.Equal(t, 101, entries[0].Position)
	assert.Equal(t, "A", entries[0].CollectionName)
	assert.Equal(t, domain.ProviderMnemonic, entries[0].Provider)
	assert.True(t, decimal.RequireFromString("10.5").Equal(entries[0].Value))

	assert.Equal(t, 103, entries[1].Position)
	assert.True(t, entries[1].Value.IsZero(), "null metric value becomes zero")
}

func TestMnemonicPricePoints_NullsStayNil(t *testing.T) {
	series := &mnemonic.PriceSeries{DataPoints: []mnemonic.PricePoint{
		{Timestamp: "2023-06-19T00:00:00Z", Min: wire.NewNumber("1"), Avg: wire.NewNumber("1.5")},
	}}

	points, err := MnemonicPricePoints("0xabc", series)
	require.NoError(t, err)
	require.Len(t, points, 1)

	p := points[0]
	assert.Equal(t, "2023-06-19T00:00:00+0000", p.Timestamp)
	assert.True(t, decimal.NewFromInt(1).Equal(*p.MinPrice))
	assert.Nil(t, p.MaxPrice)
	assert.True(t, decimal.RequireFromString("1.5").Equal(*p.AvgPrice))
	assert.Nil(t, p.SalesCount)
	assert.Nil(t, p.OwnersCount)
}

func TestMnemonicSeries_BadTimestampSkipped(t *testing.T) {
	series := &mnemonic.OwnerSeries{DataPoints: []mnemonic.OwnerPoint{
		{Timestamp: "garbage", Count: wire.NewNumber("1")},
		{Timestamp: "2023-06-20T00:00:00Z", Count: wire.NewNumber("7")},
	}}

	points, err := MnemonicOwnerPoints("0xabc", series)
	assert.Error(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(7), *points[0].OwnersCount)
}

func TestMnemonicSalesAndTokenPoints(t *testing.T) {
	sales, err := MnemonicSalesPoints("0xabc", &mnemonic.SalesSeries{DataPoints: []mnemonic.SalesPoint{
		{Timestamp: "2023-06-19T00:00:00Z", Quantity: wire.NewNumber("3"), Volume: wire.NewNumber("4.2")},
	}})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3).Equal(*sales[0].SalesCount))
	assert.True(t, decimal.RequireFromString("4.2").Equal(*sales[0].SalesVolume))

	tokens, err := MnemonicTokenPoints("0xabc", &mnemonic.TokenSeries{DataPoints: []mnemonic.TokenPoint{
		{Timestamp: "2023-06-19T00:00:00Z", Minted: wire.NewNumber("5"), TotalMinted: wire.NewNumber("1e4")},
	}})
	require.NoError(t, err)
	assert.Equal(t, int64(5), *tokens[0].TokensMinted)
	assert.Nil(t, tokens[0].TokensBurned)
	assert.Equal(t, int64(10000), *tokens[0].TotalMinted)
}

func TestTokenType(t *testing.T) {
	assert.Equal(t, "ERC721", TokenType("TOKEN_TYPE_ERC721"))
	assert.Equal(t, "ERC1155", TokenType(" erc1155 "))
	assert.Equal(t, "", TokenType(""))
}
