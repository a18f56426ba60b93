package domain

import "github.com/shopspring/decimal"

// Collection represents an NFT collection.
// Corresponds to the collection table; Address is the primary key.
type Collection struct {
	Address     string
	Name        string
	Types       []string // token standards, e.g. ERC721
	Tokens      int64
	Owners      int64
	SalesVolume decimal.Decimal
	Floor       *decimal.Decimal // written only by the floor reconciliation path
	Image       string
	BannerImage string
	Description string
	ExternalURL string
}
