package domain

import "github.com/shopspring/decimal"

// FloorQuote is a single marketplace's floor observation for a collection.
// Transient: only the selected value is persisted.
type FloorQuote struct {
	Marketplace string
	UpdatedAt   string           // canonical timestamp, empty if unknown
	Floor       *decimal.Decimal // nil when the marketplace reported no floor
}

// CollectionFloor is the reconciled floor of one collection.
type CollectionFloor struct {
	Collection string
	Floor      decimal.Decimal
}
