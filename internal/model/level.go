package model

import "github.com/shopspring/decimal"

// Quote is a price and the aggregated size resting there.
type Quote struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// LevelView is a read-only copy of one price level.
type LevelView struct {
	Price      decimal.Decimal
	TotalSize  decimal.Decimal
	OrderCount int
	// Orders are in queue order, earliest arrival first.
	Orders []Order
}

// Depth sums the top levels of each side.
type Depth struct {
	BidDepth  decimal.Decimal
	AskDepth  decimal.Decimal
	BidLevels int
	AskLevels int
}
