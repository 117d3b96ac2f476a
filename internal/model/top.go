package model

import (
	"time"

	"github.com/shopspring/decimal"

	"l4book/internal/model/enum"
)

// TopOfBook is a consistent summary of one book taken under a single read.
type TopOfBook struct {
	Coin  string
	State enum.BookState

	BestBid Quote
	HasBid  bool
	BestAsk Quote
	HasAsk  bool

	Spread    decimal.Decimal
	SpreadBps decimal.Decimal
	HasSpread bool

	Depth     Depth
	BidOrders int
	AskOrders int

	LastSeq uint64
	TsNano  int64
}

// BookStats is a point-in-time copy of a book's counters.
type BookStats struct {
	Coin string

	Updates    uint64
	Snapshots  uint64
	Diffs      uint64
	NotReady   uint64
	Duplicates uint64
	Gaps       uint64
	// Dropped counts malformed entries discarded before they reached the book.
	Dropped uint64

	LastEventSeq   uint64
	LastArrivalSeq uint64
	LastUpdate     time.Time

	ApplyCount uint64
	ApplyAvg   time.Duration
	ApplyMax   time.Duration
}
