package model

import (
	"github.com/shopspring/decimal"

	"l4book/internal/model/enum"
)

// OrderUpdate is the canonical, wire-independent description of one order.
// Size is absolute; zero means the order is gone.
type OrderUpdate struct {
	Side    enum.Side
	OrderID string
	Price   decimal.Decimal
	Size    decimal.Decimal
}

// IsRemoval reports whether the update deletes the order.
func (u OrderUpdate) IsRemoval() bool {
	return u.Size.IsZero()
}

// Order is a resting order. ArrivalSeq is assigned by the book and orders the
// queue inside a price level.
type Order struct {
	OrderID    string
	Side       enum.Side
	Price      decimal.Decimal
	Size       decimal.Decimal
	ArrivalSeq uint64
}
