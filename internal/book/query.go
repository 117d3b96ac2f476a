package book

import (
	"time"

	"github.com/shopspring/decimal"

	"l4book/internal/model"
	"l4book/internal/model/enum"
)

var (
	two         = decimal.NewFromInt(2)
	tenThousand = decimal.NewFromInt(10_000)
)

// BestBid returns the highest bid level, absent when the bid side is empty.
func (b *Book) BestBid() (model.Quote, bool) {
	if b == nil {
		return model.Quote{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestQuote(b.bids)
}

// BestAsk returns the lowest ask level, absent when the ask side is empty.
func (b *Book) BestAsk() (model.Quote, bool) {
	if b == nil {
		return model.Quote{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestQuote(b.asks)
}

// Spread is best ask minus best bid. It can be negative on a crossed book.
func (b *Book) Spread() (decimal.Decimal, bool) {
	if b == nil {
		return decimal.Zero, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	spread, _, ok := b.spreadLocked()
	return spread, ok
}

// SpreadBps is the spread over the mid price in basis points.
func (b *Book) SpreadBps() (decimal.Decimal, bool) {
	if b == nil {
		return decimal.Zero, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, bps, ok := b.spreadLocked()
	return bps, ok
}

// Depth sums the sizes of the best n levels of each side.
func (b *Book) Depth(levels int) model.Depth {
	if b == nil {
		return model.Depth{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.depthLocked(levels)
}

// QueuePosition returns the 1-based rank of an order within its price
// level, or 0 when the id is unknown.
func (b *Book) QueuePosition(orderID string) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sb := range [...]*sideBook{b.bids, b.asks} {
		if o, ok := sb.orders[orderID]; ok {
			return sb.index.position(o)
		}
	}
	return 0
}

// OrderCounts returns the number of resting orders per side.
func (b *Book) OrderCounts() (bids, asks int) {
	if b == nil {
		return 0, 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.bids.orders), len(b.asks.orders)
}

// Order looks up a resting order by id.
func (b *Book) Order(orderID string) (model.Order, bool) {
	if b == nil {
		return model.Order{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sb := range [...]*sideBook{b.bids, b.asks} {
		if o, ok := sb.orders[orderID]; ok {
			return *o, true
		}
	}
	return model.Order{}, false
}

// Levels returns up to n levels of one side from the best price outwards,
// each with its queue. n <= 0 returns every level.
func (b *Book) Levels(side enum.Side, n int) []model.LevelView {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	sb, err := b.sideLocked(side)
	if err != nil {
		return nil
	}
	return collectLevels(sb, n)
}

// OrdersAtPrice returns the queue at one price, earliest arrival first.
func (b *Book) OrdersAtPrice(side enum.Side, price decimal.Decimal) []model.Order {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	sb, err := b.sideLocked(side)
	if err != nil {
		return nil
	}
	lv, ok := sb.index.get(price)
	if !ok {
		return nil
	}
	return lv.view().Orders
}

// Snapshot copies every resting order of both sides in book order: best
// level first and queue order within a level.
func (b *Book) Snapshot() (bids, asks []model.Order) {
	if b == nil {
		return nil, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return flatten(b.bids), flatten(b.asks)
}

// Image is every resting order together with the state and sequence they
// belong to.
type Image struct {
	State   enum.BookState
	LastSeq uint64
	Bids    []model.Order
	Asks    []model.Order
}

// Image copies the whole book under one read lock, so State and LastSeq
// always describe the same event as the orders.
func (b *Book) Image() Image {
	if b == nil {
		return Image{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Image{
		State:   b.state,
		LastSeq: b.lastSeq,
		Bids:    flatten(b.bids),
		Asks:    flatten(b.asks),
	}
}

// Top summarises the book under one read lock.
func (b *Book) Top(levels int) model.TopOfBook {
	if b == nil {
		return model.TopOfBook{}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	top := model.TopOfBook{
		Coin:      b.coin,
		State:     b.state,
		Depth:     b.depthLocked(levels),
		BidOrders: len(b.bids.orders),
		AskOrders: len(b.asks.orders),
		LastSeq:   b.lastSeq,
		TsNano:    time.Now().UnixNano(),
	}
	top.BestBid, top.HasBid = bestQuote(b.bids)
	top.BestAsk, top.HasAsk = bestQuote(b.asks)
	top.Spread, top.SpreadBps, top.HasSpread = b.spreadLocked()
	return top
}

func (b *Book) spreadLocked() (spread, bps decimal.Decimal, ok bool) {
	bid, okBid := bestQuote(b.bids)
	ask, okAsk := bestQuote(b.asks)
	if !okBid || !okAsk {
		return decimal.Zero, decimal.Zero, false
	}

	spread = ask.Price.Sub(bid.Price)
	mid := ask.Price.Add(bid.Price).Div(two)
	if mid.IsZero() {
		return spread, decimal.Zero, false
	}
	return spread, spread.Mul(tenThousand).Div(mid), true
}

func (b *Book) depthLocked(levels int) model.Depth {
	d := model.Depth{
		BidDepth: decimal.Zero,
		AskDepth: decimal.Zero,
	}
	if levels <= 0 {
		return d
	}
	d.BidDepth, d.BidLevels = sumLevels(b.bids, levels)
	d.AskDepth, d.AskLevels = sumLevels(b.asks, levels)
	return d
}

func bestQuote(sb *sideBook) (model.Quote, bool) {
	lv, ok := sb.index.best()
	if !ok {
		return model.Quote{}, false
	}
	return model.Quote{Price: lv.price, Size: lv.totalSize}, true
}

func sumLevels(sb *sideBook, n int) (decimal.Decimal, int) {
	total := decimal.Zero
	count := 0
	sb.index.ascend(func(lv *level) bool {
		total = total.Add(lv.totalSize)
		count++
		return count < n
	})
	return total, count
}

func collectLevels(sb *sideBook, n int) []model.LevelView {
	size := sb.index.len()
	if n > 0 && n < size {
		size = n
	}
	views := make([]model.LevelView, 0, size)
	sb.index.ascend(func(lv *level) bool {
		views = append(views, lv.view())
		return n <= 0 || len(views) < n
	})
	return views
}

func flatten(sb *sideBook) []model.Order {
	orders := make([]model.Order, 0, len(sb.orders))
	sb.index.ascend(func(lv *level) bool {
		for _, o := range lv.orders {
			orders = append(orders, *o)
		}
		return true
	})
	return orders
}
