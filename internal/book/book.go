// Package book keeps a full L4 order book for one coin: every resting order
// by id, grouped into price levels whose queues are ordered by arrival.
//
// A Book is safe for concurrent use. Each event is applied under a single
// write lock, so readers never observe a half-applied message.
package book

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"l4book/internal/model"
	"l4book/internal/model/enum"
	"l4book/pkg/exception"
)

// Option tunes sequence handling.
type Option struct {
	// StrictSequence treats any forward skip in the event sequence as a gap.
	// Otherwise only a sequence moving backwards counts as one.
	StrictSequence bool
}

type sideBook struct {
	side   enum.Side
	orders map[string]*model.Order
	index  *levelIndex
}

func newSideBook(side enum.Side) *sideBook {
	return &sideBook{
		side:   side,
		orders: make(map[string]*model.Order),
		index:  newLevelIndex(side),
	}
}

func (sb *sideBook) reset(capacity int) {
	sb.orders = make(map[string]*model.Order, capacity)
	sb.index.clear()
}

// Book is the order book of a single coin.
type Book struct {
	coin string
	opt  Option

	mu      sync.RWMutex
	state   enum.BookState
	closed  bool
	bids    *sideBook
	asks    *sideBook
	nextSeq uint64
	lastSeq uint64

	stats StatsTracker
}

// New returns an empty, uninitialized book.
func New(coin string, opt Option) *Book {
	return &Book{
		coin: coin,
		opt:  opt,
		bids: newSideBook(enum.SideBid),
		asks: newSideBook(enum.SideAsk),
	}
}

func (b *Book) Coin() string {
	if b == nil {
		return ""
	}
	return b.coin
}

// State returns the current readiness of the book.
func (b *Book) State() enum.BookState {
	if b == nil {
		return enum.BookUninitialized
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsReady reports whether a snapshot has been applied since the last reset.
func (b *Book) IsReady() bool {
	return b.State() == enum.BookLive
}

// Stats returns a copy of the book counters.
func (b *Book) Stats() model.BookStats {
	if b == nil {
		return model.BookStats{}
	}
	return b.stats.Snapshot(b.coin)
}

// Apply applies one decoded event atomically.
//
// Snapshots replace both sides and make the book live. Diffs are rejected
// with ErrBookNotReady until then. A repeated sequence is skipped, and a
// sequence gap clears the book back to uninitialized and returns
// ErrSequenceGap so the caller can ask the feed for a fresh snapshot.
// A reset event clears the book the same way without counting a gap.
func (b *Book) Apply(ev model.Event) error {
	if b == nil {
		return exception.ErrNilInstance
	}
	start := time.Now()
	defer b.stats.applyLatency.Since(start)

	b.stats.addDropped(ev.Dropped)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return exception.ErrBookClosed
	}

	switch ev.Type {
	case enum.EventSnapshot:
		b.applySnapshotLocked(b.bids, ev.Bids)
		b.applySnapshotLocked(b.asks, ev.Asks)
		b.state = enum.BookLive
		b.lastSeq = ev.Seq
		b.stats.observeApplied(true, ev.Seq, b.nextSeq, ev.RecvTsNano)
		return nil

	case enum.EventDiff:
		if b.state != enum.BookLive {
			b.stats.incNotReady()
			return errors.Wrapf(exception.ErrBookNotReady, "coin: %s", b.coin)
		}

		if ev.Seq != 0 && b.lastSeq != 0 {
			switch {
			case ev.Seq == b.lastSeq:
				b.stats.incDuplicate()
				return nil
			case ev.Seq < b.lastSeq, b.opt.StrictSequence && ev.Seq > b.lastSeq+1:
				last := b.lastSeq
				b.resetLocked()
				b.stats.incGap()
				return errors.Wrapf(exception.ErrSequenceGap, "coin: %s, last: %d, got: %d", b.coin, last, ev.Seq)
			}
		}

		for _, u := range ev.Bids {
			b.applyDiffLocked(b.bids, u)
		}
		for _, u := range ev.Asks {
			b.applyDiffLocked(b.asks, u)
		}
		if ev.Seq != 0 {
			b.lastSeq = ev.Seq
		}
		b.stats.observeApplied(false, ev.Seq, b.nextSeq, ev.RecvTsNano)
		return nil

	case enum.EventReset:
		b.resetLocked()
		return nil

	default:
		return errors.Wrapf(exception.ErrUnknownEventType, "type: %d", ev.Type)
	}
}

// ApplySnapshot replaces one side with the given full list and marks the
// book live. Entries with size zero are ignored.
func (b *Book) ApplySnapshot(side enum.Side, updates []model.OrderUpdate) error {
	if b == nil {
		return exception.ErrNilInstance
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return exception.ErrBookClosed
	}
	sb, err := b.sideLocked(side)
	if err != nil {
		return err
	}

	b.applySnapshotLocked(sb, updates)
	b.state = enum.BookLive
	b.stats.observeApplied(true, 0, b.nextSeq, time.Now().UnixNano())
	return nil
}

// ApplyDiff inserts, modifies or removes a single order.
func (b *Book) ApplyDiff(side enum.Side, u model.OrderUpdate) error {
	if b == nil {
		return exception.ErrNilInstance
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return exception.ErrBookClosed
	}
	sb, err := b.sideLocked(side)
	if err != nil {
		return err
	}
	if b.state != enum.BookLive {
		b.stats.incNotReady()
		return errors.Wrapf(exception.ErrBookNotReady, "coin: %s", b.coin)
	}

	b.applyDiffLocked(sb, u)
	b.stats.observeApplied(false, 0, b.nextSeq, time.Now().UnixNano())
	return nil
}

// Reset drops every order and returns the book to uninitialized.
func (b *Book) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

// Close releases the book. Later applies fail with ErrBookClosed and
// queries see an empty book.
func (b *Book) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.closed = true
}

func (b *Book) resetLocked() {
	b.bids.reset(0)
	b.asks.reset(0)
	b.state = enum.BookUninitialized
	b.lastSeq = 0
}

func (b *Book) sideLocked(side enum.Side) (*sideBook, error) {
	switch side {
	case enum.SideBid:
		return b.bids, nil
	case enum.SideAsk:
		return b.asks, nil
	default:
		return nil, errors.Wrapf(exception.ErrUnknownSide, "side: %d", side)
	}
}

func (b *Book) otherLocked(sb *sideBook) *sideBook {
	if sb == b.bids {
		return b.asks
	}
	return b.bids
}

func (b *Book) applySnapshotLocked(sb *sideBook, updates []model.OrderUpdate) {
	sb.reset(len(updates))
	for _, u := range updates {
		if u.IsRemoval() {
			continue
		}
		b.upsertLocked(sb, u)
	}
}

func (b *Book) applyDiffLocked(sb *sideBook, u model.OrderUpdate) {
	if u.IsRemoval() {
		b.removeLocked(sb, u.OrderID)
		return
	}
	b.upsertLocked(sb, u)
}

// upsertLocked keeps the arrival sequence of a known id, so a size or price
// amendment never moves the order behind later arrivals.
func (b *Book) upsertLocked(sb *sideBook, u model.OrderUpdate) {
	if o, ok := sb.orders[u.OrderID]; ok {
		if o.Price.Equal(u.Price) {
			sb.index.resize(o, u.Size)
			o.Size = u.Size
			return
		}
		sb.index.remove(o)
		o.Price = u.Price
		o.Size = u.Size
		sb.index.insert(o)
		return
	}

	b.removeLocked(b.otherLocked(sb), u.OrderID)

	b.nextSeq++
	o := &model.Order{
		OrderID:    u.OrderID,
		Side:       sb.side,
		Price:      u.Price,
		Size:       u.Size,
		ArrivalSeq: b.nextSeq,
	}
	sb.orders[o.OrderID] = o
	sb.index.insert(o)
}

func (b *Book) removeLocked(sb *sideBook, id string) {
	o, ok := sb.orders[id]
	if !ok {
		return
	}
	sb.index.remove(o)
	delete(sb.orders, id)
}
