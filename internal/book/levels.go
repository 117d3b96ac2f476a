package book

import (
	"cmp"
	"slices"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"l4book/internal/model"
	"l4book/internal/model/enum"
)

const levelTreeDegree = 32

// level is one price bucket. orders stay sorted by ArrivalSeq.
type level struct {
	price     decimal.Decimal
	totalSize decimal.Decimal
	orders    []*model.Order
}

// levelIndex keeps the price levels of one side in book order:
// bids descending, asks ascending, so Min is always the best level.
type levelIndex struct {
	tree *btree.BTreeG[*level]
}

func newLevelIndex(side enum.Side) *levelIndex {
	less := func(a, b *level) bool { return a.price.Cmp(b.price) < 0 }
	if side == enum.SideBid {
		less = func(a, b *level) bool { return a.price.Cmp(b.price) > 0 }
	}

	return &levelIndex{tree: btree.NewG(levelTreeDegree, less)}
}

func (x *levelIndex) get(price decimal.Decimal) (*level, bool) {
	return x.tree.Get(&level{price: price})
}

func (x *levelIndex) best() (*level, bool) {
	return x.tree.Min()
}

func (x *levelIndex) len() int {
	return x.tree.Len()
}

// insert places o into its price bucket, creating the bucket on demand.
func (x *levelIndex) insert(o *model.Order) {
	lv, ok := x.get(o.Price)
	if !ok {
		lv = &level{price: o.Price}
		x.tree.ReplaceOrInsert(lv)
	}

	i, _ := slices.BinarySearchFunc(lv.orders, o.ArrivalSeq, compareSeq)
	lv.orders = slices.Insert(lv.orders, i, o)
	lv.totalSize = lv.totalSize.Add(o.Size)
}

// remove takes o out of its bucket and drops the bucket once it is empty.
// o.Price and o.Size must still hold the values used at insert time.
func (x *levelIndex) remove(o *model.Order) {
	lv, ok := x.get(o.Price)
	if !ok {
		return
	}

	i, found := slices.BinarySearchFunc(lv.orders, o.ArrivalSeq, compareSeq)
	if !found {
		return
	}

	lv.orders = slices.Delete(lv.orders, i, i+1)
	lv.totalSize = lv.totalSize.Sub(o.Size)
	if len(lv.orders) == 0 {
		x.tree.Delete(lv)
	}
}

// resize adjusts the bucket total for an order whose price is unchanged.
func (x *levelIndex) resize(o *model.Order, size decimal.Decimal) {
	lv, ok := x.get(o.Price)
	if !ok {
		return
	}
	lv.totalSize = lv.totalSize.Sub(o.Size).Add(size)
}

// position returns the 1-based queue rank of o inside its bucket, 0 if absent.
func (x *levelIndex) position(o *model.Order) int {
	lv, ok := x.get(o.Price)
	if !ok {
		return 0
	}

	i, found := slices.BinarySearchFunc(lv.orders, o.ArrivalSeq, compareSeq)
	if !found {
		return 0
	}
	return i + 1
}

// ascend walks levels from the best price outwards until fn returns false.
func (x *levelIndex) ascend(fn func(lv *level) bool) {
	x.tree.Ascend(btree.ItemIteratorG[*level](fn))
}

func (x *levelIndex) clear() {
	x.tree.Clear(false)
}

func compareSeq(o *model.Order, seq uint64) int {
	return cmp.Compare(o.ArrivalSeq, seq)
}

func (lv *level) view() model.LevelView {
	orders := make([]model.Order, len(lv.orders))
	for i, o := range lv.orders {
		orders[i] = *o
	}
	return model.LevelView{
		Price:      lv.price,
		TotalSize:  lv.totalSize,
		OrderCount: len(lv.orders),
		Orders:     orders,
	}
}
