package state

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"l4book/internal/book"
	"l4book/internal/model"
	"l4book/internal/model/enum"
	"l4book/pkg/exception"
)

const dumpVersion = 1

// Dump captures the full L4 state of several books at a point in time.
type Dump struct {
	Version   int        `json:"version"`
	Timestamp int64      `json:"timestamp"`
	Books     []BookDump `json:"books"`
}

// BookDump is one book. Orders are listed best level first and in queue
// order within a level, so loading them back keeps every queue position.
type BookDump struct {
	Coin    string       `json:"coin"`
	Live    bool         `json:"live"`
	LastSeq uint64       `json:"lastSeq"`
	Bids    []OrderEntry `json:"bids"`
	Asks    []OrderEntry `json:"asks"`
}

// OrderEntry is a single resting order.
type OrderEntry struct {
	ID    string          `json:"oid"`
	Price decimal.Decimal `json:"px"`
	Size  decimal.Decimal `json:"sz"`
}

// DumpBooks builds a dump of the given books in argument order.
func DumpBooks(books ...*book.Book) Dump {
	d := Dump{
		Version:   dumpVersion,
		Timestamp: time.Now().UTC().UnixNano(),
		Books:     make([]BookDump, 0, len(books)),
	}
	for _, b := range books {
		d.Books = append(d.Books, DumpBook(b))
	}
	return d
}

// DumpBook captures one book.
func DumpBook(b *book.Book) BookDump {
	img := b.Image()
	return BookDump{
		Coin:    b.Coin(),
		Live:    img.State == enum.BookLive,
		LastSeq: img.LastSeq,
		Bids:    toEntries(img.Bids),
		Asks:    toEntries(img.Asks),
	}
}

// Restore builds a book from a dump. A dump of an uninitialized book
// restores to an uninitialized book.
func Restore(d BookDump, opt book.Option) (*book.Book, error) {
	b := book.New(d.Coin, opt)
	if !d.Live {
		return b, nil
	}
	ev := model.Event{
		Type: enum.EventSnapshot,
		Coin: d.Coin,
		Seq:  d.LastSeq,
		Bids: toUpdates(enum.SideBid, d.Bids),
		Asks: toUpdates(enum.SideAsk, d.Asks),
	}
	if err := b.Apply(ev); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteDump writes a dump to disk as indented JSON.
func WriteDump(path string, d Dump) error {
	data, err := sonic.ConfigStd.MarshalIndent(d, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal dump")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadDump loads a dump from disk.
func ReadDump(path string) (Dump, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Dump{}, err
	}
	var d Dump
	if err := sonic.ConfigStd.Unmarshal(data, &d); err != nil {
		return Dump{}, errors.Wrapf(err, "unmarshal dump %s", path)
	}
	if d.Version != dumpVersion {
		return Dump{}, errors.Wrapf(exception.ErrDumpVersion, "version: %d", d.Version)
	}
	return d, nil
}

// CompareDumps checks that actual holds the same books, orders, queue
// order, prices and sizes as expected. Timestamps are ignored.
func CompareDumps(expected, actual Dump) error {
	if len(expected.Books) != len(actual.Books) {
		return mismatch("book count: expected=%d actual=%d", len(expected.Books), len(actual.Books))
	}
	actualByCoin := make(map[string]BookDump, len(actual.Books))
	for _, b := range actual.Books {
		actualByCoin[b.Coin] = b
	}
	for _, want := range expected.Books {
		got, ok := actualByCoin[want.Coin]
		if !ok {
			return mismatch("missing book: %s", want.Coin)
		}
		if want.Live != got.Live {
			return mismatch("%s live: expected=%t actual=%t", want.Coin, want.Live, got.Live)
		}
		if err := compareSide(want.Coin, "bids", want.Bids, got.Bids); err != nil {
			return err
		}
		if err := compareSide(want.Coin, "asks", want.Asks, got.Asks); err != nil {
			return err
		}
	}
	return nil
}

func compareSide(coin, side string, want, got []OrderEntry) error {
	if len(want) != len(got) {
		return mismatch("%s %s length: expected=%d actual=%d", coin, side, len(want), len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if w.ID != g.ID {
			return mismatch("%s %s[%d] id: expected=%s actual=%s", coin, side, i, w.ID, g.ID)
		}
		if !w.Price.Equal(g.Price) || !w.Size.Equal(g.Size) {
			return mismatch("%s %s[%d] %s: expected=%s@%s actual=%s@%s", coin, side, i, w.ID, w.Size, w.Price, g.Size, g.Price)
		}
	}
	return nil
}

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{exception.ErrDumpMismatch}, args...)...)
}

func toEntries(orders []model.Order) []OrderEntry {
	entries := make([]OrderEntry, len(orders))
	for i, o := range orders {
		entries[i] = OrderEntry{ID: o.OrderID, Price: o.Price, Size: o.Size}
	}
	return entries
}

func toUpdates(side enum.Side, entries []OrderEntry) []model.OrderUpdate {
	updates := make([]model.OrderUpdate, len(entries))
	for i, e := range entries {
		updates[i] = model.OrderUpdate{Side: side, OrderID: e.ID, Price: e.Price, Size: e.Size}
	}
	return updates
}
