package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4book/internal/book"
	"l4book/internal/decoder"
	"l4book/internal/model/enum"
	"l4book/internal/recorder"
	"l4book/pkg/exception"
)

const (
	snapshotMsg = `{"type":"snapshot","coin":"BTC","height":1,
		"bids":[["100","2","a"],["100","3","b"],["99","1","c"]],
		"asks":[["101","1","d"]]}`
	diffMsg = `{"type":"diff","coin":"BTC","height":2,"bids":[["100","0","a"],["100","4","e"]],"asks":[]}`
)

func applyRaw(t *testing.T, books *Books, raw string) {
	t.Helper()
	ev, err := decoder.Decode([]byte(raw))
	require.NoError(t, err)
	require.NoError(t, books.Apply(ev))
}

func TestDumpRoundTrip(t *testing.T) {
	books := NewBooks(book.Option{})
	applyRaw(t, books, snapshotMsg)
	applyRaw(t, books, diffMsg)
	books.Get("ETH")

	d := DumpBooks(books.All()...)
	require.Len(t, d.Books, 2)
	assert.Equal(t, "BTC", d.Books[0].Coin)
	assert.True(t, d.Books[0].Live)
	assert.False(t, d.Books[1].Live)

	ids := make([]string, 0, len(d.Books[0].Bids))
	for _, e := range d.Books[0].Bids {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"b", "e", "c"}, ids)

	path := filepath.Join(t.TempDir(), "dumps", "books.json")
	require.NoError(t, WriteDump(path, d))
	loaded, err := ReadDump(path)
	require.NoError(t, err)
	require.NoError(t, CompareDumps(d, loaded))

	restored, err := Restore(loaded.Books[0], book.Option{})
	require.NoError(t, err)
	assert.Equal(t, 1, restored.QueuePosition("b"))
	assert.Equal(t, 2, restored.QueuePosition("e"))
	best, ok := restored.BestBid()
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(7).Equal(best.Size))
	assert.Equal(t, uint64(2), restored.Top(1).LastSeq)

	empty, err := Restore(loaded.Books[1], book.Option{})
	require.NoError(t, err)
	assert.Equal(t, enum.BookUninitialized, empty.State())
}

func TestCompareDumpsMismatch(t *testing.T) {
	books := NewBooks(book.Option{})
	applyRaw(t, books, snapshotMsg)
	before := DumpBooks(books.All()...)

	applyRaw(t, books, diffMsg)
	after := DumpBooks(books.All()...)

	err := CompareDumps(before, after)
	require.ErrorIs(t, err, exception.ErrDumpMismatch)
	assert.Contains(t, err.Error(), "BTC bids")

	require.ErrorIs(t, CompareDumps(before, Dump{}), exception.ErrDumpMismatch)
	require.NoError(t, CompareDumps(after, after))
}

func TestReadDumpVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.json")
	require.NoError(t, WriteDump(path, Dump{Version: 99}))
	_, err := ReadDump(path)
	require.ErrorIs(t, err, exception.ErrDumpVersion)
}

func TestRecover(t *testing.T) {
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	now := time.Now().UnixNano()
	require.NoError(t, w.TryAppend(now, []byte(snapshotMsg)))
	require.NoError(t, w.TryAppend(now+1, []byte(`{"type":"trade","coin":"BTC","bids":[],"asks":[]}`)))
	require.NoError(t, w.TryAppend(now+2, []byte(diffMsg)))
	require.NoError(t, w.Close())

	res, err := Recover(context.Background(), RecoverConfig{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Records)
	assert.Equal(t, uint64(1), res.Rejected)
	assert.Equal(t, now+2, res.LastRecvTs)

	b, ok := res.Books.Lookup("BTC")
	require.True(t, ok)
	assert.Equal(t, 1, b.QueuePosition("b"))
	_, ok = b.Order("a")
	assert.False(t, ok)

	want := DumpBooks(res.Books.All()...)
	dumpPath := filepath.Join(t.TempDir(), "d.json")
	require.NoError(t, WriteDump(dumpPath, want))

	// every record predates the dump, so the dump alone is the result
	again, err := Recover(context.Background(), RecoverConfig{Dir: dir, DumpPath: dumpPath})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), again.Skipped)
	require.NoError(t, CompareDumps(want, DumpBooks(again.Books.All()...)))
}
