package sampler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"l4book/internal/book"
	"l4book/internal/model"
	"l4book/internal/model/enum"
)

type bookSource map[string]*book.Book

func (s bookSource) Coins() []string {
	coins := make([]string, 0, len(s))
	for c := range s {
		coins = append(coins, c)
	}
	return coins
}

func (s bookSource) Report(coin string, levels int) (model.TopOfBook, model.BookStats, bool) {
	b, ok := s[coin]
	if !ok {
		return model.TopOfBook{}, model.BookStats{}, false
	}
	return b.Top(levels), b.Stats(), true
}

type chanSink struct {
	ch    chan []model.TopOfBook
	block chan struct{}
}

func (c *chanSink) Name() string { return "chan" }

func (c *chanSink) Write(_ context.Context, samples []model.TopOfBook) error {
	if c.block != nil {
		<-c.block
	}
	c.ch <- samples
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func liveBook(t *testing.T) *book.Book {
	t.Helper()
	b := book.New("BTC", book.Option{})
	require.NoError(t, b.Apply(model.Event{
		Type: enum.EventSnapshot,
		Coin: "BTC",
		Seq:  9,
		Bids: []model.OrderUpdate{
			{Side: enum.SideBid, OrderID: "a", Price: dec("100"), Size: dec("2")},
			{Side: enum.SideBid, OrderID: "b", Price: dec("100"), Size: dec("3")},
		},
		Asks: []model.OrderUpdate{
			{Side: enum.SideAsk, OrderID: "d", Price: dec("101"), Size: dec("1")},
		},
	}))
	return b
}

func TestCollectSkipsBooksWithoutSnapshot(t *testing.T) {
	src := bookSource{"BTC": liveBook(t), "ETH": book.New("ETH", book.Option{})}
	s := New(src, Option{Levels: 5})

	samples := s.Collect()
	require.Len(t, samples, 1)
	assert.Equal(t, "BTC", samples[0].Coin)
	assert.True(t, dec("5").Equal(samples[0].Depth.BidDepth))
}

func TestRunDeliversAndSkipsWhenBusy(t *testing.T) {
	sink := &chanSink{ch: make(chan []model.TopOfBook, 4), block: make(chan struct{})}
	s := New(bookSource{"BTC": liveBook(t)}, Option{Interval: 5 * time.Millisecond}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	require.Eventually(t, func() bool { return s.Skipped() > 0 }, 2*time.Second, time.Millisecond)
	close(sink.block)

	select {
	case samples := <-sink.ch:
		require.Len(t, samples, 1)
		assert.Equal(t, "BTC", samples[0].Coin)
	case <-time.After(2 * time.Second):
		t.Fatal("no samples delivered")
	}
	assert.GreaterOrEqual(t, s.Ticks(), uint64(1))
}

func TestFormatSample(t *testing.T) {
	line := FormatSample(liveBook(t).Top(5))
	assert.Contains(t, line, "BTC bid 5@100 ask 1@101")
	assert.Contains(t, line, "spread 1 (99.50 bps)")
	assert.Contains(t, line, "orders 2/1")

	empty := FormatSample(book.New("ETH", book.Option{}).Top(5))
	assert.Contains(t, empty, "bid - ask - spread -")
}

func TestToRow(t *testing.T) {
	top := liveBook(t).Top(5)
	row := toRow(top)

	assert.Equal(t, "BTC", row.Coin)
	require.True(t, row.BidPx.Valid)
	assert.True(t, dec("100").Equal(row.BidPx.Decimal))
	assert.True(t, dec("5").Equal(row.BidSz.Decimal))
	assert.True(t, dec("99.5025").Equal(row.SpreadBps.Decimal))
	assert.Equal(t, int64(9), row.LastSeq)

	empty := toRow(book.New("ETH", book.Option{}).Top(5))
	assert.False(t, empty.BidPx.Valid)
	assert.False(t, empty.Spread.Valid)
}

func TestPostgresSinkBuildsInsert(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=127.0.0.1 user=l4 dbname=l4 sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	sink, err := NewPostgresSink(db, false)
	require.NoError(t, err)
	require.NoError(t, sink.Write(context.Background(), []model.TopOfBook{liveBook(t).Top(5)}))
	require.NoError(t, sink.Write(context.Background(), nil))

	stmt := db.Session(&gorm.Session{DryRun: true}).Create(&[]BookSample{toRow(liveBook(t).Top(5))}).Statement
	assert.Contains(t, stmt.SQL.String(), `INSERT INTO "book_samples"`)
}
