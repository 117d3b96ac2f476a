package mdg

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4book/internal/book"
	"l4book/internal/decoder"
	"l4book/internal/model/enum"
	"l4book/pkg/exception"
)

func TestGeneratorDeterministic(t *testing.T) {
	opt := Option{Coins: []string{"BTC", "ETH"}, Seed: 7, Orders: 5}
	a, err := NewGenerator(opt)
	require.NoError(t, err)
	b, err := NewGenerator(opt)
	require.NoError(t, err)

	for i := range 50 {
		ma, err := a.Next()
		require.NoError(t, err)
		mb, err := b.Next()
		require.NoError(t, err)
		require.Equalf(t, string(ma.Raw), string(mb.Raw), "message %d", i)
	}
}

func TestGeneratorFirstMessageIsSnapshot(t *testing.T) {
	g, err := NewGenerator(Option{Coins: []string{"BTC", "ETH"}, Seed: 1, Orders: 3})
	require.NoError(t, err)

	seen := map[string]bool{}
	for range 6 {
		msg, err := g.Next()
		require.NoError(t, err)
		if !seen[msg.Coin] {
			assert.Equal(t, enum.EventSnapshot, msg.Type, msg.String())
			seen[msg.Coin] = true
			continue
		}
		assert.Equal(t, enum.EventDiff, msg.Type, msg.String())
	}
	assert.Len(t, seen, 2)
}

func TestGeneratorDrivesBook(t *testing.T) {
	g, err := NewGenerator(Option{Coins: []string{"BTC"}, Seed: 42, Orders: 10, Levels: 5, SnapshotEvery: 25})
	require.NoError(t, err)

	b := book.New("BTC", book.Option{StrictSequence: true})
	snapshots := 0
	for range 200 {
		msg, err := g.Next()
		require.NoError(t, err)

		ev, err := decoder.Decode(msg.Raw)
		require.NoError(t, err)
		require.Zero(t, ev.Dropped)
		require.Equal(t, msg.Seq, ev.Seq)
		require.NoError(t, b.Apply(ev))
		if msg.Type == enum.EventSnapshot {
			snapshots++
		}

		wantBids, wantAsks := g.Orders("BTC")
		gotBids, gotAsks := b.OrderCounts()
		require.Equal(t, wantBids, gotBids)
		require.Equal(t, wantAsks, gotAsks)
	}
	assert.Greater(t, snapshots, 1)

	bestBid, ok := b.BestBid()
	require.True(t, ok)
	bestAsk, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, bestBid.Price.LessThan(bestAsk.Price))
	assert.Zero(t, b.Stats().Gaps)
}

func TestOptionValidate(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"no coins", Option{}},
		{"negative price", Option{Coins: []string{"BTC"}, BasePrice: decimal.NewFromInt(-1)}},
		{"levels below zero", Option{Coins: []string{"BTC"}, BasePrice: decimal.NewFromInt(1), Levels: 20}},
		{"negative orders", Option{Coins: []string{"BTC"}, Orders: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.opt)
			require.ErrorIs(t, err, exception.ErrInvalidArgument)
		})
	}
}
