package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"l4book/internal/mdg"
	"l4book/internal/recorder"
)

func main() {
	if err := run(); err != nil {
		logs.Errorf("gen: %+v", err)
		os.Exit(1)
	}
}

func run() error {
	dir := flag.String("dir", "testdata/rec", "Recording directory")
	prefix := flag.String("prefix", "", "Segment file prefix (default: l4)")
	coins := flag.String("coins", "BTC,ETH", "Comma separated coins")
	messages := flag.Int("messages", 1000, "Number of messages to generate")
	seed := flag.Int64("seed", 1, "Random seed")
	basePrice := flag.String("base-price", "100", "Mid price the levels are built around")
	tick := flag.String("tick", "0.1", "Price tick")
	levels := flag.Int("levels", 20, "Price levels per side")
	orders := flag.Int("orders", 50, "Resting orders per side in the first snapshot")
	snapshotEvery := flag.Int("snapshot-every", 0, "Re-send a snapshot after this many diffs (0=never)")
	step := flag.Duration("step", 10*time.Millisecond, "Receive time gap between messages")
	flag.Parse()

	if *messages <= 0 {
		return errors.New("messages must be > 0")
	}
	price, err := decimal.NewFromString(*basePrice)
	if err != nil {
		return err
	}
	tickSize, err := decimal.NewFromString(*tick)
	if err != nil {
		return err
	}

	gen, err := mdg.NewGenerator(mdg.Option{
		Coins:         splitCoins(*coins),
		Seed:          *seed,
		BasePrice:     price,
		TickSize:      tickSize,
		Levels:        *levels,
		Orders:        *orders,
		SnapshotEvery: *snapshotEvery,
	})
	if err != nil {
		return err
	}

	cfg := recorder.DefaultConfig(*dir)
	if *prefix != "" {
		cfg.FilePrefix = *prefix
	}
	cfg.CopyPayload = false
	writer, err := recorder.NewWriter(cfg)
	if err != nil {
		return err
	}
	ctx := context.Background()
	if err := writer.Start(ctx); err != nil {
		return err
	}

	recvTs := time.Now().UnixNano()
	for range *messages {
		msg, err := gen.Next()
		if err != nil {
			_ = writer.Close()
			return err
		}
		if err := appendBlocking(writer, recvTs, msg.Raw); err != nil {
			_ = writer.Close()
			return err
		}
		recvTs += step.Nanoseconds()
	}

	if err := writer.Close(); err != nil {
		return err
	}
	logs.Infof("gen: wrote %d messages to %s", writer.Written(), *dir)
	return nil
}

// appendBlocking waits for queue room instead of dropping.
func appendBlocking(w *recorder.Writer, recvTs int64, raw []byte) error {
	for {
		err := w.TryAppend(recvTs, raw)
		if !errors.Is(err, recorder.ErrQueueFull) {
			return err
		}
		time.Sleep(time.Millisecond)
	}
}

func splitCoins(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}
