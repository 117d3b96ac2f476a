package sampler

import (
	"context"
	"fmt"
	"strings"

	"github.com/yanun0323/logs"

	"l4book/internal/model"
)

// LogSink prints one line per sample.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Write(_ context.Context, samples []model.TopOfBook) error {
	for _, s := range samples {
		logs.Info(FormatSample(s))
	}
	return nil
}

// FormatSample renders a sample as a single human readable line.
func FormatSample(s model.TopOfBook) string {
	var sb strings.Builder
	sb.WriteString(s.Coin)
	sb.WriteString(" bid ")
	sb.WriteString(formatQuote(s.BestBid, s.HasBid))
	sb.WriteString(" ask ")
	sb.WriteString(formatQuote(s.BestAsk, s.HasAsk))
	if s.HasSpread {
		fmt.Fprintf(&sb, " spread %s (%s bps)", s.Spread, s.SpreadBps.StringFixed(2))
	} else {
		sb.WriteString(" spread -")
	}
	fmt.Fprintf(&sb, " depth %s/%s over %d/%d levels, orders %d/%d",
		s.Depth.BidDepth, s.Depth.AskDepth, s.Depth.BidLevels, s.Depth.AskLevels, s.BidOrders, s.AskOrders)
	return sb.String()
}

func formatQuote(q model.Quote, ok bool) string {
	if !ok {
		return "-"
	}
	return q.Size.String() + "@" + q.Price.String()
}
