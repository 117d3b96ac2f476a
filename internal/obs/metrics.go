// Package obs exposes book health to prometheus.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"l4book/internal/model"
	"l4book/internal/model/enum"
)

const namespace = "l4book"

// BookSource is what the collector scrapes.
type BookSource interface {
	Coins() []string
	Report(coin string, levels int) (model.TopOfBook, model.BookStats, bool)
}

// BookCollector reads every book on scrape, so values are never staler than
// the scrape itself and nothing is pushed on the hot path.
type BookCollector struct {
	src    BookSource
	levels int

	ready      *prometheus.Desc
	bestPrice  *prometheus.Desc
	spreadBps  *prometheus.Desc
	depth      *prometheus.Desc
	levelCount *prometheus.Desc
	orders     *prometheus.Desc
	updates    *prometheus.Desc
	rejected   *prometheus.Desc
	dropped    *prometheus.Desc
	lastSeq    *prometheus.Desc
	applyAvg   *prometheus.Desc
	applyMax   *prometheus.Desc
}

// NewBookCollector returns a collector reporting depth over the best levels.
func NewBookCollector(src BookSource, levels int) *BookCollector {
	if levels <= 0 {
		levels = 10
	}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "book", name), help, labels, nil)
	}
	return &BookCollector{
		src:        src,
		levels:     levels,
		ready:      desc("ready", "1 when a snapshot has been applied since the last reset", "coin"),
		bestPrice:  desc("best_price", "Best price per side", "coin", "side"),
		spreadBps:  desc("spread_bps", "Spread over mid price in basis points", "coin"),
		depth:      desc("depth", "Summed size over the best levels per side", "coin", "side"),
		levelCount: desc("levels", "Price levels counted in depth per side", "coin", "side"),
		orders:     desc("orders", "Resting orders per side", "coin", "side"),
		updates:    desc("updates_total", "Applied events by kind", "coin", "kind"),
		rejected:   desc("rejected_total", "Events not applied by reason", "coin", "reason"),
		dropped:    desc("dropped_entries_total", "Malformed entries dropped while decoding", "coin"),
		lastSeq:    desc("last_seq", "Last event sequence applied", "coin"),
		applyAvg:   desc("apply_seconds_avg", "Average time to apply one event", "coin"),
		applyMax:   desc("apply_seconds_max", "Slowest event apply", "coin"),
	}
}

func (c *BookCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.ready, c.bestPrice, c.spreadBps, c.depth, c.levelCount, c.orders,
		c.updates, c.rejected, c.dropped, c.lastSeq, c.applyAvg, c.applyMax,
	} {
		ch <- d
	}
}

func (c *BookCollector) Collect(ch chan<- prometheus.Metric) {
	for _, coin := range c.src.Coins() {
		top, st, ok := c.src.Report(coin, c.levels)
		if !ok {
			continue
		}

		ready := 0.0
		if top.State == enum.BookLive {
			ready = 1
		}
		gauge(ch, c.ready, ready, coin)

		bid, ask := enum.SideBid.String(), enum.SideAsk.String()
		if top.HasBid {
			gauge(ch, c.bestPrice, top.BestBid.Price.InexactFloat64(), coin, bid)
		}
		if top.HasAsk {
			gauge(ch, c.bestPrice, top.BestAsk.Price.InexactFloat64(), coin, ask)
		}
		if top.HasSpread {
			gauge(ch, c.spreadBps, top.SpreadBps.InexactFloat64(), coin)
		}
		gauge(ch, c.depth, top.Depth.BidDepth.InexactFloat64(), coin, bid)
		gauge(ch, c.depth, top.Depth.AskDepth.InexactFloat64(), coin, ask)
		gauge(ch, c.levelCount, float64(top.Depth.BidLevels), coin, bid)
		gauge(ch, c.levelCount, float64(top.Depth.AskLevels), coin, ask)
		gauge(ch, c.orders, float64(top.BidOrders), coin, bid)
		gauge(ch, c.orders, float64(top.AskOrders), coin, ask)
		gauge(ch, c.lastSeq, float64(st.LastEventSeq), coin)

		counter(ch, c.updates, st.Snapshots, coin, enum.EventSnapshot.String())
		counter(ch, c.updates, st.Diffs, coin, enum.EventDiff.String())
		counter(ch, c.rejected, st.NotReady, coin, "not_ready")
		counter(ch, c.rejected, st.Duplicates, coin, "duplicate")
		counter(ch, c.rejected, st.Gaps, coin, "gap")
		counter(ch, c.dropped, st.Dropped, coin)

		gauge(ch, c.applyAvg, st.ApplyAvg.Seconds(), coin)
		gauge(ch, c.applyMax, st.ApplyMax.Seconds(), coin)
	}
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v uint64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
}

// NewRegistry registers the runtime collectors plus cs.
func NewRegistry(cs ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	all := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, cs...)
	for _, c := range all {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Handler serves reg in the prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
