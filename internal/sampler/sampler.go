// Package sampler periodically reads every live book through its query
// methods and hands top-of-book samples to sinks.
package sampler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"l4book/internal/model"
	"l4book/internal/model/enum"
)

const (
	defaultInterval = time.Second
	defaultLevels   = 10
)

// Source is what the sampler reads from.
type Source interface {
	Coins() []string
	Report(coin string, levels int) (model.TopOfBook, model.BookStats, bool)
}

// Sink stores or displays samples.
type Sink interface {
	Name() string
	Write(ctx context.Context, samples []model.TopOfBook) error
}

// Option configures a Sampler.
type Option struct {
	Interval time.Duration
	// Levels is the depth window of each sample.
	Levels int
}

// Sampler ticks on its own goroutine. A sink that is still busy when the
// next tick fires makes the sampler skip that tick rather than queue up.
type Sampler struct {
	src   Source
	sinks []Sink
	opt   Option

	busy    atomic.Bool
	ticks   atomic.Uint64
	skipped atomic.Uint64
}

// New returns a sampler over src.
func New(src Source, opt Option, sinks ...Sink) *Sampler {
	if opt.Interval <= 0 {
		opt.Interval = defaultInterval
	}
	if opt.Levels <= 0 {
		opt.Levels = defaultLevels
	}
	return &Sampler{src: src, sinks: sinks, opt: opt}
}

// Run samples until ctx ends.
func (s *Sampler) Run(ctx context.Context) {
	t := time.NewTicker(s.opt.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx)
		}
	}
}

// Skipped returns how many ticks were skipped because sinks were busy.
func (s *Sampler) Skipped() uint64 {
	return s.skipped.Load()
}

// Ticks returns how many ticks produced samples.
func (s *Sampler) Ticks() uint64 {
	return s.ticks.Load()
}

// Collect reads one sample per live book.
func (s *Sampler) Collect() []model.TopOfBook {
	coins := s.src.Coins()
	samples := make([]model.TopOfBook, 0, len(coins))
	for _, coin := range coins {
		top, _, ok := s.src.Report(coin, s.opt.Levels)
		if !ok || top.State != enum.BookLive {
			continue
		}
		samples = append(samples, top)
	}
	return samples
}

func (s *Sampler) tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return
	}

	samples := s.Collect()
	if len(samples) == 0 {
		s.busy.Store(false)
		return
	}
	s.ticks.Add(1)

	go func() {
		defer s.busy.Store(false)
		s.flush(ctx, samples)
	}()
}

func (s *Sampler) flush(ctx context.Context, samples []model.TopOfBook) {
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, samples); err != nil {
			logs.Errorf("sampler: sink %s, err: %+v", sink.Name(), err)
		}
	}
}
