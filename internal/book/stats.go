package book

import (
	"sync/atomic"
	"time"

	"l4book/internal/model"
	"l4book/internal/obs"
)

// StatsTracker counts what a book has applied and rejected.
// Counters are atomic so Stats can be read without the book lock.
type StatsTracker struct {
	updates    atomic.Uint64
	snapshots  atomic.Uint64
	diffs      atomic.Uint64
	notReady   atomic.Uint64
	duplicates atomic.Uint64
	gaps       atomic.Uint64
	dropped    atomic.Uint64

	lastEventSeq   atomic.Uint64
	lastArrivalSeq atomic.Uint64
	lastUpdateNano atomic.Int64

	applyLatency obs.LatencyStats
}

func (s *StatsTracker) observeApplied(isSnapshot bool, eventSeq, arrivalSeq uint64, tsNano int64) {
	s.updates.Add(1)
	if isSnapshot {
		s.snapshots.Add(1)
	} else {
		s.diffs.Add(1)
	}
	if eventSeq != 0 {
		s.lastEventSeq.Store(eventSeq)
	}
	s.lastArrivalSeq.Store(arrivalSeq)
	s.lastUpdateNano.Store(tsNano)
}

func (s *StatsTracker) incNotReady() { s.notReady.Add(1) }
func (s *StatsTracker) incDuplicate() { s.duplicates.Add(1) }
func (s *StatsTracker) incGap() { s.gaps.Add(1) }
func (s *StatsTracker) addDropped(n int) {
	if n > 0 {
		s.dropped.Add(uint64(n))
	}
}

// Snapshot copies the current counters.
func (s *StatsTracker) Snapshot(coin string) model.BookStats {
	if s == nil {
		return model.BookStats{Coin: coin}
	}

	st := model.BookStats{
		Coin:           coin,
		Updates:        s.updates.Load(),
		Snapshots:      s.snapshots.Load(),
		Diffs:          s.diffs.Load(),
		NotReady:       s.notReady.Load(),
		Duplicates:     s.duplicates.Load(),
		Gaps:           s.gaps.Load(),
		Dropped:        s.dropped.Load(),
		LastEventSeq:   s.lastEventSeq.Load(),
		LastArrivalSeq: s.lastArrivalSeq.Load(),
	}
	if ts := s.lastUpdateNano.Load(); ts > 0 {
		st.LastUpdate = time.Unix(0, ts)
	}

	lat := s.applyLatency.Snapshot()
	st.ApplyCount = lat.Count
	st.ApplyAvg = lat.Avg
	st.ApplyMax = lat.Max
	return st
}
