// Package ingest routes decoded events to one single-writer worker per coin.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"l4book/internal/book"
	"l4book/internal/bus"
	"l4book/internal/decoder"
	"l4book/internal/model"
	"l4book/internal/model/enum"
	"l4book/pkg/exception"
)

const defaultQueueSize = 1024

// Option configures a Manager.
type Option struct {
	// Coins is the allow-list. Empty accepts every coin.
	Coins          []string
	QueueSize      int
	StrictSequence bool
	// OnResync is called from the coin's worker after a sequence gap cleared
	// its book. It must be safe for concurrent use.
	OnResync func(coin string)
}

// Stats counts messages the manager saw before they reached a book.
type Stats struct {
	Received     uint64
	DecodeErrors uint64
	Ignored      uint64
	Resyncs      uint64
}

// Manager owns every book and the goroutine that writes to it.
type Manager struct {
	opt   Option
	allow map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	workers map[string]*worker
	closed  bool

	received     atomic.Uint64
	decodeErrors atomic.Uint64
	ignored      atomic.Uint64
	resyncs      atomic.Uint64
}

type worker struct {
	coin  string
	book  *book.Book
	queue *bus.Queue
	done  chan struct{}
}

// NewManager returns a manager with no books. Books are created lazily on
// the first event of an allowed coin.
func NewManager(opt Option) *Manager {
	if opt.QueueSize <= 0 {
		opt.QueueSize = defaultQueueSize
	}

	var allow map[string]struct{}
	if len(opt.Coins) != 0 {
		allow = make(map[string]struct{}, len(opt.Coins))
		for _, c := range opt.Coins {
			allow[c] = struct{}{}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opt:     opt,
		allow:   allow,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Handle decodes one raw message and hands it to its coin's worker.
//
// Malformed messages are logged and counted, never returned: one bad message
// must not stop a feed. Errors come back only when the manager is closed or
// ctx ends while waiting for queue room.
func (m *Manager) Handle(ctx context.Context, raw []byte) error {
	if m == nil {
		return exception.ErrNilInstance
	}
	m.received.Add(1)

	ev, err := decoder.Decode(raw)
	if err != nil {
		m.decodeErrors.Add(1)
		logs.Warnf("ingest: drop message, coin: %s, err: %+v", ev.Coin, err)
		return nil
	}
	if ev.Dropped > 0 {
		logs.Debugf("ingest: %s %s dropped %d malformed entries", ev.Coin, ev.Type, ev.Dropped)
	}

	err = m.Dispatch(ctx, ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, exception.ErrIngestEmptyCoin):
		m.decodeErrors.Add(1)
		logs.Warnf("ingest: drop %s message without coin", ev.Type)
		return nil
	default:
		return err
	}
}

// Dispatch routes an already decoded event. Coins outside the allow-list are
// ignored.
func (m *Manager) Dispatch(ctx context.Context, ev model.Event) error {
	if m == nil {
		return exception.ErrNilInstance
	}
	if len(ev.Coin) == 0 {
		return exception.ErrIngestEmptyCoin
	}
	if !m.allowed(ev.Coin) {
		m.ignored.Add(1)
		return nil
	}

	w, err := m.worker(ev.Coin)
	if err != nil {
		return err
	}

	if err := w.queue.Publish(ctx, ev); err != nil {
		if errors.Is(err, bus.ErrQueueClosed) {
			return fmt.Errorf("%w, coin: %s", exception.ErrIngestClosed, ev.Coin)
		}
		return err
	}
	return nil
}

// Book returns the book of a coin if it has one.
func (m *Manager) Book(coin string) (*book.Book, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.workers[coin]
	if !ok {
		return nil, false
	}
	return w.book, true
}

// Coins lists the coins that currently have a book, sorted.
func (m *Manager) Coins() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	coins := make([]string, 0, len(m.workers))
	for c := range m.workers {
		coins = append(coins, c)
	}
	m.mu.RUnlock()

	slices.Sort(coins)
	return coins
}

// Report returns the top of book and counters of one coin.
func (m *Manager) Report(coin string, levels int) (model.TopOfBook, model.BookStats, bool) {
	b, ok := m.Book(coin)
	if !ok {
		return model.TopOfBook{}, model.BookStats{}, false
	}
	return b.Top(levels), b.Stats(), true
}

// Stats returns the manager counters.
func (m *Manager) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		Received:     m.received.Load(),
		DecodeErrors: m.decodeErrors.Load(),
		Ignored:      m.ignored.Load(),
		Resyncs:      m.resyncs.Load(),
	}
}

// Unsubscribe stops the coin's worker after it drained its queue and tears
// the book down.
func (m *Manager) Unsubscribe(coin string) error {
	if m == nil {
		return exception.ErrNilInstance
	}

	m.mu.Lock()
	w, ok := m.workers[coin]
	if ok {
		delete(m.workers, coin)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w, coin: %s", exception.ErrIngestUnknownCoin, coin)
	}

	w.stop()
	logs.Infof("ingest: unsubscribed %s", coin)
	return nil
}

// ResetAll clears every book through its worker queue, behind whatever the
// worker still has to apply. Books stay uninitialized until their next
// snapshot. Feeds call it when the connection dropped and diffs were lost.
func (m *Manager) ResetAll(ctx context.Context) error {
	if m == nil {
		return exception.ErrNilInstance
	}

	m.mu.RLock()
	workers := make([]*worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	var errs []error
	for _, w := range workers {
		if err := w.queue.Publish(ctx, model.Event{Type: enum.EventReset, Coin: w.coin}); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", w.coin, err))
		}
	}
	if len(workers) != 0 {
		logs.Infof("ingest: reset %d book(s) until the next snapshot", len(workers))
	}
	return errors.Join(errs...)
}

// Close stops every worker and releases every book. Pending events are
// applied first.
func (m *Manager) Close() {
	if m == nil {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := m.workers
	m.workers = make(map[string]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.queue.Close()
	}
	for _, w := range workers {
		<-w.done
		w.book.Close()
	}
	m.cancel()
}

func (m *Manager) allowed(coin string) bool {
	if m.allow == nil {
		return true
	}
	_, ok := m.allow[coin]
	return ok
}

func (m *Manager) worker(coin string) (*worker, error) {
	m.mu.RLock()
	w, ok := m.workers[coin]
	closed := m.closed
	m.mu.RUnlock()
	if ok {
		return w, nil
	}
	if closed {
		return nil, exception.ErrIngestClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, exception.ErrIngestClosed
	}
	if w, ok := m.workers[coin]; ok {
		return w, nil
	}

	w = &worker{
		coin:  coin,
		book:  book.New(coin, book.Option{StrictSequence: m.opt.StrictSequence}),
		queue: bus.NewQueue(m.opt.QueueSize),
		done:  make(chan struct{}),
	}
	m.workers[coin] = w
	go m.run(w)

	logs.Infof("ingest: new book %s", coin)
	return w, nil
}

func (m *Manager) run(w *worker) {
	defer close(w.done)
	w.queue.Run(m.ctx, func(ev model.Event) {
		m.apply(w, ev)
	})
}

func (m *Manager) apply(w *worker, ev model.Event) {
	err := w.book.Apply(ev)
	switch {
	case err == nil:
	case errors.Is(err, exception.ErrSequenceGap):
		m.resyncs.Add(1)
		logs.Warnf("ingest: %s book reset, requesting snapshot, err: %+v", w.coin, err)
		if m.opt.OnResync != nil {
			m.opt.OnResync(w.coin)
		}
	case errors.Is(err, exception.ErrBookNotReady):
		logs.Debugf("ingest: %s diff before snapshot, seq: %d", w.coin, ev.Seq)
	default:
		logs.Errorf("ingest: apply %s %s, err: %+v", w.coin, ev.Type, err)
	}
}

func (w *worker) stop() {
	w.queue.Close()
	<-w.done
	w.book.Close()
}
