// Package bus carries decoded events from transport goroutines to the single
// writer that owns a book.
package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"l4book/internal/model"
)

var (
	ErrQueueFull   = errors.New("event queue full")
	ErrQueueClosed = errors.New("event queue closed")
)

// Queue is a bounded FIFO of events with one consumer.
type Queue struct {
	ch        chan model.Event
	done      chan struct{}
	closeOnce sync.Once
	published atomic.Uint64

	// mu orders publishers against Close. A sender registered in senders
	// before Close is waited for by Run, so an accepted event is never
	// left in the channel.
	mu      sync.RWMutex
	closed  bool
	senders sync.WaitGroup
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan model.Event, capacity),
		done: make(chan struct{}),
	}
}

// Publish enqueues an event, waiting for room. Book mutations are never
// dropped, so only a cancelled context or a closed queue stops it.
func (q *Queue) Publish(ctx context.Context, e model.Event) error {
	if !q.enter() {
		return ErrQueueClosed
	}
	defer q.senders.Done()

	select {
	case q.ch <- e:
		q.published.Add(1)
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues an event without blocking.
func (q *Queue) TryPublish(e model.Event) error {
	if !q.enter() {
		return ErrQueueClosed
	}
	defer q.senders.Done()

	select {
	case q.ch <- e:
		q.published.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// enter registers a sender unless the queue is closed.
func (q *Queue) enter() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.senders.Add(1)
	return true
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Published returns how many events were accepted so far.
func (q *Queue) Published() uint64 {
	return q.published.Load()
}

// Close stops the queue from accepting new events. Run drains every event
// a Publish reported as accepted before it returns.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.done)
	})
}

// Run consumes events until the context is done or the queue is closed.
func (q *Queue) Run(ctx context.Context, handler func(model.Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-q.ch:
			handler(e)
		case <-q.done:
			q.senders.Wait()
			q.drain(handler)
			return
		}
	}
}

func (q *Queue) drain(handler func(model.Event)) {
	for {
		select {
		case e := <-q.ch:
			handler(e)
		default:
			return
		}
	}
}
