package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"l4book/internal/model"
)

func TestQueuePreservesOrder(t *testing.T) {
	q := NewQueue(4)
	ctx := context.Background()

	go func() {
		for i := 1; i <= 100; i++ {
			if err := q.Publish(ctx, model.Event{Seq: uint64(i)}); err != nil {
				t.Errorf("publish %d: %v", i, err)
				return
			}
		}
		q.Close()
	}()

	var got []uint64
	q.Run(ctx, func(e model.Event) {
		got = append(got, e.Seq)
	})

	if len(got) != 100 {
		t.Fatalf("consumed %d events, want 100", len(got))
	}
	for i, seq := range got {
		if seq != uint64(i+1) {
			t.Fatalf("event %d out of order: got seq %d", i, seq)
		}
	}
	if q.Published() != 100 {
		t.Fatalf("published counter: got %d want 100", q.Published())
	}
}

func TestTryPublishFull(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(model.Event{}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := q.TryPublish(model.Event{}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("len: got %d want 1", q.Len())
	}
}

func TestPublishAfterClose(t *testing.T) {
	q := NewQueue(1)
	q.Close()
	q.Close()

	if err := q.Publish(context.Background(), model.Event{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.TryPublish(model.Event{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestPublishBlocksUntilContextDone(t *testing.T) {
	q := NewQueue(1)
	if err := q.TryPublish(model.Event{}); err != nil {
		t.Fatalf("fill: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Publish(ctx, model.Event{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestCloseDrainsBuffered(t *testing.T) {
	q := NewQueue(8)
	for i := range 5 {
		if err := q.TryPublish(model.Event{Seq: uint64(i)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	q.Close()

	n := 0
	q.Run(context.Background(), func(model.Event) { n++ })
	if n != 5 {
		t.Fatalf("drained %d events, want 5", n)
	}
}

func TestCloseKeepsEveryAcceptedEvent(t *testing.T) {
	for round := range 50 {
		q := NewQueue(2)
		ctx := context.Background()

		var handled atomic.Int64
		ran := make(chan struct{})
		go func() {
			q.Run(ctx, func(model.Event) { handled.Add(1) })
			close(ran)
		}()

		var accepted atomic.Int64
		var wg sync.WaitGroup
		for p := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 200 {
					err := q.Publish(ctx, model.Event{Seq: uint64(p*1000 + i)})
					if err == nil {
						accepted.Add(1)
						continue
					}
					if !errors.Is(err, ErrQueueClosed) {
						t.Errorf("publish: %v", err)
					}
					return
				}
			}()
		}

		time.Sleep(time.Duration(round%5) * 100 * time.Microsecond)
		q.Close()
		<-ran
		wg.Wait()

		if handled.Load() != accepted.Load() {
			t.Fatalf("round %d: handled %d events, publish accepted %d", round, handled.Load(), accepted.Load())
		}
	}
}
