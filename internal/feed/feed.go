// Package feed connects transports to the ingest manager. A source only moves
// raw messages; decoding and book state live behind the Handler.
package feed

import (
	"context"
	"time"

	"github.com/yanun0323/errors"

	"l4book/pkg/exception"
)

// Kind names a transport.
type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindKafka     Kind = "kafka"
	KindFile      Kind = "file"
)

// ParseKind validates a configured transport name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindWebSocket, KindKafka, KindFile:
		return k, nil
	default:
		return "", errors.Wrapf(exception.ErrFeedUnsupportedKind, "kind: %q", s)
	}
}

// Handler consumes one raw update message.
type Handler func(ctx context.Context, raw []byte) error

// Tap observes every raw message with its receive time before it is handled.
type Tap func(recvTs int64, raw []byte)

// Source produces raw messages until ctx ends or the source is exhausted.
type Source interface {
	Run(ctx context.Context, h Handler) error
	Close() error
}

// Resyncer asks the transport for a fresh snapshot of one coin.
type Resyncer interface {
	Resync(coin string) error
}

// WithTap wraps h so tap sees each message first.
func WithTap(h Handler, tap Tap) Handler {
	if tap == nil {
		return h
	}
	return func(ctx context.Context, raw []byte) error {
		tap(time.Now().UnixNano(), raw)
		return h(ctx, raw)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
