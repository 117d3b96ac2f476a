package feed

import (
	"context"
	"sync/atomic"

	"l4book/internal/recorder"
	"l4book/pkg/exception"
)

// File replays a recorded directory as if it were live.
type File struct {
	playback *recorder.Playback
	cancel   atomic.Pointer[context.CancelFunc]
	played   atomic.Uint64
}

// NewFile wraps a playback over cfg.
func NewFile(cfg recorder.PlaybackConfig) (*File, error) {
	pb, err := recorder.NewPlayback(cfg)
	if err != nil {
		return nil, err
	}
	return &File{playback: pb}, nil
}

// WithClock swaps the pacing clock.
func (f *File) WithClock(clock recorder.Clock) *File {
	f.playback.WithClock(clock)
	return f
}

// Played returns how many records were handed to the handler.
func (f *File) Played() uint64 {
	return f.played.Load()
}

// Run plays every segment once and returns when they are exhausted.
func (f *File) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return exception.ErrFeedNilHandler
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.cancel.Store(&cancel)

	err := f.playback.Run(ctx, func(rec recorder.Record) error {
		f.played.Add(1)
		return h(ctx, rec.Msg)
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Resync is a no-op: a recording already contains whatever snapshots
// followed the gap.
func (f *File) Resync(string) error {
	return nil
}

// Close stops a running playback.
func (f *File) Close() error {
	if c := f.cancel.Load(); c != nil {
		(*c)()
	}
	return nil
}
