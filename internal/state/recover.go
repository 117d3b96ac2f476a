package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/yanun0323/logs"

	"l4book/internal/book"
	"l4book/internal/decoder"
	"l4book/internal/recorder"
	"l4book/pkg/exception"
)

// RecoverConfig controls dump + recording recovery.
type RecoverConfig struct {
	Dir        string
	FilePrefix string
	// DumpPath optionally seeds the books. Records received before the dump
	// was taken are skipped.
	DumpPath    string
	MaxLineSize int
	Book        book.Option
}

// RecoverResult contains recovered books and replay counters.
type RecoverResult struct {
	Books      *Books
	Records    uint64
	Skipped    uint64
	Rejected   uint64
	LastRecvTs int64
}

// Recover loads an optional dump and replays the recorded tail into it.
// Per-message failures are counted, not returned, the same way a live feed
// keeps going past them.
func Recover(ctx context.Context, cfg RecoverConfig) (RecoverResult, error) {
	if cfg.Dir == "" {
		return RecoverResult{}, fmt.Errorf("recording dir is empty")
	}

	books := NewBooks(cfg.Book)
	var dumpTs int64
	if cfg.DumpPath != "" {
		d, err := ReadDump(cfg.DumpPath)
		if err != nil {
			return RecoverResult{}, err
		}
		for _, bd := range d.Books {
			b, err := Restore(bd, cfg.Book)
			if err != nil {
				return RecoverResult{}, fmt.Errorf("restore %s: %w", bd.Coin, err)
			}
			books.books[bd.Coin] = b
		}
		dumpTs = d.Timestamp
	}

	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:         cfg.Dir,
		FilePrefix:  cfg.FilePrefix,
		MaxLineSize: cfg.MaxLineSize,
	})
	if err != nil {
		return RecoverResult{}, err
	}

	res := RecoverResult{Books: books}
	err = pb.Run(ctx, func(rec recorder.Record) error {
		res.Records++
		if dumpTs > 0 && rec.RecvTs <= dumpTs {
			res.Skipped++
			return nil
		}
		if rec.RecvTs > res.LastRecvTs {
			res.LastRecvTs = rec.RecvTs
		}

		ev, err := decoder.Decode(rec.Msg)
		if err != nil || ev.Coin == "" {
			res.Rejected++
			return nil
		}
		if err := books.Apply(ev); err != nil {
			res.Rejected++
			if errors.Is(err, exception.ErrSequenceGap) {
				logs.Warnf("recover: %s reset by gap, err: %+v", ev.Coin, err)
			}
		}
		return nil
	})
	if err != nil {
		return RecoverResult{}, err
	}
	return res, nil
}
