package exception

import "errors"

// Book errors
var (
	ErrMalformedEntry   = errors.New("book: malformed entry")
	ErrUnknownEventType = errors.New("book: unknown event type")
	ErrUnknownSide      = errors.New("book: unknown side")
	ErrSequenceGap      = errors.New("book: sequence gap")
	ErrBookNotReady     = errors.New("book: not ready")
	ErrBookClosed       = errors.New("book: closed")
)
