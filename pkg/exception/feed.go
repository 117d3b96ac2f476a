package exception

import "errors"

// Feed and ingest errors
var (
	ErrFeedUnsupportedKind = errors.New("feed: unsupported kind")
	ErrFeedConnectionClose = errors.New("feed: connection closed")
	ErrFeedNilHandler      = errors.New("feed: nil handler")
	ErrFeedNoCoins         = errors.New("feed: no coins")
	ErrFeedNoGroup         = errors.New("feed: kafka group is required")

	ErrIngestClosed      = errors.New("ingest: closed")
	ErrIngestUnknownCoin = errors.New("ingest: unknown coin")
	ErrIngestEmptyCoin   = errors.New("ingest: empty coin")
)
