package enum

// BookState is the readiness of a book.
type BookState uint8

const (
	// BookUninitialized books reject diffs until a snapshot arrives.
	BookUninitialized BookState = iota
	BookLive
)

func (s BookState) String() string {
	switch s {
	case BookLive:
		return "live"
	default:
		return "uninitialized"
	}
}
