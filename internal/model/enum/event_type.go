package enum

// EventType tells whether a message replaces or mutates the book.
type EventType uint8

const (
	_event_type_beg EventType = iota
	EventSnapshot
	EventDiff
	// EventReset never comes from the wire. It clears a book through its
	// writer after the transport lost messages.
	EventReset
	_event_type_end
)

func (t EventType) IsAvailable() bool {
	return t > _event_type_beg && t < _event_type_end
}

// ParseEventType maps the wire tag to an EventType.
func ParseEventType(s string) (EventType, bool) {
	switch s {
	case "snapshot":
		return EventSnapshot, true
	case "diff":
		return EventDiff, true
	default:
		return _event_type_beg, false
	}
}

func (t EventType) String() string {
	switch t {
	case EventSnapshot:
		return "snapshot"
	case EventDiff:
		return "diff"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}
