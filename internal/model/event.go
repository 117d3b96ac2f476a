package model

import "l4book/internal/model/enum"

// Event is one decoded update message for a single coin.
type Event struct {
	Type enum.EventType
	Coin string
	// Seq is the transport sequence (block height), 0 when absent.
	Seq        uint64
	RecvTsNano int64
	Bids       []OrderUpdate
	Asks       []OrderUpdate
	// Dropped counts entries discarded as malformed while decoding.
	Dropped int
}

// Updates returns the updates of the given side.
func (e Event) Updates(side enum.Side) []OrderUpdate {
	switch side {
	case enum.SideBid:
		return e.Bids
	case enum.SideAsk:
		return e.Asks
	default:
		return nil
	}
}
