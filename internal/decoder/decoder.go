// Package decoder turns raw book messages into canonical order updates.
//
// Two entry encodings share the same arrays:
//
//	[price, size, orderId]             one order per entry
//	[price, [[size, orderId], ...]]    several orders at one price
//
// Snapshots from some endpoints also use objects {"limit_px", "sz", "oid"}.
// A malformed entry is dropped on its own; the rest of the message still applies.
package decoder

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"l4book/internal/model"
	"l4book/internal/model/enum"
	"l4book/pkg/exception"
)

type rawMessage struct {
	Type   string            `json:"type"`
	Coin   string            `json:"coin"`
	Height json.RawMessage   `json:"height"`
	Seq    json.RawMessage   `json:"seq"`
	Bids   []json.RawMessage `json:"bids"`
	Asks   []json.RawMessage `json:"asks"`
}

type rawObjectEntry struct {
	LimitPx json.RawMessage `json:"limit_px"`
	Px      json.RawMessage `json:"px"`
	Sz      json.RawMessage `json:"sz"`
	Oid     json.RawMessage `json:"oid"`
}

// Decode parses one message. ErrUnknownEventType drops the whole message;
// malformed entries are only counted in Event.Dropped.
func Decode(data []byte) (model.Event, error) {
	var msg rawMessage
	if err := sonic.ConfigStd.Unmarshal(data, &msg); err != nil {
		return model.Event{}, errors.Wrap(exception.ErrMalformedEntry, "unmarshal message, err: "+err.Error())
	}

	typ, ok := enum.ParseEventType(msg.Type)
	if !ok {
		return model.Event{Coin: msg.Coin}, errors.Wrapf(exception.ErrUnknownEventType, "type: %q", msg.Type)
	}

	seq, err := parseSeq(msg.Height)
	if err != nil || seq == 0 {
		seq, err = parseSeq(msg.Seq)
	}
	if err != nil {
		logs.Warnf("decoder: ignore unreadable sequence of %s message, coin: %s, err: %+v", msg.Type, msg.Coin, err)
		seq = 0
	}

	ev := model.Event{
		Type:       typ,
		Coin:       msg.Coin,
		Seq:        seq,
		RecvTsNano: time.Now().UnixNano(),
	}

	var dropped int
	ev.Bids, dropped = DecodeEntries(enum.SideBid, msg.Bids)
	ev.Dropped += dropped
	ev.Asks, dropped = DecodeEntries(enum.SideAsk, msg.Asks)
	ev.Dropped += dropped

	return ev, nil
}

// DecodeEntries converts the entries of one side, skipping malformed ones.
func DecodeEntries(side enum.Side, entries []json.RawMessage) ([]model.OrderUpdate, int) {
	updates := make([]model.OrderUpdate, 0, len(entries))
	dropped := 0
	for i, entry := range entries {
		var n int
		updates, n = decodeEntry(side, entry, updates)
		if n != 0 {
			logs.Warnf("decoder: drop %d %s order(s) at index %d, entry: %s", n, side, i, truncate(entry, 64))
			dropped += n
		}
	}

	return updates, dropped
}

// decodeEntry appends the updates of one entry to dst and reports how many
// orders were dropped.
func decodeEntry(side enum.Side, entry json.RawMessage, dst []model.OrderUpdate) ([]model.OrderUpdate, int) {
	entry = bytes.TrimSpace(entry)
	if len(entry) == 0 {
		return dst, 1
	}

	switch entry[0] {
	case '[':
		var parts []json.RawMessage
		if err := sonic.ConfigStd.Unmarshal(entry, &parts); err != nil {
			return dst, 1
		}
		return decodeArrayEntry(side, parts, dst)
	case '{':
		var obj rawObjectEntry
		if err := sonic.ConfigStd.Unmarshal(entry, &obj); err != nil {
			return dst, 1
		}
		price := obj.LimitPx
		if len(price) == 0 {
			price = obj.Px
		}
		u, err := newUpdate(side, price, obj.Sz, obj.Oid)
		if err != nil {
			return dst, 1
		}
		return append(dst, u), 0
	default:
		return dst, 1
	}
}

func decodeArrayEntry(side enum.Side, parts []json.RawMessage, dst []model.OrderUpdate) ([]model.OrderUpdate, int) {
	switch {
	case len(parts) == 3 && !isArray(parts[1]):
		u, err := newUpdate(side, parts[0], parts[1], parts[2])
		if err != nil {
			return dst, 1
		}
		return append(dst, u), 0

	case len(parts) == 2 && isArray(parts[1]):
		var pairs []json.RawMessage
		if err := sonic.ConfigStd.Unmarshal(parts[1], &pairs); err != nil {
			return dst, 1
		}
		price, err := parseDecimal(parts[0])
		if err != nil {
			return dst, max(len(pairs), 1)
		}

		dropped := 0
		for _, pair := range pairs {
			var kv []json.RawMessage
			if err := sonic.ConfigStd.Unmarshal(pair, &kv); err != nil || len(kv) != 2 {
				dropped++
				continue
			}
			size, err := parseDecimal(kv[0])
			if err != nil {
				dropped++
				continue
			}
			oid, ok := scalarText(kv[1])
			if !ok || oid == "" {
				dropped++
				continue
			}
			dst = append(dst, model.OrderUpdate{Side: side, OrderID: oid, Price: price, Size: size})
		}
		return dst, dropped

	default:
		return dst, 1
	}
}

func newUpdate(side enum.Side, rawPrice, rawSize, rawOid json.RawMessage) (model.OrderUpdate, error) {
	price, err := parseDecimal(rawPrice)
	if err != nil {
		return model.OrderUpdate{}, errors.Wrap(err, "price")
	}
	size, err := parseDecimal(rawSize)
	if err != nil {
		return model.OrderUpdate{}, errors.Wrap(err, "size")
	}
	oid, ok := scalarText(rawOid)
	if !ok || oid == "" {
		return model.OrderUpdate{}, errors.Wrap(exception.ErrMalformedEntry, "order id")
	}

	return model.OrderUpdate{Side: side, OrderID: oid, Price: price, Size: size}, nil
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) != 0 && raw[0] == '['
}

func parseSeq(raw json.RawMessage) (uint64, error) {
	s, ok := scalarText(raw)
	if !ok || s == "" {
		return 0, nil
	}

	return strconv.ParseUint(s, 10, 64)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
