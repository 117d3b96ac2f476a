// Package mdg generates a deterministic synthetic L4 feed in the wire format
// the decoder reads. The same seed always yields the same message stream.
package mdg

import (
	"fmt"
	"math/rand"
	"slices"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"l4book/internal/model/enum"
	"l4book/pkg/exception"
)

const (
	defaultLevels     = 20
	defaultOrders     = 50
	defaultMaxChanges = 4
)

var (
	defaultBasePrice = decimal.NewFromInt(100)
	defaultTickSize  = decimal.New(1, -1)
)

// Option configures a Generator.
type Option struct {
	Coins     []string
	Seed      int64
	BasePrice decimal.Decimal
	TickSize  decimal.Decimal
	// Levels is the number of price levels used on each side of BasePrice.
	Levels int
	// Orders is the number of resting orders per side in the first snapshot.
	Orders int
	// MaxChanges bounds the order updates carried by one diff.
	MaxChanges int
	// SnapshotEvery re-sends a full snapshot after that many diffs, 0 never.
	SnapshotEvery int
}

func (o Option) withDefaults() Option {
	if o.BasePrice.IsZero() {
		o.BasePrice = defaultBasePrice
	}
	if o.TickSize.IsZero() {
		o.TickSize = defaultTickSize
	}
	if o.Levels == 0 {
		o.Levels = defaultLevels
	}
	if o.Orders == 0 {
		o.Orders = defaultOrders
	}
	if o.MaxChanges == 0 {
		o.MaxChanges = defaultMaxChanges
	}
	return o
}

// Validate checks if the option is usable.
func (o Option) Validate() error {
	if len(o.Coins) == 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "mdg: no coins")
	}
	if !o.BasePrice.IsPositive() || !o.TickSize.IsPositive() {
		return errors.Wrap(exception.ErrInvalidArgument, "mdg: base price and tick size must be > 0")
	}
	if o.BasePrice.Cmp(o.TickSize.Mul(decimal.NewFromInt(int64(o.Levels)))) <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "mdg: levels reach below zero")
	}
	if o.Levels < 0 || o.Orders < 0 || o.MaxChanges < 0 || o.SnapshotEvery < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "mdg: negative option")
	}
	return nil
}

// Message is one generated wire message.
type Message struct {
	Coin string
	Type enum.EventType
	Seq  uint64
	Raw  []byte
}

type wireMessage struct {
	Type   string      `json:"type"`
	Coin   string      `json:"coin"`
	Height uint64      `json:"height"`
	Bids   [][3]string `json:"bids"`
	Asks   [][3]string `json:"asks"`
}

type simOrder struct {
	id    string
	seq   uint64
	side  enum.Side
	price decimal.Decimal
	size  decimal.Decimal
}

type coinState struct {
	coin     string
	height   uint64
	nextID   uint64
	diffs    int
	started  bool
	orders   map[string]*simOrder
	ids      []string
	position map[string]int
}

// Generator produces messages for its coins in round robin. It is not safe
// for concurrent use.
type Generator struct {
	opt   Option
	rng   *rand.Rand
	coins []*coinState
	index int
}

// NewGenerator creates a generator.
func NewGenerator(opt Option) (*Generator, error) {
	opt = opt.withDefaults()
	if err := opt.Validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		opt:   opt,
		rng:   rand.New(rand.NewSource(opt.Seed)),
		coins: make([]*coinState, 0, len(opt.Coins)),
	}
	for _, coin := range opt.Coins {
		g.coins = append(g.coins, &coinState{
			coin:     coin,
			orders:   make(map[string]*simOrder),
			position: make(map[string]int),
		})
	}
	return g, nil
}

// Next returns the next message. The first message of every coin is a
// snapshot, then diffs follow.
func (g *Generator) Next() (Message, error) {
	cs := g.coins[g.index]
	g.index = (g.index + 1) % len(g.coins)

	cs.height++
	var msg wireMessage
	typ := enum.EventDiff
	switch {
	case !cs.started:
		for range g.opt.Orders {
			g.add(cs, enum.SideBid)
			g.add(cs, enum.SideAsk)
		}
		cs.started = true
		typ = enum.EventSnapshot
		msg = g.snapshot(cs)
	case g.opt.SnapshotEvery > 0 && cs.diffs >= g.opt.SnapshotEvery:
		cs.diffs = 0
		typ = enum.EventSnapshot
		msg = g.snapshot(cs)
	default:
		cs.diffs++
		msg = g.diff(cs)
	}
	msg.Coin = cs.coin
	msg.Height = cs.height

	raw, err := sonic.ConfigStd.Marshal(msg)
	if err != nil {
		return Message{}, errors.Wrap(err, "marshal message")
	}
	return Message{Coin: cs.coin, Type: typ, Seq: cs.height, Raw: raw}, nil
}

// Orders reports the resting orders the generator holds for coin.
func (g *Generator) Orders(coin string) (bids, asks int) {
	for _, cs := range g.coins {
		if cs.coin != coin {
			continue
		}
		for _, o := range cs.orders {
			if o.side == enum.SideBid {
				bids++
			} else {
				asks++
			}
		}
	}
	return bids, asks
}

func (g *Generator) snapshot(cs *coinState) wireMessage {
	orders := make([]*simOrder, 0, len(cs.orders))
	for _, o := range cs.orders {
		orders = append(orders, o)
	}
	slices.SortFunc(orders, func(a, b *simOrder) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})

	msg := wireMessage{Type: enum.EventSnapshot.String(), Bids: [][3]string{}, Asks: [][3]string{}}
	for _, o := range orders {
		entry := [3]string{o.price.String(), o.size.String(), o.id}
		if o.side == enum.SideBid {
			msg.Bids = append(msg.Bids, entry)
		} else {
			msg.Asks = append(msg.Asks, entry)
		}
	}
	return msg
}

func (g *Generator) diff(cs *coinState) wireMessage {
	msg := wireMessage{Type: enum.EventDiff.String(), Bids: [][3]string{}, Asks: [][3]string{}}
	changes := 1 + g.rng.Intn(g.opt.MaxChanges)
	for range changes {
		var o *simOrder
		removed := false
		r := g.rng.Intn(10)
		switch {
		case len(cs.ids) == 0 || r < 4:
			side := enum.SideBid
			if g.rng.Intn(2) == 1 {
				side = enum.SideAsk
			}
			o = g.add(cs, side)
		case r < 7:
			o = cs.orders[cs.ids[g.rng.Intn(len(cs.ids))]]
			o.size = g.size()
		default:
			o = cs.orders[cs.ids[g.rng.Intn(len(cs.ids))]]
			g.remove(cs, o.id)
			removed = true
		}

		size := o.size.String()
		if removed {
			size = "0"
		}
		entry := [3]string{o.price.String(), size, o.id}
		if o.side == enum.SideBid {
			msg.Bids = append(msg.Bids, entry)
		} else {
			msg.Asks = append(msg.Asks, entry)
		}
	}
	return msg
}

func (g *Generator) add(cs *coinState, side enum.Side) *simOrder {
	cs.nextID++
	offset := g.opt.TickSize.Mul(decimal.NewFromInt(int64(1 + g.rng.Intn(g.opt.Levels))))
	price := g.opt.BasePrice.Sub(offset)
	if side == enum.SideAsk {
		price = g.opt.BasePrice.Add(offset)
	}

	o := &simOrder{
		id:    cs.coin + "-" + strconv.FormatUint(cs.nextID, 10),
		seq:   cs.nextID,
		side:  side,
		price: price,
		size:  g.size(),
	}
	cs.orders[o.id] = o
	cs.position[o.id] = len(cs.ids)
	cs.ids = append(cs.ids, o.id)
	return o
}

func (g *Generator) remove(cs *coinState, id string) {
	i, ok := cs.position[id]
	if !ok {
		return
	}
	last := len(cs.ids) - 1
	cs.ids[i] = cs.ids[last]
	cs.position[cs.ids[i]] = i
	cs.ids = cs.ids[:last]
	delete(cs.position, id)
	delete(cs.orders, id)
}

// size is a positive amount with two decimals between 0.01 and 10.00.
func (g *Generator) size() decimal.Decimal {
	return decimal.New(int64(1+g.rng.Intn(1000)), -2)
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s height %d, %d bytes", m.Coin, m.Type, m.Seq, len(m.Raw))
}
