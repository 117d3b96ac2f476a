package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"l4book/pkg/exception"
)

const (
	defaultChannel          = "l4Book"
	defaultReconnectDelay   = time.Second
	defaultMaxReconnect     = 30 * time.Second
	defaultHandshakeTimeout = 15 * time.Second
	defaultPingInterval     = 30 * time.Second
	writeTimeout            = 5 * time.Second
)

// WebSocketOption configures a WebSocket source.
type WebSocketOption struct {
	URL   string
	Coins []string
	// Channel is the subscription type and the envelope channel carrying book
	// updates.
	Channel          string
	ReconnectDelay   time.Duration
	MaxReconnect     time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	Header           http.Header
	// OnDisconnect runs after an established connection dropped and before
	// redialing. Every diff sent in between is lost, so books built from this
	// feed must stop serving until the resubscribe snapshots arrive.
	OnDisconnect func()
}

type subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

type subscribeMessage struct {
	Method       string        `json:"method"`
	Subscription *subscription `json:"subscription,omitempty"`
}

type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// WebSocket subscribes to every coin on one connection and redials with
// backoff when the connection drops. Each (re)subscription makes the venue
// send a fresh snapshot, which is also how Resync works.
type WebSocket struct {
	opt    WebSocketOption
	dialer websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn

	closed     atomic.Bool
	reconnects atomic.Uint64
}

// NewWebSocket validates the option and returns an idle source.
func NewWebSocket(opt WebSocketOption) (*WebSocket, error) {
	if opt.URL == "" {
		return nil, errors.New("websocket feed: URL is empty")
	}
	if len(opt.Coins) == 0 {
		return nil, exception.ErrFeedNoCoins
	}
	if opt.Channel == "" {
		opt.Channel = defaultChannel
	}
	if opt.ReconnectDelay <= 0 {
		opt.ReconnectDelay = defaultReconnectDelay
	}
	if opt.MaxReconnect < opt.ReconnectDelay {
		opt.MaxReconnect = max(defaultMaxReconnect, opt.ReconnectDelay)
	}
	if opt.HandshakeTimeout <= 0 {
		opt.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opt.PingInterval == 0 {
		opt.PingInterval = defaultPingInterval
	}

	return &WebSocket{
		opt:    opt,
		dialer: websocket.Dialer{HandshakeTimeout: opt.HandshakeTimeout},
	}, nil
}

// Reconnects returns how many times the connection was redialed.
func (ws *WebSocket) Reconnects() uint64 {
	return ws.reconnects.Load()
}

// Run dials, subscribes and pumps messages into h until ctx ends or Close
// is called.
func (ws *WebSocket) Run(ctx context.Context, h Handler) error {
	if h == nil {
		return exception.ErrFeedNilHandler
	}

	delay := ws.opt.ReconnectDelay
	first := true
	for {
		if ws.closed.Load() {
			return nil
		}
		if !first {
			ws.reconnects.Add(1)
		}
		first = false

		connected, err := ws.session(ctx, h)
		if ctx.Err() != nil || ws.closed.Load() {
			return nil
		}
		if errors.Is(err, exception.ErrIngestClosed) {
			return err
		}
		if connected {
			delay = ws.opt.ReconnectDelay
			if ws.opt.OnDisconnect != nil {
				ws.opt.OnDisconnect()
			}
		}

		logs.Warnf("websocket feed: disconnected, retry in %s, err: %+v", delay, err)
		if sleepCtx(ctx, delay) != nil {
			return nil
		}
		delay = min(delay*2, ws.opt.MaxReconnect)
	}
}

// Resync resubscribes one coin so the venue sends a new snapshot.
func (ws *WebSocket) Resync(coin string) error {
	logs.Infof("websocket feed: resync %s", coin)
	if err := ws.write(ws.subscribeMessage("unsubscribe", coin)); err != nil {
		return err
	}
	return ws.write(ws.subscribeMessage("subscribe", coin))
}

// Close stops Run and closes the connection.
func (ws *WebSocket) Close() error {
	if !ws.closed.CompareAndSwap(false, true) {
		return nil
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return nil
	}
	_ = ws.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	return ws.conn.Close()
}

func (ws *WebSocket) session(ctx context.Context, h Handler) (bool, error) {
	conn, _, err := ws.dialer.DialContext(ctx, ws.opt.URL, ws.opt.Header)
	if err != nil {
		return false, err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	defer func() {
		ws.mu.Lock()
		if ws.conn == conn {
			ws.conn = nil
		}
		ws.mu.Unlock()
		_ = conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for _, coin := range ws.opt.Coins {
		if err := ws.write(ws.subscribeMessage("subscribe", coin)); err != nil {
			return true, err
		}
	}
	logs.Infof("websocket feed: connected %s, coins: %v", ws.opt.URL, ws.opt.Coins)

	pingDone := make(chan struct{})
	defer close(pingDone)
	if ws.opt.PingInterval > 0 {
		go ws.ping(pingDone)
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		payload, ok := ws.unwrap(raw)
		if !ok {
			continue
		}
		if err := h(ctx, payload); err != nil {
			if errors.Is(err, exception.ErrIngestClosed) || ctx.Err() != nil {
				return true, err
			}
			logs.Errorf("websocket feed: handle message, err: %+v", err)
		}
	}
}

// unwrap returns the book payload of a message. Control channels are
// dropped; messages without an envelope are passed through unchanged.
func (ws *WebSocket) unwrap(raw []byte) ([]byte, bool) {
	var env envelope
	if err := sonic.ConfigStd.Unmarshal(raw, &env); err != nil || env.Channel == "" {
		return raw, true
	}
	if env.Channel != ws.opt.Channel {
		logs.Debugf("websocket feed: ignore channel %s", env.Channel)
		return nil, false
	}
	return env.Data, len(env.Data) != 0
}

func (ws *WebSocket) ping(done <-chan struct{}) {
	t := time.NewTicker(ws.opt.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := ws.write(subscribeMessage{Method: "ping"}); err != nil {
				logs.Warnf("websocket feed: ping, err: %+v", err)
				return
			}
		}
	}
}

func (ws *WebSocket) subscribeMessage(method, coin string) subscribeMessage {
	return subscribeMessage{
		Method:       method,
		Subscription: &subscription{Type: ws.opt.Channel, Coin: coin},
	}
}

func (ws *WebSocket) write(msg subscribeMessage) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.conn == nil {
		return exception.ErrFeedConnectionClose
	}
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.conn.WriteJSON(msg)
}
