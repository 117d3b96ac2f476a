package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l4book/internal/ingest"
	"l4book/internal/recorder"
	"l4book/pkg/exception"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func snapshotEnvelope(coin string) []byte {
	return fmt.Appendf(nil, `{"channel":"l4Book","data":{"type":"snapshot","coin":%q,"bids":[],"asks":[]}}`, coin)
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func TestWebSocketSubscribeAndResync(t *testing.T) {
	subs := make(chan subscribeMessage, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var msg subscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			subs <- msg
			if msg.Method == "subscribe" && msg.Subscription != nil {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"channel":"subscriptionResponse","data":{"method":"subscribe"}}`))
				_ = conn.WriteMessage(websocket.TextMessage, snapshotEnvelope(msg.Subscription.Coin))
			}
		}
	}))
	defer srv.Close()

	ws, err := NewWebSocket(WebSocketOption{URL: wsURL(srv), Coins: []string{"BTC", "ETH"}, PingInterval: -1})
	require.NoError(t, err)

	payloads := make(chan string, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ws.Run(ctx, func(_ context.Context, raw []byte) error {
			payloads <- string(raw)
			return nil
		})
	}()

	first := receive(t, subs)
	assert.Equal(t, "subscribe", first.Method)
	assert.Equal(t, "l4Book", first.Subscription.Type)
	assert.Equal(t, "BTC", first.Subscription.Coin)
	assert.Equal(t, "ETH", receive(t, subs).Subscription.Coin)

	assert.Contains(t, receive(t, payloads), `"coin":"BTC"`)
	assert.Contains(t, receive(t, payloads), `"coin":"ETH"`)

	require.NoError(t, ws.Resync("BTC"))
	unsub := receive(t, subs)
	assert.Equal(t, "unsubscribe", unsub.Method)
	resub := receive(t, subs)
	assert.Equal(t, "subscribe", resub.Method)
	assert.Equal(t, "BTC", resub.Subscription.Coin)
	assert.Contains(t, receive(t, payloads), `"type":"snapshot"`)

	cancel()
	require.NoError(t, receive(t, done))
	assert.Zero(t, ws.Reconnects())
}

func TestWebSocketReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, snapshotEnvelope(msg.Subscription.Coin))
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ws, err := NewWebSocket(WebSocketOption{
		URL:            wsURL(srv),
		Coins:          []string{"BTC"},
		ReconnectDelay: 10 * time.Millisecond,
		PingInterval:   -1,
	})
	require.NoError(t, err)

	payloads := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- ws.Run(context.Background(), func(_ context.Context, raw []byte) error {
			payloads <- string(raw)
			return nil
		})
	}()

	receive(t, payloads)
	receive(t, payloads)
	assert.Equal(t, uint64(1), ws.Reconnects())

	require.NoError(t, ws.Close())
	require.NoError(t, receive(t, done))
}

func TestWebSocketDisconnectResetsBooks(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := conns.Add(1)

		var msg subscribeMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage,
				[]byte(`{"channel":"l4Book","data":{"type":"snapshot","coin":"BTC","bids":[["100","1","a"]],"asks":[]}}`))
			return
		}
		// later connections stay silent, so no snapshot rebuilds the book
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	manager := ingest.NewManager(ingest.Option{})
	defer manager.Close()

	var disconnects atomic.Int32
	ws, err := NewWebSocket(WebSocketOption{
		URL:            wsURL(srv),
		Coins:          []string{"BTC"},
		ReconnectDelay: 10 * time.Millisecond,
		PingInterval:   -1,
		OnDisconnect: func() {
			assert.NoError(t, manager.ResetAll(context.Background()))
			disconnects.Add(1)
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- ws.Run(context.Background(), manager.Handle)
	}()

	require.Eventually(t, func() bool { return disconnects.Load() == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		b, ok := manager.Book("BTC")
		if !ok || b.IsReady() || b.Stats().Snapshots != 1 {
			return false
		}
		_, hasBid := b.BestBid()
		return !hasBid
	}, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return conns.Load() >= 2 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	require.NoError(t, receive(t, done))
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestWebSocketPassesBareMessages(t *testing.T) {
	ws, err := NewWebSocket(WebSocketOption{URL: "ws://unused", Coins: []string{"BTC"}})
	require.NoError(t, err)

	bare := []byte(`{"type":"diff","coin":"BTC","bids":[],"asks":[]}`)
	got, ok := ws.unwrap(bare)
	require.True(t, ok)
	assert.Equal(t, bare, got)

	_, ok = ws.unwrap([]byte(`{"channel":"pong"}`))
	assert.False(t, ok)

	require.ErrorIs(t, ws.Resync("BTC"), exception.ErrFeedConnectionClose)
}

func TestWebSocketOptionValidation(t *testing.T) {
	_, err := NewWebSocket(WebSocketOption{Coins: []string{"BTC"}})
	require.Error(t, err)
	_, err = NewWebSocket(WebSocketOption{URL: "ws://x"})
	require.ErrorIs(t, err, exception.ErrFeedNoCoins)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	w, err := recorder.NewWriter(recorder.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	for i := range 3 {
		require.NoError(t, w.TryAppend(int64(i+1), fmt.Appendf(nil, `{"type":"diff","coin":"BTC","height":%d,"bids":[],"asks":[]}`, i+1)))
	}
	require.NoError(t, w.Close())

	f, err := NewFile(recorder.PlaybackConfig{Dir: dir})
	require.NoError(t, err)

	var got []string
	require.NoError(t, f.Run(context.Background(), func(_ context.Context, raw []byte) error {
		got = append(got, string(raw))
		return nil
	}))
	require.Len(t, got, 3)
	assert.Contains(t, got[2], `"height":3`)
	assert.Equal(t, uint64(3), f.Played())

	require.ErrorIs(t, f.Run(context.Background(), nil), exception.ErrFeedNilHandler)
}

func TestWithTap(t *testing.T) {
	var tapped [][]byte
	h := WithTap(func(context.Context, []byte) error { return nil }, func(ts int64, raw []byte) {
		assert.Positive(t, ts)
		tapped = append(tapped, raw)
	})
	require.NoError(t, h(context.Background(), []byte(`{}`)))
	assert.Len(t, tapped, 1)
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"websocket", "kafka", "file"} {
		k, err := ParseKind(s)
		require.NoError(t, err)
		assert.Equal(t, Kind(s), k)
	}
	_, err := ParseKind("carrier-pigeon")
	require.ErrorIs(t, err, exception.ErrFeedUnsupportedKind)
}

func TestKafkaOptionValidation(t *testing.T) {
	_, err := NewKafka(KafkaOption{Topic: "l4"})
	require.Error(t, err)
	_, err = NewKafka(KafkaOption{Brokers: []string{"127.0.0.1:9092"}, Topic: "l4"})
	require.ErrorIs(t, err, exception.ErrFeedNoGroup)

	k, err := NewKafka(KafkaOption{Brokers: []string{"127.0.0.1:9092"}, Topic: "l4", GroupID: "l4book"})
	require.NoError(t, err)
	require.ErrorIs(t, k.Run(context.Background(), nil), exception.ErrFeedNilHandler)
	require.NoError(t, k.Close())
}
