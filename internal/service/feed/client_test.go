package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"TradeEngine/internal/domain/models"
	"TradeEngine/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feedServer plays one script per accepted connection.
type feedServer struct {
	mu      sync.Mutex
	scripts [][]string
	subs    []subscribeFrame
	tokens  []string
}

func (s *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var sub subscribeFrame
	if err := conn.ReadJSON(&sub); err != nil {
		return
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.tokens = append(s.tokens, r.URL.Query().Get("token"))
	var script []string
	if len(s.scripts) > 0 {
		script, s.scripts = s.scripts[0], s.scripts[1:]
	}
	s.mu.Unlock()

	for _, msg := range script {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
	}
	// Drop the connection once the script is played.
}

func (s *feedServer) subscriptions() []subscribeFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]subscribeFrame(nil), s.subs...)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func next(t *testing.T, ch <-chan models.MarketEvent) models.MarketEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.MarketEvent{}
}

func TestClientStreamsClosedCandlesAndQuotesAcrossReconnect(t *testing.T) {
	fs := &feedServer{scripts: [][]string{
		{
			`{"type":"quote","symbol":"BTCUSDT","bid":100,"ask":100.05}`,
			`{"type":"candle","symbol":"BTCUSDT","t":1709539200000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10,"closed":false}`,
			`not json`,
			`{"type":"candle","symbol":"BTCUSDT","t":1709539200000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10,"closed":true}`,
		},
		{
			`{"type":"candle","t":1709539260000,"o":1.5,"h":2.5,"l":1,"c":2,"v":12,"closed":true}`,
		},
	}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(wsURL(srv), "BTCUSDT", "1m", logger.Nop(), WithAPIKey("secret"), WithTimings(10*time.Millisecond, time.Second))
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	assert.True(t, c.IsConnected())
	events, errs := c.Read(ctx)

	q := next(t, events)
	require.Equal(t, models.MarketEventQuote, q.Kind)
	assert.Equal(t, 100.05, q.Quote.Ask)
	assert.False(t, q.Quote.ReceivedAt.IsZero())

	first := next(t, events)
	require.Equal(t, models.MarketEventCandle, first.Kind)
	assert.Equal(t, time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC), first.Candle.Bucket)

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a read error after the server dropped the connection")
	}
	assert.False(t, c.IsConnected())

	require.NoError(t, c.Reconnect(ctx))
	second := next(t, events)
	assert.Equal(t, "BTCUSDT", second.Candle.Symbol, "symbol defaults to the subscribed one")
	assert.Equal(t, 2.0, second.Candle.Close)

	subs := fs.subscriptions()
	require.Len(t, subs, 2)
	assert.Equal(t, []string{"quotes", "candles:1m"}, subs[0].Channels)
	assert.Equal(t, "secret", fs.tokens[0])

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-events:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClientQuotesOnlySkipsCandles(t *testing.T) {
	fs := &feedServer{scripts: [][]string{{
		`{"type":"candle","symbol":"BTCUSDT","t":1709539200000,"o":1,"h":2,"l":0.5,"c":1.5,"v":10,"closed":true}`,
		`{"type":"quote","symbol":"BTCUSDT","bid":99,"ask":99.5}`,
	}}}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(wsURL(srv), "BTCUSDT", "1m", nil, WithCandles(false))
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx))
	events, _ := c.Read(ctx)

	ev := next(t, events)
	assert.Equal(t, models.MarketEventQuote, ev.Kind)
	require.Eventually(t, func() bool { return len(fs.subscriptions()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"quotes"}, fs.subscriptions()[0].Channels)
	require.NoError(t, c.Close())
}
