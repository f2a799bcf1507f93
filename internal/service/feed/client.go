package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/logger"

	"github.com/gorilla/websocket"
)

// Option configures Client.
type Option func(*Client)

// WithCandles controls whether candle frames are forwarded. It is turned off
// when candles arrive over Kafka and the socket only supplies quotes.
func WithCandles(on bool) Option {
	return func(c *Client) { c.candles = on }
}

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

func WithTimings(reconnectDelay, pingInterval time.Duration) Option {
	return func(c *Client) {
		if reconnectDelay > 0 {
			c.reconnectDelay = reconnectDelay
		}
		if pingInterval > 0 {
			c.pingInterval = pingInterval
		}
	}
}

// Client is a MarketStream over a websocket that pushes closed candles and
// best bid/ask quotes for one symbol. The channels returned by Read survive
// Reconnect; they are closed only by Close or when ctx ends.
type Client struct {
	url            string
	apiKey         string
	symbol         string
	interval       string
	candles        bool
	reconnectDelay time.Duration
	pingInterval   time.Duration
	dialer         *websocket.Dialer
	log            *logger.Logger
	now            func() time.Time

	mu     sync.Mutex
	conn   *websocket.Conn
	gen    chan struct{} // closed when a new connection replaces conn
	closed bool
}

func New(wsURL, symbol, interval string, log *logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Nop()
	}
	c := &Client{
		url:            wsURL,
		symbol:         symbol,
		interval:       interval,
		candles:        true,
		reconnectDelay: 3 * time.Second,
		pingInterval:   15 * time.Second,
		dialer:         websocket.DefaultDialer,
		log:            log.With(logger.String("component", "feed"), logger.String("symbol", symbol)),
		now:            time.Now,
		gen:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	if c.apiKey != "" {
		q := u.Query()
		q.Set("token", c.apiKey)
		u.RawQuery = q.Encode()
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.closed = false
	close(c.gen)
	c.gen = make(chan struct{})
	c.mu.Unlock()

	c.log.Info("feed connected")
	return nil
}

type subscribeFrame struct {
	Op       string   `json:"op"`
	Symbol   string   `json:"symbol"`
	Channels []string `json:"channels"`
}

func (c *Client) Subscribe(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return fmt.Errorf("feed not connected")
	}
	channels := []string{"quotes"}
	if c.candles {
		channels = append(channels, "candles:"+c.interval)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	if err := conn.WriteJSON(subscribeFrame{Op: "subscribe", Symbol: c.symbol, Channels: channels}); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.symbol, err)
	}
	c.log.Info("feed subscribed", logger.Strings("channels", channels))
	return nil
}

// frame is the union of the candle and quote messages.
type frame struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	T      int64   `json:"t"` // ms
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
	Closed bool    `json:"closed"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// Read streams events and connection errors. Candles are delivered with a
// blocking send; quotes are dropped when the consumer falls behind.
func (c *Client) Read(ctx context.Context) (<-chan models.MarketEvent, <-chan error) {
	events := make(chan models.MarketEvent, 1024)
	errs := make(chan error, 1)

	go c.pingLoop(ctx)

	go func() {
		defer close(events)
		defer close(errs)
		for {
			conn, gen := c.snapshot()
			if conn == nil {
				if c.isClosed() || !wait(ctx, gen) {
					return
				}
				continue
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil || c.isClosed() {
					return
				}
				// A conn replaced by Reconnect fails here too; only report the live one.
				if c.drop(conn) {
					select {
					case errs <- fmt.Errorf("feed read: %w", err):
					default:
					}
				}
				if !wait(ctx, gen) {
					return
				}
				continue
			}
			ev, ok := c.decode(b)
			if !ok {
				continue
			}
			if ev.Kind == models.MarketEventCandle {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case events <- ev:
			default:
			}
		}
	}()

	return events, errs
}

func (c *Client) decode(b []byte) (models.MarketEvent, bool) {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return models.MarketEvent{}, false
	}
	symbol := f.Symbol
	if symbol == "" {
		symbol = c.symbol
	}
	switch f.Type {
	case "candle":
		if !c.candles || !f.Closed {
			return models.MarketEvent{}, false
		}
		return models.CandleEvent(models.Candle{
			Bucket: time.UnixMilli(f.T).UTC(),
			Symbol: symbol,
			Open:   f.O,
			High:   f.H,
			Low:    f.L,
			Close:  f.C,
			Volume: f.V,
		}), true
	case "quote":
		return models.QuoteEvent(models.Quote{
			Symbol:     symbol,
			Bid:        f.Bid,
			Ask:        f.Ask,
			ReceivedAt: c.now(),
		}), true
	default:
		return models.MarketEvent{}, false
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if conn := c.current(); conn != nil {
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}
}

// Reconnect replaces the connection, waiting reconnectDelay first.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	t := time.NewTimer(c.reconnectDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.gen)
	c.gen = make(chan struct{})
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (c *Client) IsConnected() bool {
	return c.current() != nil
}

func (c *Client) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) snapshot() (*websocket.Conn, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn, c.gen
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// drop forgets conn unless a newer connection already replaced it.
func (c *Client) drop(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	_ = c.conn.Close()
	c.conn = nil
	return true
}

func wait(ctx context.Context, gen chan struct{}) bool {
	select {
	case <-gen:
		return true
	case <-ctx.Done():
		return false
	}
}

var _ drepo.MarketStream = (*Client)(nil)
