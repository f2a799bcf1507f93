package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"TradeEngine/internal/domain/models"
	drepo "TradeEngine/internal/domain/repository"
	"TradeEngine/internal/service/ratelimit"
	xhttp "TradeEngine/pkg/http"
	"TradeEngine/pkg/logger"
)

// LiveConfig configures the REST venue.
type LiveConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RateCapacity float64
	RatePerSec   float64
}

// LiveExchange talks to a venue's REST API:
//
//	POST   /api/v1/orders
//	GET    /api/v1/orders/{id}?symbol=
//	DELETE /api/v1/orders/{id}?symbol=
//	GET    /api/v1/positions/{symbol}   404 when flat
//
// Order placement and reads draw from separate token buckets.
type LiveExchange struct {
	client  *xhttp.Client
	limiter *ratelimit.Limiter
	log     *logger.Logger
}

func NewLiveExchange(cfg LiveConfig, log *logger.Logger) *LiveExchange {
	if log == nil {
		log = logger.Nop()
	}
	return &LiveExchange{
		client: xhttp.NewClient(
			xhttp.WithBaseURL(cfg.BaseURL),
			xhttp.WithTimeout(cfg.Timeout),
			xhttp.WithHeader("X-API-KEY", cfg.APIKey),
		),
		limiter: ratelimit.New(cfg.RateCapacity, cfg.RatePerSec),
		log:     log.With(logger.String("exchange", "live")),
	}
}

func (l *LiveExchange) GetExchangeType() models.ExchangeType { return models.ExchangeLive }

type placeOrderBody struct {
	models.OrderRequest
	Type string `json:"type"`
}

func (l *LiveExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.Order, error) {
	if err := l.limiter.Wait(ctx, "orders"); err != nil {
		return nil, err
	}
	var out models.Order
	err := l.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    "/api/v1/orders",
		Body:   placeOrderBody{OrderRequest: req, Type: "market"},
	}, &out)
	if err != nil {
		return nil, fmt.Errorf("place order %s: %w", req.ClientID, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("place order %s: venue returned no order id", req.ClientID)
	}
	l.log.Info("order placed",
		logger.String("order_id", out.ID),
		logger.String("client_id", req.ClientID),
		logger.String("state", string(out.State)),
	)
	return &out, nil
}

func (l *LiveExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if err := l.limiter.Wait(ctx, "orders"); err != nil {
		return err
	}
	err := l.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodDelete,
		URL:    "/api/v1/orders/" + url.PathEscape(orderID),
		Query:  url.Values{"symbol": {symbol}},
	}, nil)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

func (l *LiveExchange) GetOrderStatus(ctx context.Context, symbol, orderID string) (*models.OrderStatus, error) {
	if err := l.limiter.Wait(ctx, "reads"); err != nil {
		return nil, err
	}
	var out models.OrderStatus
	err := l.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    "/api/v1/orders/" + url.PathEscape(orderID),
		Query:  url.Values{"symbol": {symbol}},
	}, &out)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("order %s: %w", orderID, drepo.ErrNotFound)
		}
		return nil, fmt.Errorf("order status %s: %w", orderID, err)
	}
	return &out, nil
}

func (l *LiveExchange) GetPosition(ctx context.Context, symbol string) (*models.Position, error) {
	if err := l.limiter.Wait(ctx, "reads"); err != nil {
		return nil, err
	}
	var out models.Position
	err := l.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    "/api/v1/positions/" + url.PathEscape(symbol),
	}, &out)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}
	if out.ID == "" || out.Size == 0 {
		return nil, nil
	}
	return &out, nil
}

func isStatus(err error, code int) bool {
	var se *xhttp.StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

var _ drepo.TradingVenue = (*LiveExchange)(nil)
