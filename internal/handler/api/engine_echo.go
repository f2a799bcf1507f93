package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	domrepo "TradeEngine/internal/domain/repository"
	"TradeEngine/pkg/cache"
	xhttp "TradeEngine/pkg/http"
	xlogger "TradeEngine/pkg/logger"
	"TradeEngine/pkg/util"

	"github.com/labstack/echo/v4"
)

// EngineControl is the part of the engine the operator API drives.
type EngineControl interface {
	State() models.SystemState
	Ready() <-chan struct{}
	Resume(ctx context.Context, operator, reason string) error
}

// EventLog serves recent events from durable storage.
type EventLog interface {
	Recent(ctx context.Context, symbol string, t models.EventType, limit int) ([]models.Event, error)
}

type ResumeRequest struct {
	Operator string `json:"operator" validate:"required,max=64"`
	Reason   string `json:"reason" validate:"required,max=256"`
}

type EventsRequest struct {
	Type  string `query:"type" default:"state_transition" validate:"oneof=state_transition signal recovery filter_rejected"`
	Limit int    `query:"limit" default:"50" validate:"gte=1,lte=500"`
}

type StateResponse struct {
	Symbol         string                     `json:"symbol"`
	State          models.SystemState         `json:"state"`
	Ready          bool                       `json:"ready"`
	LastTransition *models.Event              `json:"last_transition,omitempty"`
	EventCounts    map[models.EventType]int64 `json:"event_counts"`
}

// EngineEchoHandler is the operator API for one engine.
type EngineEchoHandler struct {
	logger  *xlogger.Logger
	symbol  string
	engine  EngineControl
	status  *StatusTracker
	events  EventLog              // nil without ClickHouse
	candles domrepo.CandleHistory // nil without history
	step    time.Duration

	queryCache cache.Service
	queryTTL   time.Duration
}

type EngineHandlerOption func(*EngineEchoHandler)

// WithQueryCache caches event log reads for ttl.
func WithQueryCache(c cache.Service, ttl time.Duration) EngineHandlerOption {
	return func(h *EngineEchoHandler) {
		h.queryCache = c
		h.queryTTL = ttl
	}
}

func NewEngineEchoHandler(
	logger *xlogger.Logger,
	symbol string,
	step time.Duration,
	engine EngineControl,
	status *StatusTracker,
	events EventLog,
	candles domrepo.CandleHistory,
	opts ...EngineHandlerOption,
) *EngineEchoHandler {
	h := &EngineEchoHandler{
		logger:  logger,
		symbol:  symbol,
		engine:  engine,
		status:  status,
		events:  events,
		candles: candles,
		step:    step,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *EngineEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/engine")
	g.GET("/state", h.State)
	g.GET("/signal", h.Signal)
	g.POST("/resume", h.Resume)
	g.GET("/events", h.Events)
	g.GET("/candles", h.Candles)
}

func (h *EngineEchoHandler) State(c echo.Context) error {
	ready := false
	select {
	case <-h.engine.Ready():
		ready = true
	default:
	}
	return xhttp.SuccessResponse(c, StateResponse{
		Symbol:         h.symbol,
		State:          h.engine.State(),
		Ready:          ready,
		LastTransition: h.status.LastTransition(),
		EventCounts:    h.status.Counts(),
	})
}

func (h *EngineEchoHandler) Signal(c echo.Context) error {
	ev := h.status.LastSignal()
	if ev == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no signal generated yet"))
	}
	return xhttp.SuccessResponse(c, ev)
}

func (h *EngineEchoHandler) Resume(c echo.Context) error {
	req := &ResumeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	err := h.engine.Resume(c.Request().Context(), req.Operator, req.Reason)
	switch {
	case err == nil:
	case errs.CodeOf(err) == errs.CodeNotHalted:
		return xhttp.AppErrorResponse(c, xhttp.ConflictError("engine is not halted").
			WithParam("state", h.engine.State()).WithError(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("engine did not answer").WithError(err))
	default:
		h.logger.Error("resume failed", xlogger.String("operator", req.Operator), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("resume failed").WithError(err))
	}

	h.logger.Info("engine resumed by operator",
		xlogger.String("operator", req.Operator),
		xlogger.String("reason", req.Reason),
	)
	return xhttp.SuccessResponse(c, map[string]interface{}{"state": h.engine.State()})
}

func (h *EngineEchoHandler) Events(c echo.Context) error {
	if h.events == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("event log is disabled"))
	}
	req := &EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ctx := c.Request().Context()
	key := fmt.Sprintf("events:%s:%s:%d", h.symbol, req.Type, req.Limit)
	var rows []models.Event
	if h.queryCache != nil && h.queryCache.Get(ctx, key, &rows) == nil {
		return xhttp.ListResponse(c, rows, int64(len(rows)))
	}

	rows, err := h.events.Recent(ctx, h.symbol, models.EventType(req.Type), req.Limit)
	if err != nil {
		h.logger.Error("event log query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("event log unavailable").WithError(err))
	}
	if h.queryCache != nil {
		if err := h.queryCache.Set(ctx, key, rows, h.queryTTL); err != nil {
			h.logger.Warn("event log cache set", xlogger.Error(err))
		}
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

// Candles serves ?from=&to= (RFC3339 or unix) or, without a range, the latest ?limit= candles.
func (h *EngineEchoHandler) Candles(c echo.Context) error {
	if h.candles == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("candle history is disabled"))
	}
	ctx := c.Request().Context()
	tf := domrepo.TimeframeFor(h.step)

	var (
		rows []models.Candle
		err  error
	)
	from, hasFrom := util.ParseTime(c.QueryParam("from"))
	if hasFrom {
		to := util.ParseTimeDefault(c.QueryParam("to"), time.Now().UTC())
		from, to = util.AlignRange(from, to, h.step)
		rows, err = h.candles.GetCandles(ctx, h.symbol, from, to, tf)
	} else {
		n := util.ClampInt(util.ParseIntDefault(c.QueryParam("limit"), 100), 1, 5000)
		rows, err = h.candles.GetLatestNCandles(ctx, h.symbol, n, tf)
	}
	if err != nil {
		if errors.Is(err, domrepo.ErrInvalidInput) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError("invalid candle query").WithError(err))
		}
		h.logger.Error("candle query failed", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("candle history unavailable").WithError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

var _ xhttp.Handler = (*EngineEchoHandler)(nil)
