package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"TradeEngine/internal/domain/errs"
	"TradeEngine/internal/domain/models"
	"TradeEngine/internal/repository"
	"TradeEngine/pkg/cache"
	xlogger "TradeEngine/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	state     models.SystemState
	ready     chan struct{}
	resumeErr error
	resumedBy string
}

func (f *fakeEngine) State() models.SystemState { return f.state }
func (f *fakeEngine) Ready() <-chan struct{}    { return f.ready }

func (f *fakeEngine) Resume(_ context.Context, operator, _ string) error {
	if f.resumeErr != nil {
		return f.resumeErr
	}
	f.resumedBy = operator
	f.state = models.StateScanning
	return nil
}

type fakeEventLog struct {
	gotType  models.EventType
	gotLimit int
	calls    int
	err      error
}

func (f *fakeEventLog) Recent(_ context.Context, symbol string, t models.EventType, limit int) ([]models.Event, error) {
	f.gotType, f.gotLimit = t, limit
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []models.Event{models.NewEvent(t, symbol, time.Now(), json.RawMessage(`{}`))}, nil
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

func setup(t *testing.T, eng *fakeEngine, log EventLog) (*echo.Echo, *StatusTracker, *repository.MemoryCandleHistory) {
	t.Helper()
	if eng.ready == nil {
		eng.ready = make(chan struct{})
	}
	tracker := NewStatusTracker()
	hist := repository.NewMemoryCandleHistory(100)
	h := NewEngineEchoHandler(xlogger.Nop(), "BTCUSDT", time.Minute, eng, tracker, log, hist)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, tracker, hist
}

func do(e *echo.Echo, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestStateReportsReadinessAndLastTransition(t *testing.T) {
	eng := &fakeEngine{state: models.StateScanning}
	e, tracker, _ := setup(t, eng, nil)
	tracker.Observe(models.NewEvent(models.EventStateTransition, "BTCUSDT", time.Now(), map[string]string{"to": "SCANNING"}))
	close(eng.ready)

	rec, env := do(e, http.MethodGet, "/api/engine/state", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var st StateResponse
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.True(t, st.Ready)
	assert.Equal(t, models.StateScanning, st.State)
	require.NotNil(t, st.LastTransition)
	assert.Equal(t, int64(1), st.EventCounts[models.EventStateTransition])
}

func TestSignalNotFoundUntilOneIsSeen(t *testing.T) {
	e, tracker, _ := setup(t, &fakeEngine{}, nil)

	rec, _ := do(e, http.MethodGet, "/api/engine/signal", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	tracker.Observe(models.NewEvent(models.EventSignal, "BTCUSDT", time.Now(), models.TradingSignal{ID: "sig-1"}))
	rec, env := do(e, http.MethodGet, "/api/engine/signal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(env.Data), `"sig-1"`)
}

func TestResume(t *testing.T) {
	t.Run("validates body", func(t *testing.T) {
		e, _, _ := setup(t, &fakeEngine{state: models.StateHalted}, nil)
		rec, _ := do(e, http.MethodPost, "/api/engine/resume", `{"operator":"ops"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("resumes a halted engine", func(t *testing.T) {
		eng := &fakeEngine{state: models.StateHalted}
		e, _, _ := setup(t, eng, nil)
		rec, _ := do(e, http.MethodPost, "/api/engine/resume", `{"operator":"ops","reason":"venue back"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ops", eng.resumedBy)
	})

	t.Run("conflict when not halted", func(t *testing.T) {
		eng := &fakeEngine{state: models.StateScanning, resumeErr: errs.Recoverable("engine.resume", errs.CodeNotHalted, nil)}
		e, _, _ := setup(t, eng, nil)
		rec, env := do(e, http.MethodPost, "/api/engine/resume", `{"operator":"ops","reason":"r"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, string(env.Data), "ERR_CONFLICT")
	})
}

func TestEvents(t *testing.T) {
	e, _, _ := setup(t, &fakeEngine{}, nil)
	rec, _ := do(e, http.MethodGet, "/api/engine/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	log := &fakeEventLog{}
	e, _, _ = setup(t, &fakeEngine{}, log)
	rec, _ = do(e, http.MethodGet, "/api/engine/events?type=signal&limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.EventSignal, log.gotType)
	assert.Equal(t, 5, log.gotLimit)

	rec, _ = do(e, http.MethodGet, "/api/engine/events", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.EventStateTransition, log.gotType)
	assert.Equal(t, 50, log.gotLimit)

	rec, _ = do(e, http.MethodGet, "/api/engine/events?type=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	log.err = errors.New("clickhouse down")
	rec, _ = do(e, http.MethodGet, "/api/engine/events?type=signal", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCandlesLatestAndRange(t *testing.T) {
	e, _, hist := setup(t, &fakeEngine{}, nil)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		hist.Append(models.Candle{Bucket: base.Add(time.Duration(i) * time.Minute), Symbol: "BTCUSDT", Open: 1, High: 1, Low: 1, Close: 1})
	}

	rec, env := do(e, http.MethodGet, "/api/engine/candles?limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Rows  []models.Candle `json:"rows"`
		Total int64           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 3, list.Total)
	assert.Equal(t, base.Add(9*time.Minute), list.Rows[2].Bucket.UTC())

	rec, env = do(e, http.MethodGet, "/api/engine/candles?from=2024-03-01T00:02:30Z&to=2024-03-01T00:04:59Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.EqualValues(t, 3, list.Total, "range is aligned to whole minutes")
}

func TestReadyzReportsFailingChecks(t *testing.T) {
	h := NewHealthHandler(map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"feed":     func(context.Context) error { return errors.New("disconnected") },
	})
	e := echo.New()
	h.RegisterRoutes(e)

	rec, env := do(e, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"feed":"disconnected","postgres":"ok"}`, string(env.Data))

	rec, _ = do(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsAreCached(t *testing.T) {
	log := &fakeEventLog{}
	h := NewEngineEchoHandler(xlogger.Nop(), "BTCUSDT", time.Minute, &fakeEngine{ready: make(chan struct{})},
		NewStatusTracker(), log, nil, WithQueryCache(cache.NewMemoryCache(), time.Minute))
	e := echo.New()
	h.RegisterRoutes(e)

	for i := 0; i < 3; i++ {
		rec, _ := do(e, http.MethodGet, "/api/engine/events?type=signal&limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, log.calls)

	rec, _ := do(e, http.MethodGet, "/api/engine/candles", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
