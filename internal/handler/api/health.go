package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	xhttp "TradeEngine/pkg/http"

	"github.com/labstack/echo/v4"
)

// HealthCheck reports nil when a dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves /healthz (process up) and /readyz (every check passes).
type HealthHandler struct {
	checks  map[string]HealthCheck
	timeout time.Duration
}

func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error {
		return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", h.Ready)
}

func (h *HealthHandler) Ready(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	out := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			out[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		out[name] = "ok"
	}
	return xhttp.DataResponse(c, status, out)
}
