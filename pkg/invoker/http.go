package invoker

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newEchoServer builds the control HTTP surface: /healthz, /metrics,
// plus the two read-only debug introspection endpoints, mirroring
// Wingie-beta9/pkg/gateway/inference_handlers.go's RegisterRoutes and
// Wingie-beta9/pkg/agent/control.go's /status /health split.
func (inv *Invoker) newEchoServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	e.GET("/healthz", inv.handleHealthz)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(inv.promRegistry, promhttp.HandlerOpts{})))
	e.GET("/debug/pool", inv.handleDebugPool)
	e.GET("/debug/preload-table", inv.handleDebugPreloadTable)

	return e
}

func (inv *Invoker) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (inv *Invoker) handleDebugPool(c echo.Context) error {
	return c.JSON(http.StatusOK, inv.pool.Metrics())
}

func (inv *Invoker) handleDebugPreloadTable(c echo.Context) error {
	return c.JSON(http.StatusOK, inv.pool.PreloadSnapshot())
}
