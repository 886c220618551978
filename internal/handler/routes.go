package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"media-relay-go/internal/config"
	"media-relay-go/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, media *MediaHandler, health *HealthHandler) {
	e.GET("/", media.Root)
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	e.GET("/stream", media.Stream)
	e.HEAD("/stream", media.Stream)
	e.GET("/formats", media.Formats)

	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}
