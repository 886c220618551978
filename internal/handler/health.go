package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"media-relay-go/internal/credentials"
	"media-relay-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	resolver *service.Resolver
	cookies  *credentials.Cookies
	version  Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(resolver *service.Resolver, cookies *credentials.Cookies, v Version) *HealthHandler {
	return &HealthHandler{resolver: resolver, cookies: cookies, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusBody struct {
	Status     string   `json:"status"`
	Version    string   `json:"version"`
	Platforms  []string `json:"platforms"`
	Extractors []string `json:"extractors"`
	Cookies    bool     `json:"cookies"`
}

// Status reports the build version and what the relay can resolve.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusBody{
		Status:     "ok",
		Version:    string(h.version),
		Platforms:  h.resolver.Platforms(),
		Extractors: h.resolver.Extractors(),
		Cookies:    h.cookies.Available(),
	})
}
