package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"media-relay-go/internal/model"
	"media-relay-go/internal/platform"
	"media-relay-go/internal/service"
)

// Liveness is the body served on GET /.
const Liveness = "media relay is running"

// streamInfo is the JSON delivery body: everything a client needs to fetch
// the media itself.
type streamInfo struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
	Platform string            `json:"platform"`
}

// MediaHandler serves the stream and formats endpoints.
type MediaHandler struct {
	resolver *service.Resolver
	relay    *service.Relay
	logger   *slog.Logger
}

// NewMediaHandler creates a MediaHandler.
func NewMediaHandler(resolver *service.Resolver, relay *service.Relay, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		resolver: resolver,
		relay:    relay,
		logger:   logger.With("component", "media_handler"),
	}
}

// Root answers liveness checks.
func (h *MediaHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, Liveness)
}

// Stream resolves ?url= and either relays the media bytes or, in JSON
// delivery, returns the direct URL and the headers to fetch it with.
// ?mode=json|relay overrides the platform's default delivery.
func (h *MediaHandler) Stream(c echo.Context) error {
	req := c.Request()

	var delivery platform.Delivery
	if mode := c.QueryParam("mode"); mode != "" {
		d, ok := platform.ParseDelivery(mode)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("Unsupported mode: %s", mode),
			})
		}
		delivery = d
	}

	src := model.SourceRequest{
		SourceURL:   c.QueryParam("url"),
		RangeHeader: req.Header.Get("Range"),
		UserAgent:   req.UserAgent(),
	}

	target, err := h.resolver.Resolve(req.Context(), src)
	if err != nil {
		return h.mapError(c, "Failed to resolve video", err)
	}
	if delivery == "" {
		delivery = target.Delivery
	}

	if delivery == platform.DeliveryJSON {
		return c.JSON(http.StatusOK, streamInfo{
			URL:      target.DirectURL,
			Headers:  flattenHeaders(target.Headers),
			Platform: target.Platform,
		})
	}

	_, err = h.relay.Stream(req.Context(), c.Response(), service.StreamRequest{
		Target:   target,
		Range:    src.RangeHeader,
		HeadOnly: req.Method == http.MethodHead,
	})
	if err != nil {
		return h.mapError(c, "Failed to relay video", err)
	}
	return nil
}

// Formats lists the formats the extractor sees for ?url=.
func (h *MediaHandler) Formats(c echo.Context) error {
	req := c.Request()
	out, err := h.resolver.ListFormats(req.Context(), model.SourceRequest{
		SourceURL: c.QueryParam("url"),
		UserAgent: req.UserAgent(),
	})
	if err != nil {
		return h.mapError(c, "Failed to list formats", err)
	}
	return c.String(http.StatusOK, out)
}

func (h *MediaHandler) mapError(c echo.Context, action string, err error) error {
	path := c.Request().URL.Path

	if errors.Is(err, service.ErrClientDisconnected) {
		h.logger.Debug("client disconnected", "path", path)
		return nil
	}

	if c.Response().Committed {
		if errors.Is(err, service.ErrUpstreamInterrupted) {
			// Headers are gone; dropping the connection is the only way to
			// tell the client the body is short.
			panic(http.ErrAbortHandler)
		}
		h.logger.Error("relay failed after response started", "err", err, "path", path)
		return nil
	}

	switch {
	case errors.Is(err, service.ErrMissingParameter):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Missing required query parameter: url",
		})
	case errors.Is(err, service.ErrUnsupportedPlatform):
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "Unsupported platform",
		})
	}

	h.logger.Error("request failed", "err", err, "path", path)

	var re *service.ResolutionError
	var se *service.UpstreamStatusError
	switch {
	case errors.As(err, &re):
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("%s: %s", action, re.Diagnostic),
		})
	case errors.Is(err, service.ErrResolutionTimeout):
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": action + ": extractor timed out",
		})
	case errors.Is(err, service.ErrEmptyResolution):
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": action + ": extractor returned no usable URL",
		})
	case errors.As(err, &se):
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": fmt.Sprintf("%s: content host returned status %d", action, se.StatusCode),
		})
	case errors.Is(err, service.ErrUpstreamConnect):
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": action + ": content host unreachable",
		})
	}

	return err
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[name] = h.Get(name)
	}
	return out
}

// NewHTTPErrorHandler returns the catch-all error handler: echo errors keep
// their status, anything else becomes a generic 500.
func NewHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	logger = logger.With("component", "error_handler")

	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		msg := "Internal error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		} else {
			logger.Error("unhandled error",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			)
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, map[string]string{"error": msg})
		}
		if werr != nil {
			logger.Error("writing error response", "err", werr)
		}
	}
}
