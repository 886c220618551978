package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"media-relay-go/internal/config"
	"media-relay-go/internal/metrics"
	"media-relay-go/internal/model"
)

// mirroredHeaders are copied from the upstream response when present.
var mirroredHeaders = []string{
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"Last-Modified",
	"ETag",
}

// Streamer opens a byte stream against a direct media URL.
type Streamer interface {
	DoStream(ctx context.Context, method, url string, header http.Header) (*model.UpstreamResponse, error)
}

// StreamRequest describes one relay session.
type StreamRequest struct {
	Target *model.ResolvedTarget
	// Range is the client's Range header, forwarded verbatim.
	Range string
	// HeadOnly sends the response headers and skips the body.
	HeadOnly bool
}

// Relay copies upstream media bytes to the client.
type Relay struct {
	upstream           Streamer
	bufferSize         int
	defaultContentType string
	logger             *slog.Logger
	metrics            *metrics.Metrics
}

// NewRelay creates a Relay. The metrics parameter is optional; pass nil to disable recording.
func NewRelay(upstream Streamer, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		upstream:           upstream,
		bufferSize:         cfg.Relay.BufferBytes,
		defaultContentType: cfg.Relay.DefaultContentType,
		logger:             logger.With("component", "relay"),
		metrics:            m,
	}
}

// Stream fetches sr.Target and copies it to w. Nothing is written to w
// when an error is returned before the upstream answered successfully.
// Once the status line is sent, a failure leaves the response truncated and
// the caller must abort the connection on ErrUpstreamInterrupted.
//
// Canceling ctx closes the upstream body immediately, which unblocks any
// pending read.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, sr StreamRequest) (model.RelayStats, error) {
	var stats model.RelayStats
	platformName := sr.Target.Platform

	header := sr.Target.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if sr.Range != "" {
		header.Set("Range", sr.Range)
	}

	resp, err := r.upstream.DoStream(ctx, http.MethodGet, sr.Target.DirectURL, header)
	if err != nil {
		if ctx.Err() != nil {
			r.finish(platformName, "client_disconnected", stats)
			return stats, fmt.Errorf("%w: %w", ErrClientDisconnected, err)
		}
		r.finish(platformName, "connect_failed", stats)
		return stats, fmt.Errorf("%w: %w", ErrUpstreamConnect, err)
	}
	defer resp.Body.Close()
	stop := context.AfterFunc(ctx, func() { resp.Body.Close() })
	defer stop()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != http.StatusRequestedRangeNotSatisfiable {
		r.logger.Warn("upstream rejected request",
			"platform", platformName,
			"status", resp.StatusCode,
		)
		r.finish(platformName, "upstream_status", stats)
		return stats, &UpstreamStatusError{StatusCode: resp.StatusCode}
	}

	stats.Status = responseStatus(resp)
	stats.Partial = stats.Status == http.StatusPartialContent

	dst := w.Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = r.defaultContentType
	}
	dst.Set("Content-Type", contentType)
	for _, name := range mirroredHeaders {
		if v := resp.Header.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
	w.WriteHeader(stats.Status)

	if sr.HeadOnly {
		r.finish(platformName, "complete", stats)
		return stats, nil
	}

	if r.metrics != nil {
		r.metrics.RelaysActive.Inc()
		defer r.metrics.RelaysActive.Dec()
	}

	start := time.Now()
	err = r.copy(ctx, w, resp.Body, &stats)

	switch {
	case err == nil:
		r.finish(platformName, "complete", stats)
		r.logger.Debug("relay complete",
			"platform", platformName,
			"status", stats.Status,
			"partial", stats.Partial,
			"bytes", stats.Bytes,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	case errors.Is(err, ErrClientDisconnected):
		r.finish(platformName, "client_disconnected", stats)
		r.logger.Debug("client went away",
			"platform", platformName,
			"bytes", stats.Bytes,
		)
	default:
		r.finish(platformName, "upstream_interrupted", stats)
		r.logger.Warn("upstream stream interrupted",
			"platform", platformName,
			"bytes", stats.Bytes,
			"error", err,
		)
	}
	return stats, err
}

// copy moves bytes chunk by chunk, flushing after each write so the client
// sees data as soon as the content host sends it.
func (r *Relay) copy(ctx context.Context, w http.ResponseWriter, body io.Reader, stats *model.RelayStats) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, r.bufferSize)

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			stats.Bytes += int64(written)
			if writeErr != nil {
				return fmt.Errorf("%w: %w", ErrClientDisconnected, writeErr)
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrClientDisconnected, ctx.Err())
			}
			return fmt.Errorf("%w: %w", ErrUpstreamInterrupted, readErr)
		}
	}
}

func (r *Relay) finish(platformName, outcome string, stats model.RelayStats) {
	if r.metrics == nil {
		return
	}
	r.metrics.RelaySessions.WithLabelValues(platformName, outcome).Inc()
	if stats.Bytes > 0 {
		r.metrics.RelayBytes.WithLabelValues(platformName).Add(float64(stats.Bytes))
	}
}

// responseStatus decides the client-facing status once. A Content-Range
// header means a partial response regardless of what the host reported.
func responseStatus(resp *model.UpstreamResponse) int {
	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return http.StatusRequestedRangeNotSatisfiable
	case resp.Header.Get("Content-Range") != "":
		return http.StatusPartialContent
	default:
		return http.StatusOK
	}
}
