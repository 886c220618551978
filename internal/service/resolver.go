package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"media-relay-go/internal/config"
	"media-relay-go/internal/credentials"
	"media-relay-go/internal/extractor"
	"media-relay-go/internal/metrics"
	"media-relay-go/internal/model"
	"media-relay-go/internal/platform"
)

// Resolver turns source page URLs into direct media URLs.
type Resolver struct {
	table      *platform.Table
	extractors extractor.Set
	cookies    *credentials.Cookies
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewResolver creates a Resolver. Every profile must name a registered
// extractor. The metrics parameter is optional; pass nil to disable recording.
func NewResolver(
	table *platform.Table,
	extractors extractor.Set,
	cookies *credentials.Cookies,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Resolver, error) {
	for _, p := range table.Profiles() {
		if _, ok := extractors.Get(p.Extractor); !ok {
			return nil, fmt.Errorf("platform %q uses unknown extractor %q (have %v)", p.Name, p.Extractor, extractors.Names())
		}
	}

	return &Resolver{
		table:      table,
		extractors: extractors,
		cookies:    cookies,
		timeout:    time.Duration(cfg.Resolver.TimeoutSeconds) * time.Second,
		logger:     logger.With("component", "resolver"),
		metrics:    m,
	}, nil
}

// Resolve selects the platform profile for req.SourceURL and asks its
// extractor for a single direct URL. Results are never cached.
func (r *Resolver) Resolve(ctx context.Context, req model.SourceRequest) (*model.ResolvedTarget, error) {
	profile, ex, err := r.prepare(req)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolving",
		"platform", profile.Name,
		"extractor", ex.Name(),
		"client_user_agent", req.UserAgent,
	)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	raw, err := ex.ResolveURL(ctx, strings.TrimSpace(req.SourceURL), r.options(profile))
	r.observe(profile.Name, ex.Name(), time.Since(start))

	if err != nil {
		err = r.classify(ctx, profile.Name, err)
		r.count(profile.Name, err)
		return nil, err
	}

	directURL, ok := normalizeResolved(raw)
	if !ok {
		r.count(profile.Name, ErrEmptyResolution)
		return nil, fmt.Errorf("%w (%s)", ErrEmptyResolution, profile.Name)
	}
	r.count(profile.Name, nil)

	return &model.ResolvedTarget{
		DirectURL: directURL,
		Headers:   profile.HTTPHeader(),
		Platform:  profile.Name,
		Delivery:  profile.Delivery,
	}, nil
}

// ListFormats returns the extractor's human-readable format listing.
func (r *Resolver) ListFormats(ctx context.Context, req model.SourceRequest) (string, error) {
	profile, ex, err := r.prepare(req)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := ex.ListFormats(ctx, strings.TrimSpace(req.SourceURL), r.options(profile))
	if err != nil {
		return "", r.classify(ctx, profile.Name, err)
	}
	return out, nil
}

// Platforms returns the configured platform names in match order.
func (r *Resolver) Platforms() []string {
	return r.table.Names()
}

// Extractors returns the registered extractor backend names.
func (r *Resolver) Extractors() []string {
	return r.extractors.Names()
}

func (r *Resolver) prepare(req model.SourceRequest) (*platform.Profile, extractor.Extractor, error) {
	if strings.TrimSpace(req.SourceURL) == "" {
		return nil, nil, ErrMissingParameter
	}
	profile, err := r.table.Match(req.SourceURL)
	if err != nil {
		return nil, nil, err
	}
	ex, _ := r.extractors.Get(profile.Extractor)
	return profile, ex, nil
}

func (r *Resolver) options(p *platform.Profile) extractor.Options {
	opts := extractor.Options{
		FormatSelector: p.FormatSelector,
		Headers:        p.Headers,
	}
	if r.cookies.Available() {
		opts.CookiesPath = r.cookies.Path
	}
	return opts
}

// classify maps an extractor failure onto the resolution error taxonomy.
// ctx is the timeout-bound context the extractor ran under.
func (r *Resolver) classify(ctx context.Context, platformName string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s (%s)", ErrResolutionTimeout, r.timeout, platformName)
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", ErrClientDisconnected, err)
	}

	re := &ResolutionError{Platform: platformName, Err: err}
	var te *extractor.ToolError
	if errors.As(err, &te) {
		re.Diagnostic = te.Diagnostic
	}
	if re.Diagnostic == "" {
		re.Diagnostic = err.Error()
	}
	return re
}

func (r *Resolver) observe(platformName, extractorName string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.ResolveDuration.WithLabelValues(platformName, extractorName).Observe(d.Seconds())
	}
}

func (r *Resolver) count(platformName string, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case errors.Is(err, ErrResolutionTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrEmptyResolution):
		outcome = "empty"
	case errors.Is(err, ErrClientDisconnected):
		outcome = "canceled"
	case err != nil:
		outcome = "error"
	}
	r.metrics.ResolveTotal.WithLabelValues(platformName, outcome).Inc()
}

// normalizeResolved returns the first non-blank line of raw extractor
// output, provided it is an absolute http(s) URL. yt-dlp prints one URL
// per requested stream, so merged formats yield several lines.
func normalizeResolved(raw string) (string, bool) {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", false
		}
		return line, true
	}
	return "", false
}
