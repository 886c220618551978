package extractor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"media-relay-go/internal/config"
	"media-relay-go/internal/platform"
)

// maxDiagnosticBytes caps how much yt-dlp stderr is surfaced to callers.
const maxDiagnosticBytes = 2048

// YtDlp runs the yt-dlp binary as a subprocess.
type YtDlp struct {
	binary     string
	extraFlags []string
	logger     *slog.Logger
}

// NewYtDlp creates a YtDlp extractor from the resolver config.
func NewYtDlp(cfg *config.Config, logger *slog.Logger) *YtDlp {
	return &YtDlp{
		binary:     cfg.Resolver.Binary,
		extraFlags: cfg.Resolver.ExtraFlags,
		logger:     logger.With("component", "ytdlp"),
	}
}

// Name implements Extractor.
func (y *YtDlp) Name() string { return platform.ExtractorYtDlp }

// ResolveURL runs yt-dlp with --get-url, which implies --simulate, so
// nothing is downloaded.
func (y *YtDlp) ResolveURL(ctx context.Context, sourceURL string, opts Options) (string, error) {
	return y.run(ctx, y.buildArgs(sourceURL, opts, false))
}

// ListFormats runs yt-dlp with --list-formats.
func (y *YtDlp) ListFormats(ctx context.Context, sourceURL string, opts Options) (string, error) {
	return y.run(ctx, y.buildArgs(sourceURL, opts, true))
}

func (y *YtDlp) buildArgs(sourceURL string, opts Options, list bool) []string {
	args := []string{"--no-playlist", "--no-warnings"}
	if list {
		args = append(args, "--list-formats")
	} else {
		args = append(args, "--get-url")
		if opts.FormatSelector != "" {
			args = append(args, "--format", opts.FormatSelector)
		}
	}
	if opts.CookiesPath != "" {
		args = append(args, "--cookies", opts.CookiesPath)
	}
	for _, h := range opts.Headers {
		args = append(args, "--add-header", h.Name+":"+h.Value)
	}
	args = append(args, y.extraFlags...)
	args = append(args, opts.ExtraFlags...)
	// "--" keeps a hostile URL from being parsed as a flag.
	return append(args, "--", sourceURL)
}

func (y *YtDlp) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, y.binary, args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		diag := strings.TrimSpace(stderr.String())
		if len(diag) > maxDiagnosticBytes {
			diag = diag[:maxDiagnosticBytes]
		}
		y.logger.Warn("yt-dlp failed",
			"err", err,
			"elapsed_ms", elapsed.Milliseconds(),
			"stderr", diag,
		)
		if errors.Is(err, exec.ErrNotFound) {
			diag = "binary " + y.binary + " not found"
		}
		return "", &ToolError{Tool: "yt-dlp", Diagnostic: diag, Err: err}
	}

	y.logger.Debug("yt-dlp completed", "elapsed_ms", elapsed.Milliseconds())
	return stdout.String(), nil
}
