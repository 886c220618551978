// Package credentials provisions the cookie file handed to the extractor.
package credentials

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"media-relay-go/internal/config"
)

// Cookies points at a Netscape-format cookie file. An empty Path means no
// cookies are available and authenticated sources may fail to resolve.
type Cookies struct {
	Path string
}

// Available reports whether a cookie file can be passed to the extractor.
func (c *Cookies) Available() bool {
	return c != nil && c.Path != ""
}

// Provision writes the cookie blob from the CLI/environment to the configured
// path once at startup. Without a blob, an existing file at that path is
// used as-is. Missing cookies are not fatal.
func Provision(cfg *config.Config, cli *config.CLI, logger *slog.Logger) (*Cookies, error) {
	logger = logger.With("component", "credentials")
	path := cfg.Resolver.CookiesPath

	if cli.Cookies != "" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("credentials: create %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(path, []byte(cli.Cookies), 0o600); err != nil {
			return nil, fmt.Errorf("credentials: write %s: %w", path, err)
		}
		logger.Info("cookie file written", "path", path, "bytes", len(cli.Cookies))
		return &Cookies{Path: path}, nil
	}

	info, err := os.Stat(path)
	if err == nil && info.Mode().IsRegular() && info.Size() > 0 {
		logger.Info("using existing cookie file", "path", path)
		return &Cookies{Path: path}, nil
	}

	logger.Warn("no cookies configured; set YTDLP_COOKIES for authenticated sources", "path", path)
	return &Cookies{}, nil
}
