// Package model defines shared types for the relay.
package model

import (
	"io"
	"net/http"

	"media-relay-go/internal/platform"
)

// SourceRequest is what the caller asked for: a public page URL plus the
// client headers that matter to the relay.
type SourceRequest struct {
	SourceURL   string
	RangeHeader string
	UserAgent   string
}

// ResolvedTarget is a direct media URL and the headers to present to the
// content host. It is produced once per request and never reused.
type ResolvedTarget struct {
	DirectURL string
	Headers   http.Header
	Platform  string
	Delivery  platform.Delivery
}

// UpstreamResponse is an open response from the content host.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// RelayStats summarizes a finished relay session.
type RelayStats struct {
	Status  int
	Bytes   int64
	Partial bool
}
