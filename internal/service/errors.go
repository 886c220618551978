// Package service implements source resolution and the byte relay.
package service

import (
	"errors"
	"fmt"

	"media-relay-go/internal/platform"
)

var (
	// ErrMissingParameter is returned when the source URL is absent.
	ErrMissingParameter = errors.New("missing required parameter: url")
	// ErrUnsupportedPlatform is returned when no profile matches the source URL.
	ErrUnsupportedPlatform = platform.ErrUnsupportedPlatform
	// ErrResolution is the class of all extractor failures.
	ErrResolution = errors.New("resolution failed")
	// ErrResolutionTimeout is returned when the extractor exceeds the resolver timeout.
	ErrResolutionTimeout = errors.New("resolution timed out")
	// ErrEmptyResolution is returned when the extractor output holds no usable URL.
	ErrEmptyResolution = errors.New("resolution returned no usable URL")

	// ErrUpstreamConnect is returned when the content host cannot be reached.
	ErrUpstreamConnect = errors.New("upstream connect failed")
	// ErrUpstreamStatus is returned when the content host answers with an error status.
	ErrUpstreamStatus = errors.New("upstream error status")
	// ErrUpstreamInterrupted is returned when the upstream body fails mid-transfer.
	ErrUpstreamInterrupted = errors.New("upstream stream interrupted")
	// ErrClientDisconnected is returned when the caller goes away; it is never shown to users.
	ErrClientDisconnected = errors.New("client disconnected")
)

// ResolutionError carries the extractor's diagnostic text.
type ResolutionError struct {
	Platform   string
	Diagnostic string
	Err        error
}

func (e *ResolutionError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s (%s): %v", ErrResolution, e.Platform, e.Err)
	}
	return fmt.Sprintf("%s (%s): %s", ErrResolution, e.Platform, e.Diagnostic)
}

// Unwrap exposes both the ErrResolution class and the underlying cause.
func (e *ResolutionError) Unwrap() []error {
	return []error{ErrResolution, e.Err}
}

// UpstreamStatusError records the status code of a failed upstream response.
type UpstreamStatusError struct {
	StatusCode int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("%s: %d", ErrUpstreamStatus, e.StatusCode)
}

func (e *UpstreamStatusError) Unwrap() error { return ErrUpstreamStatus }
