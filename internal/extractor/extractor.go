// Package extractor wraps the tools that turn a public page URL into a
// direct media URL. Callers only see the Extractor interface, so the
// backing tool can be swapped without touching the relay.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"media-relay-go/internal/platform"
)

// ErrNoFormat is returned when no available format satisfies the selector.
var ErrNoFormat = errors.New("no format matches selector")

// Options shape a single extraction call.
type Options struct {
	FormatSelector string
	Headers        []platform.Header
	CookiesPath    string
	ExtraFlags     []string
}

// Extractor resolves source URLs. Implementations must never write media
// to local storage.
type Extractor interface {
	Name() string
	// ResolveURL returns the raw resolved output; the caller normalizes it.
	ResolveURL(ctx context.Context, sourceURL string, opts Options) (string, error)
	// ListFormats returns a human-readable listing of available formats.
	ListFormats(ctx context.Context, sourceURL string, opts Options) (string, error)
}

// ToolError carries the diagnostic output of a failed extraction.
type ToolError struct {
	Tool       string
	Diagnostic string
	Err        error
}

func (e *ToolError) Error() string {
	if e.Diagnostic == "" {
		return fmt.Sprintf("%s: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Tool, e.Err, e.Diagnostic)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Set maps backend names to extractors.
type Set map[string]Extractor

// NewSet indexes extractors by Name.
func NewSet(extractors ...Extractor) Set {
	s := make(Set, len(extractors))
	for _, e := range extractors {
		s[e.Name()] = e
	}
	return s
}

// Get returns the extractor registered under name.
func (s Set) Get(name string) (Extractor, bool) {
	e, ok := s[name]
	return e, ok
}

// Names returns the registered backend names, sorted.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
