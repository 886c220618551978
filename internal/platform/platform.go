// Package platform holds the ordered table of supported source platforms and
// the request shaping (format selector, spoofed headers) applied to each.
package platform

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"media-relay-go/internal/config"
)

// ErrUnsupportedPlatform is returned when a source URL matches no profile.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Delivery selects how a resolved URL reaches the client.
type Delivery string

const (
	// DeliveryRelay streams the media bytes through this service.
	DeliveryRelay Delivery = "relay"
	// DeliveryJSON returns the resolved URL and headers as JSON.
	DeliveryJSON Delivery = "json"
)

// ParseDelivery maps a config or query value to a Delivery.
func ParseDelivery(s string) (Delivery, bool) {
	switch Delivery(strings.ToLower(strings.TrimSpace(s))) {
	case DeliveryRelay:
		return DeliveryRelay, true
	case DeliveryJSON:
		return DeliveryJSON, true
	}
	return "", false
}

// Extractor backend names.
const (
	ExtractorYtDlp   = "ytdlp"
	ExtractorYouTube = "youtube"
)

// Header is a single request header. Profiles keep headers as an ordered
// slice so the extractor receives them in a stable order.
type Header struct {
	Name  string
	Value string
}

// Profile describes how to resolve and fetch media for one platform.
type Profile struct {
	Name           string
	Domains        []string
	FormatSelector string
	Headers        []Header
	Delivery       Delivery
	Extractor      string
}

// Matches reports whether the registrable domain (eTLD+1) of a source host
// is one of the profile's domains.
func (p *Profile) Matches(registrable string) bool {
	for _, d := range p.Domains {
		if registrable == d {
			return true
		}
	}
	return false
}

// HTTPHeader returns the profile headers as a fresh http.Header.
func (p *Profile) HTTPHeader() http.Header {
	h := make(http.Header, len(p.Headers))
	for _, kv := range p.Headers {
		h.Set(kv.Name, kv.Value)
	}
	return h
}

const smartTVUserAgent = "Mozilla/5.0 (Web0S; Linux/SmartTV) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.79 Safari/537.36"

// Defaults returns the built-in profiles in match priority order.
func Defaults() []Profile {
	return []Profile{
		{
			Name:    "youtube",
			Domains: []string{"youtube.com", "youtu.be", "youtube-nocookie.com"},
			// itag 18 is the 360p progressive mp4; fall back to any progressive mp4.
			FormatSelector: "18/b[ext=mp4][vcodec!=none][acodec!=none]/b",
			Headers: []Header{
				{"User-Agent", smartTVUserAgent},
				{"X-YouTube-Client-Name", "55"},
				{"X-YouTube-Client-Version", "1.0"},
				{"Accept", "*/*"},
				{"Origin", "https://www.youtube.com"},
			},
			Delivery:  DeliveryRelay,
			Extractor: ExtractorYtDlp,
		},
		{
			Name:           "twitter",
			Domains:        []string{"x.com", "twitter.com"},
			FormatSelector: "best[protocol=m3u8]",
			Headers: []Header{
				{"User-Agent", "Mozilla/5.0"},
				{"Accept", "*/*"},
				{"Origin", "https://x.com"},
			},
			Delivery:  DeliveryJSON,
			Extractor: ExtractorYtDlp,
		},
	}
}

// Table is the ordered, read-only list of platform profiles.
// It is built once at startup and shared by all requests.
type Table struct {
	profiles []Profile
}

// NewTable builds the table from the built-in defaults and config overrides.
func NewTable(cfg *config.Config) (*Table, error) {
	profiles := Defaults()

	for _, pc := range cfg.Platforms {
		name := strings.ToLower(strings.TrimSpace(pc.Name))
		idx := -1
		for i := range profiles {
			if profiles[i].Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			profiles = append(profiles, Profile{
				Name:      name,
				Delivery:  DeliveryRelay,
				Extractor: ExtractorYtDlp,
			})
			idx = len(profiles) - 1
		}
		if err := applyOverride(&profiles[idx], pc); err != nil {
			return nil, fmt.Errorf("platform %q: %w", name, err)
		}
	}

	for i := range profiles {
		if len(profiles[i].Domains) == 0 {
			return nil, fmt.Errorf("platform %q: at least one domain is required", profiles[i].Name)
		}
		for _, d := range profiles[i].Domains {
			if etld1, err := publicsuffix.EffectiveTLDPlusOne(d); err != nil || etld1 != d {
				return nil, fmt.Errorf("platform %q: domain %q is not a registrable domain", profiles[i].Name, d)
			}
		}
		if profiles[i].FormatSelector == "" {
			return nil, fmt.Errorf("platform %q: format selector is required", profiles[i].Name)
		}
	}

	return &Table{profiles: profiles}, nil
}

// NewTableFromProfiles builds a table from explicit profiles, in order.
func NewTableFromProfiles(profiles ...Profile) *Table {
	return &Table{profiles: append([]Profile(nil), profiles...)}
}

func applyOverride(p *Profile, pc config.PlatformConfig) error {
	if len(pc.Domains) > 0 {
		p.Domains = p.Domains[:0:0]
		for _, d := range pc.Domains {
			p.Domains = append(p.Domains, strings.ToLower(strings.TrimSpace(d)))
		}
	}
	if pc.Format != "" {
		p.FormatSelector = pc.Format
	}
	if len(pc.Headers) > 0 {
		headers, err := ParseHeaders(pc.Headers)
		if err != nil {
			return err
		}
		p.Headers = headers
	}
	if pc.Delivery != "" {
		d, ok := ParseDelivery(pc.Delivery)
		if !ok {
			return fmt.Errorf("unknown delivery %q", pc.Delivery)
		}
		p.Delivery = d
	}
	if pc.Extractor != "" {
		p.Extractor = strings.ToLower(pc.Extractor)
	}
	return nil
}

// ParseHeaders converts "Name: Value" strings into ordered headers.
func ParseHeaders(lines []string) ([]Header, error) {
	headers := make([]Header, 0, len(lines))
	for _, line := range lines {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed header %q", line)
		}
		headers = append(headers, Header{Name: http.CanonicalHeaderKey(name), Value: strings.TrimSpace(value)})
	}
	return headers, nil
}

// Match returns the first profile whose domains cover sourceURL.
func (t *Table) Match(sourceURL string) (*Profile, error) {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPlatform, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupportedPlatform, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", ErrUnsupportedPlatform)
	}

	registrable, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, host)
	}

	for i := range t.profiles {
		if t.profiles[i].Matches(registrable) {
			p := t.profiles[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, host)
}

// Profiles returns a copy of the profiles in priority order.
func (t *Table) Profiles() []Profile {
	return append([]Profile(nil), t.profiles...)
}

// Names returns profile names in priority order.
func (t *Table) Names() []string {
	names := make([]string, len(t.profiles))
	for i, p := range t.profiles {
		names[i] = p.Name
	}
	return names
}
