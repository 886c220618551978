package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"media-relay-go/internal/client"
	"media-relay-go/internal/config"
	"media-relay-go/internal/credentials"
	"media-relay-go/internal/extractor"
	"media-relay-go/internal/metrics"
	"media-relay-go/internal/platform"
	"media-relay-go/internal/service"
)

// stubExtractor stands in for yt-dlp.
type stubExtractor struct {
	out     string
	err     error
	listing string
	calls   int
}

func (s *stubExtractor) Name() string { return platform.ExtractorYtDlp }

func (s *stubExtractor) ResolveURL(context.Context, string, extractor.Options) (string, error) {
	s.calls++
	return s.out, s.err
}

func (s *stubExtractor) ListFormats(context.Context, string, extractor.Options) (string, error) {
	s.calls++
	return s.listing, s.err
}

func testConfig() *config.Config {
	return &config.Config{
		Resolver: config.ResolverConfig{TimeoutSeconds: 5},
		Upstream: config.UpstreamConfig{TimeoutSeconds: 5, IdleConnections: 4},
		Relay:    config.RelayConfig{BufferBytes: 256, DefaultContentType: "video/mp4"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newTestServer assembles the full handler stack around a stub extractor.
func newTestServer(t *testing.T, ex extractor.Extractor) *echo.Echo {
	t.Helper()
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	table, err := platform.NewTable(cfg)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	cookies := &credentials.Cookies{}
	resolver, err := service.NewResolver(table, extractor.NewSet(ex), cookies, cfg, logger, m)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	relay := service.NewRelay(client.NewUpstreamClient(cfg, logger, m), cfg, logger, m)

	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger)
	e.Use(echomw.Recover())
	RegisterRoutes(e, cfg, m, NewMediaHandler(resolver, relay, logger), NewHealthHandler(resolver, cookies, "test"))
	return e
}

func videoUpstream(t *testing.T, body []byte) (*httptest.Server, *http.Header) {
	t.Helper()
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.Header().Set("Content-Type", "video/mp4")
		http.ServeContent(w, r, "video.mp4", time.Time{}, strings.NewReader(string(body)))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal %q: %v", rec.Body.String(), err)
	}
	return body["error"]
}

func TestStream_MissingURL(t *testing.T) {
	ex := &stubExtractor{out: "https://cdn.example/video.mp4"}
	e := newTestServer(t, ex)

	for _, path := range []string{"/stream", "/stream?url=", "/stream?mode=json", "/stream?foo=bar"} {
		req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
		req.Header.Set("Range", "bytes=0-10")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, rec.Code)
		}
		if msg := decodeError(t, rec); !strings.Contains(msg, "Missing") {
			t.Errorf("%s: error = %q, want it to mention Missing", path, msg)
		}
	}
	if ex.calls != 0 {
		t.Errorf("extractor called %d times", ex.calls)
	}
}

func TestStream_UnsupportedPlatform(t *testing.T) {
	ex := &stubExtractor{out: "https://cdn.example/video.mp4"}
	e := newTestServer(t, ex)

	for _, src := range []string{
		"https://example.com/unsupported",
		"https://vimeo.com/1",
		"https://youtube.com.evil.example/watch",
	} {
		req := httptest.NewRequest(http.MethodGet, "/stream?url="+src, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", src, rec.Code)
		}
		if msg := decodeError(t, rec); msg != "Unsupported platform" {
			t.Errorf("%s: error = %q", src, msg)
		}
	}
}

func TestStream_FullRelay(t *testing.T) {
	body := []byte(strings.Repeat("v", 1000))
	upstream, seen := videoUpstream(t, body)
	e := newTestServer(t, &stubExtractor{out: upstream.URL + "/video.mp4\n"})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc123", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Errorf("Content-Length = %q", got)
	}
	if rec.Header().Get("Content-Range") != "" {
		t.Error("unexpected Content-Range on a full response")
	}
	if rec.Body.Len() != 1000 {
		t.Errorf("body length = %d, want 1000", rec.Body.Len())
	}
	if ua := seen.Get("User-Agent"); !strings.Contains(ua, "SmartTV") {
		t.Errorf("upstream User-Agent = %q, want the youtube profile agent", ua)
	}
	if seen.Get("X-Youtube-Client-Name") != "55" {
		t.Errorf("upstream X-YouTube-Client-Name = %q", seen.Get("X-Youtube-Client-Name"))
	}
	if seen.Get("Range") != "" {
		t.Errorf("upstream Range = %q, want none", seen.Get("Range"))
	}
}

func TestStream_RangeRelay(t *testing.T) {
	body := []byte(strings.Repeat("0123456789", 100))
	upstream, seen := videoUpstream(t, body)
	e := newTestServer(t, &stubExtractor{out: upstream.URL + "/video.mp4"})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc123", http.NoBody)
	req.Header.Set("Range", "bytes=500-999")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 500-999/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if rec.Body.String() != string(body[500:]) {
		t.Errorf("body mismatch: got %d bytes", rec.Body.Len())
	}
	if seen.Get("Range") != "bytes=500-999" {
		t.Errorf("upstream Range = %q", seen.Get("Range"))
	}
}

func TestStream_DefaultContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("\x00\x00\x00\x18ftypmp42"))
	}))
	defer upstream.Close()
	e := newTestServer(t, &stubExtractor{out: upstream.URL})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://www.youtube.com/watch?v=abc", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q, want video/mp4", got)
	}
}

func TestStream_ResolutionFailure(t *testing.T) {
	hits := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits++ }))
	defer upstream.Close()

	ex := &stubExtractor{err: &extractor.ToolError{
		Tool:       "yt-dlp",
		Diagnostic: "ERROR: [youtube] abc123: Sign in to confirm you're not a bot",
		Err:        errors.New("exit status 1"),
	}}
	e := newTestServer(t, ex)

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc123", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	msg := decodeError(t, rec)
	if !strings.Contains(msg, "Failed to resolve") || !strings.Contains(msg, "Sign in") {
		t.Errorf("error = %q, want resolution failure with diagnostic", msg)
	}
	if rec.Header().Get("Content-Type") == "video/mp4" {
		t.Error("media headers sent on resolution failure")
	}
	if hits != 0 {
		t.Errorf("upstream contacted %d times", hits)
	}
}

func TestStream_EmptyResolution(t *testing.T) {
	e := newTestServer(t, &stubExtractor{out: "  \n"})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc123", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestStream_UpstreamErrorStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer upstream.Close()
	e := newTestServer(t, &stubExtractor{out: upstream.URL})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc123", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "403") {
		t.Errorf("error = %q, want upstream status", msg)
	}
}

func TestStream_UpstreamUnreachable(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()
	e := newTestServer(t, &stubExtractor{out: addr + "/video.mp4"})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc123", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "unreachable") {
		t.Errorf("error = %q", msg)
	}
}

func TestStream_JSONDelivery(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		wantPlatform string
		wantUA       string
	}{
		{"twitter default", "/stream?url=https://x.com/user/status/1", "twitter", "Mozilla/5.0"},
		{"youtube mode override", "/stream?url=https://youtu.be/abc&mode=json", "youtube", "SmartTV"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestServer(t, &stubExtractor{out: "https://video.example/master.m3u8\n"})

			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			var info struct {
				URL      string            `json:"url"`
				Headers  map[string]string `json:"headers"`
				Platform string            `json:"platform"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if info.URL != "https://video.example/master.m3u8" {
				t.Errorf("url = %q", info.URL)
			}
			if info.Platform != tt.wantPlatform {
				t.Errorf("platform = %q, want %q", info.Platform, tt.wantPlatform)
			}
			if !strings.Contains(info.Headers["User-Agent"], tt.wantUA) {
				t.Errorf("headers[User-Agent] = %q, want %q", info.Headers["User-Agent"], tt.wantUA)
			}
		})
	}
}

func TestStream_ModeRelayOverridesJSON(t *testing.T) {
	upstream, _ := videoUpstream(t, []byte("segment"))
	e := newTestServer(t, &stubExtractor{out: upstream.URL + "/seg.ts"})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://x.com/u/status/1&mode=relay", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "segment" {
		t.Errorf("status = %d body = %q, want relayed bytes", rec.Code, rec.Body.String())
	}
}

func TestStream_UnknownMode(t *testing.T) {
	e := newTestServer(t, &stubExtractor{out: "https://cdn.example/v.mp4"})

	req := httptest.NewRequest(http.MethodGet, "/stream?url=https://youtu.be/abc&mode=download", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestStream_Head(t *testing.T) {
	upstream, _ := videoUpstream(t, []byte(strings.Repeat("x", 42)))
	e := newTestServer(t, &stubExtractor{out: upstream.URL + "/v.mp4"})

	req := httptest.NewRequest(http.MethodHead, "/stream?url=https://youtu.be/abc", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Content-Length") != "42" {
		t.Errorf("Content-Length = %q", rec.Header().Get("Content-Length"))
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD body = %d bytes", rec.Body.Len())
	}
}

func TestStream_InterruptedUpstreamAbortsClient(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
		http.NewResponseController(w).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer upstream.Close()

	srv := httptest.NewServer(newTestServer(t, &stubExtractor{out: upstream.URL}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream?url=https://youtu.be/abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatalf("read %d bytes without error, want a truncated body", len(data))
	}
	if len(data) >= 1000 {
		t.Errorf("read %d bytes", len(data))
	}
}

func TestStream_ClientDisconnectClosesUpstream(t *testing.T) {
	upstreamGone := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte(strings.Repeat("a", 512)))
		http.NewResponseController(w).Flush()
		select {
		case <-r.Context().Done():
			close(upstreamGone)
		case <-time.After(10 * time.Second):
		}
	}))
	defer upstream.Close()

	srv := httptest.NewServer(newTestServer(t, &stubExtractor{out: upstream.URL}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream?url=https://youtu.be/abc")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if _, err := io.ReadFull(resp.Body, make([]byte, 100)); err != nil {
		t.Fatalf("reading first bytes: %v", err)
	}
	resp.Body.Close()

	select {
	case <-upstreamGone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request still open after client disconnect")
	}
}

func TestFormats(t *testing.T) {
	ex := &stubExtractor{listing: "ID EXT RESOLUTION\n18 mp4 640x360\n"}
	e := newTestServer(t, ex)

	req := httptest.NewRequest(http.MethodGet, "/formats?url=https://youtu.be/abc", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "640x360") {
		t.Errorf("body = %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/formats", http.NoBody)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", rec.Code)
	}
}

func TestFormats_Failure(t *testing.T) {
	ex := &stubExtractor{err: &extractor.ToolError{Tool: "yt-dlp", Diagnostic: "ERROR: Unsupported URL", Err: errors.New("exit status 1")}}
	e := newTestServer(t, ex)

	req := httptest.NewRequest(http.MethodGet, "/formats?url=https://youtu.be/abc", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.HasPrefix(msg, "Failed to list formats") {
		t.Errorf("error = %q", msg)
	}
}

func TestRoot(t *testing.T) {
	e := newTestServer(t, &stubExtractor{})

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != Liveness {
		t.Errorf("GET / = %d %q", rec.Code, rec.Body.String())
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger)
	e.Use(echomw.Recover())
	e.GET("/boom", func(echo.Context) error { return errors.New("secret internals") })
	e.GET("/panic", func(echo.Context) error { panic("unexpected") })

	tests := []struct {
		path     string
		wantCode int
		wantMsg  string
	}{
		{"/boom", http.StatusInternalServerError, "Internal error"},
		{"/panic", http.StatusInternalServerError, "Internal error"},
		{"/missing", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != tt.wantCode {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.wantCode)
		}
		if msg := decodeError(t, rec); msg != tt.wantMsg {
			t.Errorf("%s: error = %q, want %q", tt.path, msg, tt.wantMsg)
		}
	}
}
