package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kkdai/youtube/v2"

	"media-relay-go/internal/config"
	"media-relay-go/internal/platform"
)

// YouTube resolves YouTube videos in-process with the kkdai/youtube client.
// Only numeric itags and the b/best family of selectors are understood;
// profile headers and cookies are not applied since the library speaks to
// the innertube API with its own client identity.
type YouTube struct {
	client *youtube.Client
	logger *slog.Logger
}

// NewYouTube creates a YouTube extractor. Calls are bounded by the resolver
// timeout through the request context.
func NewYouTube(cfg *config.Config, logger *slog.Logger) *YouTube {
	return &YouTube{
		client: &youtube.Client{
			HTTPClient: &http.Client{
				Timeout: time.Duration(cfg.Resolver.TimeoutSeconds) * time.Second,
			},
		},
		logger: logger.With("component", "youtube_extractor"),
	}
}

// Name implements Extractor.
func (y *YouTube) Name() string { return platform.ExtractorYouTube }

// ResolveURL picks a format by selector and returns its deciphered URL.
func (y *YouTube) ResolveURL(ctx context.Context, sourceURL string, opts Options) (string, error) {
	video, err := y.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return "", &ToolError{Tool: "youtube", Err: err}
	}

	format, err := selectFormat(video.Formats, opts.FormatSelector)
	if err != nil {
		return "", &ToolError{Tool: "youtube", Diagnostic: "video " + video.ID, Err: err}
	}

	y.logger.Debug("format selected",
		"video_id", video.ID,
		"itag", format.ItagNo,
		"mime", format.MimeType,
	)

	streamURL, err := y.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return "", &ToolError{Tool: "youtube", Err: err}
	}
	return streamURL, nil
}

// ListFormats renders the video's formats as an aligned text table.
func (y *YouTube) ListFormats(ctx context.Context, sourceURL string, _ Options) (string, error) {
	video, err := y.client.GetVideoContext(ctx, sourceURL)
	if err != nil {
		return "", &ToolError{Tool: "youtube", Err: err}
	}
	return renderFormats(video.ID, video.Title, video.Formats), nil
}

func renderFormats(id, title string, formats youtube.FormatList) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n", id, title)

	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ITAG\tMIME\tQUALITY\tAUDIO\tBITRATE\tSIZE")
	for _, f := range formats {
		audio := "none"
		if f.AudioChannels > 0 {
			audio = strconv.Itoa(f.AudioChannels) + "ch"
		}
		quality := f.QualityLabel
		if quality == "" {
			quality = f.Quality
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n",
			f.ItagNo, f.MimeType, quality, audio, f.Bitrate, f.ContentLength)
	}
	_ = tw.Flush()
	return sb.String()
}

// selectFormat walks "/"-separated alternatives in order and returns the
// first that matches. Numeric alternatives are itags; "b", "best" and
// "b[...]" pick the highest progressive (audio+video) format, restricted to
// mp4 when the filter mentions ext=mp4.
func selectFormat(formats youtube.FormatList, selector string) (*youtube.Format, error) {
	if selector == "" {
		selector = "b"
	}
	for _, alt := range strings.Split(selector, "/") {
		alt = strings.TrimSpace(alt)
		if itag, err := strconv.Atoi(alt); err == nil {
			for i := range formats {
				if formats[i].ItagNo == itag {
					return &formats[i], nil
				}
			}
			continue
		}

		base, filter, _ := strings.Cut(alt, "[")
		if base != "b" && base != "best" {
			continue
		}
		mp4Only := strings.Contains(filter, "ext=mp4")

		var best *youtube.Format
		for i := range formats {
			f := &formats[i]
			if f.AudioChannels == 0 || !strings.HasPrefix(f.MimeType, "video/") {
				continue
			}
			if mp4Only && !strings.HasPrefix(f.MimeType, "video/mp4") {
				continue
			}
			if best == nil || f.Height > best.Height || (f.Height == best.Height && f.Bitrate > best.Bitrate) {
				best = f
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNoFormat, selector)
}
