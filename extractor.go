package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Extractor turns a source URL into a format catalog. The production
// implementation shells out to yt-dlp; tests substitute a fixture.
type Extractor interface {
	Extract(ctx context.Context, sourceURL string) (*FormatCatalog, error)
}

type ytdlpExtractor struct {
	binary  string
	timeout time.Duration
}

func newYtdlpExtractor(binary string, timeout time.Duration) *ytdlpExtractor {
	return &ytdlpExtractor{binary: binary, timeout: timeout}
}

// Raw shapes matching yt-dlp -J output.
type ytdlpFormat struct {
	FormatID   string  `json:"format_id"`
	Ext        string  `json:"ext"`
	VCodec     string  `json:"vcodec"`
	ACodec     string  `json:"acodec"`
	Height     int     `json:"height"`
	ABR        float64 `json:"abr"`
	Filesize   int64   `json:"filesize"`
	FilesizeA  int64   `json:"filesize_approx"`
	Protocol   string  `json:"protocol"`
	FormatNote string  `json:"format_note"`
	URL        string  `json:"url"`
}

type ytdlpInfo struct {
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Duration  float64       `json:"duration"`
	Thumbnail string        `json:"thumbnail"`
	Formats   []ytdlpFormat `json:"formats"`
}

func (e *ytdlpExtractor) Extract(ctx context.Context, sourceURL string) (*FormatCatalog, error) {
	ctxTimeout, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctxTimeout, e.binary, "-J", "--no-warnings", "--skip-download", sourceURL)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, classifyExtractFailure(err, strings.TrimSpace(stderr.String()))
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, &ResolutionError{
			Kind:   ResolutionUpstream,
			Detail: "extractor output could not be parsed",
			Err:    err,
		}
	}

	return buildCatalog(sourceURL, &info), nil
}

// buildCatalog normalizes raw extractor rows into immutable descriptors.
// Rows without a URL cannot be fetched at all and are dropped here.
func buildCatalog(sourceURL string, info *ytdlpInfo) *FormatCatalog {
	catalog := &FormatCatalog{
		SourceURL:       sourceURL,
		Title:           info.Title,
		Uploader:        info.Uploader,
		DurationSeconds: info.Duration,
		ThumbnailURL:    info.Thumbnail,
	}
	for _, f := range info.Formats {
		if f.URL == "" {
			continue
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeA
		}
		catalog.Formats = append(catalog.Formats, FormatDescriptor{
			ID:         f.FormatID,
			Container:  f.Ext,
			VideoCodec: normalizeCodec(f.VCodec),
			AudioCodec: normalizeCodec(f.ACodec),
			Height:     f.Height,
			Bitrate:    f.ABR,
			SizeBytes:  size,
			Fragmented: isFragmented(f),
			Note:       f.FormatNote,
			URL:        f.URL,
		})
	}
	return catalog
}

// normalizeCodec maps yt-dlp's empty string (unknown, usually absent) to
// the explicit "none" the selector filters on.
func normalizeCodec(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

// isFragmented flags chunked/manifest transports. The protocol field is
// the reliable signal; the note and URL checks cover extractors that leave
// it blank.
func isFragmented(f ytdlpFormat) bool {
	p := strings.ToLower(f.Protocol)
	if strings.Contains(p, "m3u8") || strings.Contains(p, "hls") || strings.Contains(p, "dash") {
		return true
	}
	if strings.Contains(strings.ToLower(f.FormatNote), "hls") {
		return true
	}
	u := strings.ToLower(f.URL)
	return strings.Contains(u, "m3u8") || strings.Contains(u, "/manifest/")
}

func classifyExtractFailure(err error, stderr string) error {
	detail := stderr
	if detail == "" {
		detail = err.Error()
	}
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "unsupported url"):
		return &ResolutionError{Kind: ResolutionUnsupported, Detail: "platform not supported", Err: err}
	case strings.Contains(lower, "private video"), strings.Contains(lower, "sign in"):
		return &ResolutionError{Kind: ResolutionUpstream, Detail: "media is private or restricted", Err: err}
	default:
		return &ResolutionError{
			Kind:   ResolutionUpstream,
			Detail: fmt.Sprintf("extractor failed: %s", firstLine(detail)),
			Err:    err,
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
