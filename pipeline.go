package main

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// maxFilenameTitleLen bounds the title portion of suggested filenames.
const maxFilenameTitleLen = 80

// resolutionPipeline builds a catalog, runs selection and shapes the
// result into a ResolvedMedia. One extractor call per resolve, no other
// side effects.
type resolutionPipeline struct {
	extractor Extractor
}

func newResolutionPipeline(extractor Extractor) *resolutionPipeline {
	return &resolutionPipeline{extractor: extractor}
}

// resolve maps selection failures to upstream resolution errors so the
// handler boundary sees a single taxonomy. requestID keeps filenames
// unique across concurrent requests for the same title.
func (p *resolutionPipeline) resolve(ctx context.Context, sourceURL, requestID string, req SelectionRequest) (*ResolvedMedia, error) {
	catalog, err := p.extractor.Extract(ctx, sourceURL)
	if err != nil {
		return nil, err
	}
	return resolveFromCatalog(catalog, requestID, req)
}

// resolveFromCatalog is the pure part of resolve: deterministic for a
// fixed catalog, request and request id.
func resolveFromCatalog(catalog *FormatCatalog, requestID string, req SelectionRequest) (*ResolvedMedia, error) {
	sel, err := selectFormat(catalog, req)
	if err != nil {
		return nil, err
	}

	f := sel.Format
	audioOnly := !f.HasVideo() && f.HasAudio()

	container := f.Container
	requiresLocalMerge := sel.RequiresLocalMerge
	switch {
	case requiresLocalMerge:
		// Separate video and audio tracks get muxed into mp4 locally.
		container = "mp4"
	case audioOnly && container != "mp3":
		// Audio tracks are normalized to mp3 for delivery, which needs a
		// local extraction pass.
		container = "mp3"
		requiresLocalMerge = true
	}

	return &ResolvedMedia{
		SourceURL:           f.URL,
		PageURL:             catalog.SourceURL,
		FormatID:            f.ID,
		TargetContainer:     container,
		SuggestedFilename:   buildFilename(catalog.Title, requestID, container),
		EstimatedSizeBytes:  f.SizeBytes,
		RequiresLocalMerge:  requiresLocalMerge,
		IsAudioOnly:         audioOnly,
		FragmentedFallback:  sel.FragmentedFallback,
		LikelyStreamsInline: likelyStreamsInline(container, requiresLocalMerge),
		Title:               catalog.Title,
	}, nil
}

// likelyStreamsInline reports whether a browser following the direct URL
// would probably play the media instead of saving it. The HTTP layer
// decides what to do with that; the pipeline only reports it.
func likelyStreamsInline(container string, requiresLocalMerge bool) bool {
	if requiresLocalMerge {
		return false
	}
	switch container {
	case "mp4", "webm", "m4a", "mp3", "ogg":
		return true
	}
	return false
}

// buildFilename sanitizes the catalog title and appends a request id so
// concurrent requests for the same title never collide.
func buildFilename(title, requestID, ext string) string {
	base := sanitizeTitle(title)
	if base == "" {
		base = "media"
	}
	if len(requestID) > 8 {
		requestID = requestID[:8]
	}
	return fmt.Sprintf("%s-%s.%s", base, requestID, ext)
}

// sanitizeTitle strips path separators and control characters and bounds
// the length. The result is safe for Content-Disposition and for local
// paths.
func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '"':
			b.WriteRune('_')
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	runes := []rune(out)
	if len(runes) > maxFilenameTitleLen {
		out = strings.TrimSpace(string(runes[:maxFilenameTitleLen]))
	}
	return out
}

// mimeTypeFor maps a container to the Content-Type sent on delivery.
func mimeTypeFor(container string) string {
	switch container {
	case "mp4", "m4v":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mp3":
		return "audio/mpeg"
	case "m4a":
		return "audio/mp4"
	case "ogg", "opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
