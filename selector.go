package main

import "fmt"

// selectFormat picks one format from the catalog. Priority order, first
// non-empty group wins:
//
//  1. explicit format id (authoritative, exact match or NotFound)
//  2. audio-only request: non-fragmented audio-only tracks by bitrate
//  3. video request: progressive muxed, non-fragmented, under the height
//     cap, by height
//  4. fallback: video-only tracks, still non-fragmented; needs a local
//     merge pass when the pick has no audio
//  5. last resort: fragmented formats, flagged so the caller knows a
//     direct link may not resolve
//
// Ties always break toward the earlier catalog entry: the extractor emits
// formats in relevance order and that order must survive selection.
func selectFormat(catalog *FormatCatalog, req SelectionRequest) (Selection, error) {
	formats := catalog.Formats

	if req.ExplicitFormatID != "" {
		for _, f := range formats {
			if f.ID == req.ExplicitFormatID {
				return Selection{
					Format:             f,
					RequiresLocalMerge: f.HasVideo() && !f.HasAudio(),
					FragmentedFallback: f.Fragmented,
				}, nil
			}
		}
		return Selection{}, &SelectionError{
			Kind:   SelectionNotFound,
			Detail: fmt.Sprintf("format %q not in catalog", req.ExplicitFormatID),
		}
	}

	if len(formats) == 0 {
		return Selection{}, &SelectionError{
			Kind:   SelectionNoPlayableFormat,
			Detail: "catalog is empty",
		}
	}

	if req.WantAudioOnly {
		return selectAudio(formats)
	}
	return selectVideo(formats, req.MaxHeight)
}

func selectAudio(formats []FormatDescriptor) (Selection, error) {
	if best, ok := pickMaxBitrate(formats, func(f FormatDescriptor) bool {
		return !f.HasVideo() && f.HasAudio() && !f.Fragmented
	}); ok {
		return Selection{Format: best}, nil
	}

	// Last resort: fragmented audio.
	if best, ok := pickMaxBitrate(formats, func(f FormatDescriptor) bool {
		return !f.HasVideo() && f.HasAudio()
	}); ok {
		return Selection{Format: best, FragmentedFallback: true}, nil
	}

	return Selection{}, &SelectionError{
		Kind:   SelectionNoPlayableFormat,
		Detail: "no audio tracks in catalog",
	}
}

func selectVideo(formats []FormatDescriptor, maxHeight int) (Selection, error) {
	underCap := func(f FormatDescriptor) bool {
		// Unknown height passes the cap; the extractor sometimes omits it.
		return maxHeight == 0 || f.Height == 0 || f.Height <= maxHeight
	}

	// Progressive muxed first: no merge step, one fetchable URL.
	if best, ok := pickMaxHeight(formats, func(f FormatDescriptor) bool {
		return f.HasVideo() && f.HasAudio() && !f.Fragmented && underCap(f)
	}); ok {
		return Selection{Format: best}, nil
	}

	// Video-only next; delivery needs a local merge with a separate audio
	// track.
	if best, ok := pickMaxHeight(formats, func(f FormatDescriptor) bool {
		return f.HasVideo() && !f.Fragmented && underCap(f)
	}); ok {
		return Selection{Format: best, RequiresLocalMerge: !best.HasAudio()}, nil
	}

	// Last resort: fragmented/manifest formats.
	if best, ok := pickMaxHeight(formats, func(f FormatDescriptor) bool {
		return f.HasVideo() && underCap(f)
	}); ok {
		return Selection{
			Format:             best,
			RequiresLocalMerge: !best.HasAudio(),
			FragmentedFallback: true,
		}, nil
	}

	return Selection{}, &SelectionError{
		Kind:   SelectionNoPlayableFormat,
		Detail: "no playable video formats in catalog",
	}
}

// pickMaxHeight returns the first format with the greatest height among
// those matching the filter. Strict greater-than keeps the earlier catalog
// entry on ties.
func pickMaxHeight(formats []FormatDescriptor, match func(FormatDescriptor) bool) (FormatDescriptor, bool) {
	var best FormatDescriptor
	found := false
	for _, f := range formats {
		if !match(f) {
			continue
		}
		if !found || f.Height > best.Height {
			best = f
			found = true
		}
	}
	return best, found
}

func pickMaxBitrate(formats []FormatDescriptor, match func(FormatDescriptor) bool) (FormatDescriptor, bool) {
	var best FormatDescriptor
	found := false
	for _, f := range formats {
		if !match(f) {
			continue
		}
		if !found || f.Bitrate > best.Bitrate {
			best = f
			found = true
		}
	}
	return best, found
}
