package main

import "time"

// FormatDescriptor is one normalized row from the extractor's format list.
// Descriptors are immutable once a catalog is built.
type FormatDescriptor struct {
	ID         string  `json:"format_id"`
	Container  string  `json:"ext"`
	VideoCodec string  `json:"vcodec"`
	AudioCodec string  `json:"acodec"`
	Height     int     `json:"height,omitempty"`
	Bitrate    float64 `json:"abr,omitempty"`
	SizeBytes  int64   `json:"filesize,omitempty"`
	Fragmented bool    `json:"fragmented"`
	Note       string  `json:"format_note,omitempty"`
	URL        string  `json:"-"`
}

// HasVideo reports whether the descriptor carries a video track.
func (f FormatDescriptor) HasVideo() bool { return f.VideoCodec != "none" }

// HasAudio reports whether the descriptor carries an audio track.
func (f FormatDescriptor) HasAudio() bool { return f.AudioCodec != "none" }

// FormatCatalog holds everything the extractor returned for one source URL.
// Built per request and discarded with the response; never cached or shared.
type FormatCatalog struct {
	SourceURL       string
	Title           string
	Uploader        string
	DurationSeconds float64
	ThumbnailURL    string
	Formats         []FormatDescriptor
}

// SelectionRequest narrows the catalog down to a single format.
type SelectionRequest struct {
	ExplicitFormatID string
	WantAudioOnly    bool
	MaxHeight        int // 0 = no cap
}

// Selection is the chosen descriptor plus the flags the pipeline needs.
type Selection struct {
	Format FormatDescriptor
	// RequiresLocalMerge is set when the chosen format has no audio track
	// and a local mux pass is needed before delivery.
	RequiresLocalMerge bool
	// FragmentedFallback is set when only a chunked/manifest format was
	// left. Such formats do not resolve to a single fetchable URL, so
	// direct linking may not work.
	FragmentedFallback bool
}

// ResolvedMedia is the pipeline's output, consumed exactly once by the
// download executor.
type ResolvedMedia struct {
	// SourceURL is the direct URL of the chosen format. PageURL is the
	// original page, which the external tool needs for merge and
	// extraction runs.
	SourceURL           string `json:"source_url"`
	PageURL             string `json:"-"`
	FormatID            string `json:"format_id"`
	TargetContainer     string `json:"container"`
	SuggestedFilename   string `json:"filename"`
	EstimatedSizeBytes  int64  `json:"estimated_size_bytes,omitempty"`
	RequiresLocalMerge  bool   `json:"requires_local_merge"`
	IsAudioOnly         bool   `json:"is_audio_only"`
	FragmentedFallback  bool   `json:"fragmented_fallback"`
	LikelyStreamsInline bool   `json:"likely_streams_inline"`
	Title               string `json:"title"`
}

// JobState tracks a materialize job. Transitions are one-directional:
// pending -> running -> succeeded | failed. Terminal states are final.
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

func (s JobState) terminal() bool { return s == JobSucceeded || s == JobFailed }

// Job is one unit of local materialize work. The janitor owns the job for
// its whole lifetime; nothing else mutates it.
type Job struct {
	ID           string    `json:"id"`
	State        JobState  `json:"state"`
	TempDir      string    `json:"-"`
	ArtifactPath string    `json:"-"`
	Filename     string    `json:"filename,omitempty"`
	Container    string    `json:"container,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Error        string    `json:"error,omitempty"`
}
