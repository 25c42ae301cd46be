package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// supportedPlatforms gates which hosts the service will resolve at all.
var supportedPlatforms = []string{
	"youtube.com", "youtu.be", "facebook.com", "fb.watch",
	"instagram.com", "tiktok.com", "twitter.com", "x.com",
	"dailymotion.com", "vimeo.com",
}

// server wires every component together. It is built once in main and
// passed to the handlers; there is no package-level mutable state.
type server struct {
	cfg      config
	pipeline *resolutionPipeline
	executor *downloadExecutor
	janitor  *resourceJanitor
	store    *jobStore
	limiter  *clientLimiter

	startedAt time.Time
	metrics   serverMetrics
}

type downloadRequest struct {
	URL       string `json:"url"`
	FormatID  string `json:"format_id,omitempty"`
	Mode      string `json:"mode,omitempty"` // json | redirect | proxy
	AudioOnly bool   `json:"audio_only,omitempty"`
	MaxHeight int    `json:"max_height,omitempty"`
}

type infoRequest struct {
	URL string `json:"url"`
}

type formatSummary struct {
	FormatID   string `json:"format_id"`
	Ext        string `json:"ext"`
	Quality    string `json:"quality"`
	Filesize   string `json:"filesize"`
	Note       string `json:"format_note,omitempty"`
	VideoCodec string `json:"vcodec"`
	AudioCodec string `json:"acodec"`
	Fragmented bool   `json:"fragmented"`
}

type infoResponse struct {
	Title     string          `json:"title"`
	Uploader  string          `json:"uploader"`
	Duration  string          `json:"duration"`
	Thumbnail string          `json:"thumbnail"`
	Formats   []formatSummary `json:"formats"`
}

// handleInfo returns the catalog summary and selectable formats for a
// URL. Metadata lookups are not admission-gated; only downloads are.
func (s *server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req infoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	if !supportedURL(url) {
		s.writeError(w, url, &ResolutionError{Kind: ResolutionUnsupported, Detail: "platform not supported"})
		return
	}

	catalog, err := s.pipeline.extractor.Extract(r.Context(), url)
	if err != nil {
		s.writeError(w, url, err)
		return
	}

	resp := infoResponse{
		Title:     catalog.Title,
		Uploader:  catalog.Uploader,
		Duration:  formatDuration(catalog.DurationSeconds),
		Thumbnail: catalog.ThumbnailURL,
		Formats:   make([]formatSummary, 0, len(catalog.Formats)),
	}
	for _, f := range catalog.Formats {
		if !f.HasVideo() && !f.HasAudio() {
			continue
		}
		resp.Formats = append(resp.Formats, formatSummary{
			FormatID:   f.ID,
			Ext:        f.Container,
			Quality:    qualityLabel(f),
			Filesize:   sizeLabel(f.SizeBytes),
			Note:       f.Note,
			VideoCodec: f.VideoCodec,
			AudioCodec: f.AudioCodec,
			Fragmented: f.Fragmented,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDownload resolves the URL and delivers the media according to
// mode: a JSON descriptor, a redirect to the direct URL, or a proxied
// byte stream (the default).
func (s *server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := parseDownloadRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !supportedURL(req.URL) {
		s.writeError(w, req.URL, &ResolutionError{Kind: ResolutionUnsupported, Detail: "platform not supported"})
		return
	}

	selReq := SelectionRequest{
		ExplicitFormatID: req.FormatID,
		WantAudioOnly:    req.AudioOnly,
		MaxHeight:        req.MaxHeight,
	}
	// "bestaudio" is a selector keyword, not a catalog id.
	if req.FormatID == "bestaudio" {
		selReq.ExplicitFormatID = ""
		selReq.WantAudioOnly = true
	}

	requestID := uuid.New().String()
	media, err := s.pipeline.resolve(r.Context(), req.URL, requestID, selReq)
	if err != nil {
		s.writeError(w, req.URL, err)
		return
	}

	switch req.Mode {
	case "json":
		writeJSON(w, http.StatusOK, media)
	case "redirect":
		// Merged and fragmented selections have no single fetchable URL;
		// hand back the descriptor and let the client pick another mode.
		if media.RequiresLocalMerge || media.FragmentedFallback {
			writeJSON(w, http.StatusOK, media)
			return
		}
		http.Redirect(w, r, media.SourceURL, http.StatusFound)
	default:
		s.deliver(w, r, media)
	}
}

// deliver sends the bytes: a local materialize run when a merge or audio
// extraction is needed (or the format only exists behind a manifest),
// otherwise a straight proxy of the remote URL.
func (s *server) deliver(w http.ResponseWriter, r *http.Request, media *ResolvedMedia) {
	atomic.AddInt64(&s.metrics.active, 1)
	defer atomic.AddInt64(&s.metrics.active, -1)

	if media.RequiresLocalMerge || media.FragmentedFallback {
		job, err := s.executor.materialize(r.Context(), media)
		if err != nil {
			atomic.AddInt64(&s.metrics.failed, 1)
			s.writeError(w, media.PageURL, err)
			return
		}
		// Artifacts are deleted after the body is fully written, not
		// before. The sweep covers clients that disconnect mid-copy.
		defer s.janitor.release(job.ID)
		if err := s.serveArtifact(w, job); err != nil {
			atomic.AddInt64(&s.metrics.failed, 1)
			log.Printf("artifact delivery for job %s interrupted: %v", job.ID, err)
			return
		}
		atomic.AddInt64(&s.metrics.completed, 1)
		return
	}

	headersSent, err := s.executor.proxyStream(r.Context(), w, media)
	if err != nil {
		atomic.AddInt64(&s.metrics.failed, 1)
		if !headersSent {
			s.writeError(w, media.PageURL, err)
		}
		// After headers the status is already on the wire; the client
		// sees a truncated body.
		return
	}
	atomic.AddInt64(&s.metrics.completed, 1)
}

func (s *server) serveArtifact(w http.ResponseWriter, job Job) error {
	file, err := os.Open(job.ArtifactPath)
	if err != nil {
		s.writeError(w, job.ID, &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "artifact unavailable", Err: err})
		return nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		s.writeError(w, job.ID, &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "artifact unavailable", Err: err})
		return nil
	}

	writeDeliveryHeaders(w, job.Filename, job.Container, info.Size())
	_, err = io.Copy(w, file)
	return err
}

// handleStatus reports a materialize job's state.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := filepath.Base(r.URL.Path)
	if jobID == "" || jobID == "." {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}

	job, ok := s.janitor.get(jobID)
	if !ok {
		job, ok = s.store.get(r.Context(), jobID)
	}
	if !ok {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleDelete discards a job and its artifacts ahead of the sweep.
func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID := filepath.Base(r.URL.Path)
	if jobID == "" || jobID == "." {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	s.janitor.release(jobID)
	s.store.delete(r.Context(), jobID)
	writeJSON(w, http.StatusOK, map[string]string{"deleted": jobID})
}

func parseDownloadRequest(r *http.Request) (downloadRequest, error) {
	var req downloadRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON")
		}
	} else {
		q := r.URL.Query()
		req.URL = q.Get("url")
		req.FormatID = q.Get("format_id")
		req.Mode = q.Get("mode")
		req.AudioOnly = q.Get("audio_only") == "true"
		if h := q.Get("max_height"); h != "" {
			fmt.Sscanf(h, "%d", &req.MaxHeight)
		}
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return req, fmt.Errorf("url is required")
	}
	return req, nil
}

// writeError maps the error taxonomy to HTTP statuses at the handler
// boundary. Internal detail is logged with the originating URL and never
// echoed to the client.
func (s *server) writeError(w http.ResponseWriter, sourceURL string, err error) {
	var (
		selErr  *SelectionError
		resErr  *ResolutionError
		execErr *ExecutionError
		admErr  *AdmissionError
		rateErr *RateLimitError
	)

	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.As(err, &selErr):
		message = selErr.Error()
		if selErr.Kind == SelectionNotFound {
			status = http.StatusNotFound
		} else {
			status = http.StatusUnprocessableEntity
		}
	case errors.As(err, &resErr):
		message = resErr.Detail
		if resErr.Kind == ResolutionUnsupported {
			status = http.StatusBadRequest
		} else {
			status = http.StatusBadGateway
		}
	case errors.As(err, &execErr):
		message = "download processing failed"
		status = http.StatusInternalServerError
	case errors.As(err, &admErr):
		message = "server busy, retry later"
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", "10")
	case errors.As(err, &rateErr):
		message = "rate limit exceeded"
		status = http.StatusTooManyRequests
	}

	log.Printf("request failed (%d) for %s: %v", status, sourceURL, err)
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func supportedURL(url string) bool {
	lower := strings.ToLower(url)
	for _, platform := range supportedPlatforms {
		if strings.Contains(lower, platform) {
			return true
		}
	}
	return false
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "unknown"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func qualityLabel(f FormatDescriptor) string {
	switch {
	case f.Height > 0:
		return fmt.Sprintf("%dp", f.Height)
	case f.Note != "":
		return f.Note
	case !f.HasVideo() && f.HasAudio():
		return "Audio Only"
	default:
		return strings.ToUpper(f.Container)
	}
}

func sizeLabel(bytes int64) string {
	if bytes <= 0 {
		return "unknown"
	}
	size := float64(bytes)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024.0 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024.0
	}
	return fmt.Sprintf("%.1f TB", size)
}
