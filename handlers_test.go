package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, ext Extractor, tools mediaTools) *server {
	t.Helper()
	store := newJobStore(context.Background(),"", "", 0, time.Hour)
	janitor := newResourceJanitor(store, 10*time.Minute, time.Minute)
	gate := newConcurrencyGate(2, 200*time.Millisecond)
	cfg := loadConfig()
	return &server{
		cfg:       cfg,
		pipeline:  newResolutionPipeline(ext),
		executor:  newDownloadExecutor(gate, janitor, tools, t.TempDir(), time.Second, 5*time.Second),
		janitor:   janitor,
		store:     store,
		limiter:   newClientLimiter(1000, 64),
		startedAt: time.Now(),
	}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleInfo(t *testing.T) {
	ext := &fakeExtractor{catalog: &FormatCatalog{
		SourceURL:       "https://youtube.com/watch?v=abc",
		Title:           "Test Video",
		Uploader:        "Tester",
		DurationSeconds: 125,
		Formats:         []FormatDescriptor{muxed("22", 720), audioOnly("a128", 128)},
	}}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleInfo, "/api/info", `{"url":"https://youtube.com/watch?v=abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp infoResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Title != "Test Video" || resp.Duration != "2:05" {
		t.Errorf("summary = %+v", resp)
	}
	if len(resp.Formats) != 2 {
		t.Fatalf("got %d formats, want 2", len(resp.Formats))
	}
	if resp.Formats[0].Quality != "720p" {
		t.Errorf("quality = %s, want 720p", resp.Formats[0].Quality)
	}
	if resp.Formats[1].Quality != "Audio Only" {
		t.Errorf("quality = %s, want Audio Only", resp.Formats[1].Quality)
	}
}

func TestHandleInfoRejectsUnsupportedPlatform(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	rec := postJSON(t, s.handleInfo, "/api/info", `{"url":"https://example.org/video"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleInfoMissingURL(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	rec := postJSON(t, s.handleInfo, "/api/info", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDownloadJSONMode(t *testing.T) {
	ext := &fakeExtractor{catalog: testCatalog(muxed("22", 720))}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc","mode":"json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var media ResolvedMedia
	if err := json.Unmarshal(rec.Body.Bytes(), &media); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if media.FormatID != "22" || media.RequiresLocalMerge {
		t.Errorf("media = %+v", media)
	}
	if !strings.HasSuffix(media.SuggestedFilename, ".mp4") {
		t.Errorf("filename = %s", media.SuggestedFilename)
	}
}

func TestHandleDownloadRedirectMode(t *testing.T) {
	ext := &fakeExtractor{catalog: testCatalog(muxed("22", 720))}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc","mode":"redirect"}`)
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://cdn/22" {
		t.Errorf("Location = %s", loc)
	}
}

func TestHandleDownloadRedirectFallsBackToDescriptor(t *testing.T) {
	// A merge-needing selection has no single fetchable URL to redirect
	// to; the handler returns the descriptor instead.
	ext := &fakeExtractor{catalog: testCatalog(videoOnly("vo-1080", 1080))}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc","mode":"redirect"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var media ResolvedMedia
	if err := json.Unmarshal(rec.Body.Bytes(), &media); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !media.RequiresLocalMerge {
		t.Error("descriptor should flag the merge requirement")
	}
}

func TestHandleDownloadProxyMode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("media-bytes"))
	}))
	defer upstream.Close()

	f := muxed("22", 720)
	f.URL = upstream.URL
	ext := &fakeExtractor{catalog: testCatalog(f)}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "media-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("Content-Disposition = %s", cd)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Errorf("Cache-Control = %s", cc)
	}
}

func TestHandleDownloadMaterializeAndCleanup(t *testing.T) {
	ext := &fakeExtractor{catalog: testCatalog(videoOnly("vo-1080", 1080))}
	tools := &fakeTools{artifactLen: 256}
	s := newTestServer(t, ext, tools)

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.Len() != 256 {
		t.Errorf("body = %d bytes, want 256", rec.Body.Len())
	}
	// The artifact was deleted after delivery, on the response close.
	if got := s.janitor.tracked(); got != 0 {
		t.Errorf("janitor still tracks %d jobs after delivery", got)
	}
}

func TestHandleDownloadUnknownFormatID(t *testing.T) {
	ext := &fakeExtractor{catalog: testCatalog(muxed("22", 720))}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc","format_id":"999","mode":"json"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDownloadUpstreamFailure(t *testing.T) {
	ext := &fakeExtractor{err: &ResolutionError{Kind: ResolutionUpstream, Detail: "extractor failed"}}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc","mode":"json"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "stack") {
		t.Error("internal detail leaked to client")
	}
}

func TestHandleDownloadBestAudioKeyword(t *testing.T) {
	ext := &fakeExtractor{catalog: testCatalog(muxed("22", 720), audioOnly("a320", 320))}
	s := newTestServer(t, ext, &fakeTools{})

	rec := postJSON(t, s.handleDownload, "/api/download",
		`{"url":"https://youtube.com/watch?v=abc","format_id":"bestaudio","mode":"json"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var media ResolvedMedia
	json.Unmarshal(rec.Body.Bytes(), &media)
	if media.FormatID != "a320" || !media.IsAudioOnly {
		t.Errorf("media = %+v, want the a320 audio track", media)
	}
}

func TestHandleStatusNotFound(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	req := httptest.NewRequest(http.MethodGet, "/api/status/nope", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHandleStatusTracksJob(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	s.janitor.register("job1", "")
	s.janitor.start("job1")

	req := httptest.NewRequest(http.MethodGet, "/api/status/job1", nil)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var job Job
	if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.State != JobRunning {
		t.Errorf("state = %s, want running", job.State)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	s.limiter = newClientLimiter(1, 8) // one request per minute

	handler := s.withMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/info", nil)
	req.RemoteAddr = "9.9.9.9:1234"

	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: %d, want 429", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	handler := s.withMiddleware(s.handleDownload)

	req := httptest.NewRequest(http.MethodOptions, "/api/download", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
}

func TestHandleDelete(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	s.janitor.register("job1", "")

	req := httptest.NewRequest(http.MethodDelete, "/api/delete/job1", nil)
	rec := httptest.NewRecorder()
	s.handleDelete(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := s.janitor.get("job1"); ok {
		t.Error("job survived delete")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeExtractor{}, &fakeTools{})
	req := httptest.NewRequest(http.MethodPut, "/api/info", nil)
	rec := httptest.NewRecorder()
	s.handleInfo(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
