package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// proxyChunkSize bounds how much of an upstream response is buffered at a
// time while relaying it to the client.
const proxyChunkSize = 64 * 1024

// toolJob describes one external fetch/merge/extract invocation. Output
// is keyed by BaseName inside OutputDir so concurrent jobs never collide
// and artifact discovery is a direct prefix lookup.
type toolJob struct {
	SourceURL string
	FormatID  string
	AudioOnly bool
	Merge     bool
	OutputDir string
	BaseName  string
}

// mediaTools runs the external downloader/muxer. Tests substitute a fake
// that writes files directly.
type mediaTools interface {
	download(ctx context.Context, job toolJob) error
}

// downloadExecutor runs resolved media plans: either relays bytes from
// the remote URL or materializes a local file through the external tool.
// Both modes are admission-gated.
type downloadExecutor struct {
	gate            *concurrencyGate
	janitor         *resourceJanitor
	tools           mediaTools
	client          *http.Client
	tempRoot        string
	transferTimeout time.Duration
}

func newDownloadExecutor(gate *concurrencyGate, janitor *resourceJanitor, tools mediaTools, tempRoot string, connectTimeout, transferTimeout time.Duration) *downloadExecutor {
	return &downloadExecutor{
		gate:    gate,
		janitor: janitor,
		tools:   tools,
		client: &http.Client{
			// The connect timeout is deliberately shorter than the total
			// transfer timeout, which is enforced per request.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		tempRoot:        tempRoot,
		transferTimeout: transferTimeout,
	}
}

// proxyStream relays the remote media to w in bounded chunks. headersSent
// tells the caller whether the response status is already on the wire; a
// failure after that point can only truncate the body, never change the
// status.
func (e *downloadExecutor) proxyStream(ctx context.Context, w http.ResponseWriter, media *ResolvedMedia) (headersSent bool, err error) {
	release, err := e.gate.acquire(ctx)
	if err != nil {
		return false, err
	}
	defer release()

	// ctx is the request context: when the client disconnects the
	// upstream fetch is cancelled with it.
	reqCtx, cancel := context.WithTimeout(ctx, e.transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, media.SourceURL, nil)
	if err != nil {
		return false, &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "bad upstream URL", Err: err}
	}
	req.Header.Set("User-Agent", "savemedia/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return false, &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "upstream fetch failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, &ExecutionError{
			Kind:   ExecutionDownloadFailed,
			Detail: fmt.Sprintf("upstream returned status %d", resp.StatusCode),
		}
	}

	writeDeliveryHeaders(w, media.SuggestedFilename, media.TargetContainer, resp.ContentLength)
	flusher, _ := w.(http.Flusher)

	buf := make([]byte, proxyChunkSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client went away; abort the upstream fetch.
				cancel()
				return true, nil
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return true, nil
			}
			log.Printf("proxy stream truncated for %s: %v", media.FormatID, rerr)
			return true, &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "upstream stream interrupted", Err: rerr}
		}
	}
}

// materialize runs the external tool into a job-scoped temp dir and hands
// the artifact to the janitor. The caller must release the job through
// the janitor once the artifact has been delivered.
func (e *downloadExecutor) materialize(ctx context.Context, media *ResolvedMedia) (Job, error) {
	release, err := e.gate.acquire(ctx)
	if err != nil {
		return Job{}, err
	}
	defer release()

	id := uuid.New().String()
	dir, err := os.MkdirTemp(e.tempRoot, "job-")
	if err != nil {
		return Job{}, &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "temp dir allocation failed", Err: err}
	}

	e.janitor.register(id, dir)
	e.janitor.start(id)

	job := toolJob{
		SourceURL: media.PageURL,
		FormatID:  media.FormatID,
		AudioOnly: media.IsAudioOnly,
		Merge:     media.RequiresLocalMerge && !media.IsAudioOnly,
		OutputDir: dir,
		// The tool names its output after the job id, never the title.
		BaseName: id,
	}

	if err := e.tools.download(ctx, job); err != nil {
		kind := ExecutionDownloadFailed
		if job.Merge {
			kind = ExecutionMergeFailed
		}
		e.janitor.fail(id, err.Error())
		return Job{}, &ExecutionError{Kind: kind, Detail: "external tool failed", Err: err}
	}

	artifact, err := findArtifact(dir, id)
	if err != nil {
		e.janitor.fail(id, err.Error())
		return Job{}, err
	}

	e.janitor.succeed(id, artifact, media.SuggestedFilename, media.TargetContainer)
	done, _ := e.janitor.get(id)
	return done, nil
}

// findArtifact locates the produced file strictly by job-id prefix inside
// the job's own directory. A zero-byte artifact counts as a failure.
func findArtifact(dir, jobID string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "artifact dir unreadable", Err: err}
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), jobID) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			return "", &ExecutionError{Kind: ExecutionDownloadFailed, Detail: "artifact unreadable", Err: err}
		}
		if info.Size() == 0 {
			return "", &ExecutionError{Kind: ExecutionEmpty, Detail: "tool produced an empty file"}
		}
		return path, nil
	}
	return "", &ExecutionError{Kind: ExecutionEmpty, Detail: "tool produced no artifact"}
}

// writeDeliveryHeaders sets the attachment headers for file delivery.
// length < 0 means unknown.
func writeDeliveryHeaders(w http.ResponseWriter, filename, container string, length int64) {
	w.Header().Set("Content-Type", mimeTypeFor(container))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	if length > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	}
}

// ytdlpTools drives yt-dlp (which itself invokes ffmpeg for merge and
// audio extraction) as an external process. Exit code and stderr are the
// only failure signals.
type ytdlpTools struct {
	binary  string
	timeout time.Duration
}

func newYtdlpTools(binary string, timeout time.Duration) *ytdlpTools {
	return &ytdlpTools{binary: binary, timeout: timeout}
}

func (t *ytdlpTools) download(ctx context.Context, job toolJob) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	template := filepath.Join(job.OutputDir, job.BaseName+".%(ext)s")
	args := []string{"--no-warnings", "--no-playlist", "-o", template}

	switch {
	case job.AudioOnly:
		selector := "bestaudio/best"
		if job.FormatID != "" {
			selector = job.FormatID
		}
		args = append(args, "-f", selector, "-x", "--audio-format", "mp3", "--audio-quality", "192K")
	case job.Merge:
		args = append(args, "-f", fmt.Sprintf("%s+bestaudio/best", job.FormatID), "--merge-output-format", "mp4")
	default:
		selector := "best"
		if job.FormatID != "" {
			selector = job.FormatID
		}
		args = append(args, "-f", selector)
	}
	args = append(args, job.SourceURL)

	cmd := exec.CommandContext(ctxTimeout, t.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %v | %s", t.binary, err, firstLine(strings.TrimSpace(stderr.String())))
	}
	return nil
}
