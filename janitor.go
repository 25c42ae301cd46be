package main

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// resourceJanitor owns every materialize job and its temp artifacts. All
// registry mutations happen under one lock: handlers add entries, the
// delivery path removes them, and the sweep removes them concurrently.
type resourceJanitor struct {
	mu   sync.Mutex
	jobs map[string]*Job

	store         *jobStore
	now           func() time.Time
	maxAge        time.Duration
	sweepInterval time.Duration
}

func newResourceJanitor(store *jobStore, maxAge, sweepInterval time.Duration) *resourceJanitor {
	return &resourceJanitor{
		jobs:          make(map[string]*Job),
		store:         store,
		now:           time.Now,
		maxAge:        maxAge,
		sweepInterval: sweepInterval,
	}
}

// register creates a pending job and starts tracking its temp dir.
func (j *resourceJanitor) register(id, tempDir string) *Job {
	job := &Job{
		ID:        id,
		State:     JobPending,
		TempDir:   tempDir,
		CreatedAt: j.now(),
	}
	j.mu.Lock()
	j.jobs[id] = job
	j.mu.Unlock()
	j.persist(job)
	return job
}

func (j *resourceJanitor) start(id string) {
	j.transition(id, JobRunning, func(job *Job) {})
}

func (j *resourceJanitor) succeed(id, artifactPath, filename, container string) {
	j.transition(id, JobSucceeded, func(job *Job) {
		job.ArtifactPath = artifactPath
		job.Filename = filename
		job.Container = container
		job.CompletedAt = j.now()
	})
}

func (j *resourceJanitor) fail(id, reason string) {
	var tempDir string
	j.transition(id, JobFailed, func(job *Job) {
		job.Error = reason
		job.CompletedAt = j.now()
		tempDir = job.TempDir
	})
	// Partial artifacts never outlive a failure.
	removeArtifacts(tempDir)
}

// transition applies a one-directional state change. Terminal states are
// final; a late transition on a swept or finished job is ignored.
func (j *resourceJanitor) transition(id string, state JobState, apply func(*Job)) {
	j.mu.Lock()
	job, ok := j.jobs[id]
	if !ok || job.State.terminal() {
		j.mu.Unlock()
		return
	}
	job.State = state
	apply(job)
	snapshot := *job
	j.mu.Unlock()
	j.persist(&snapshot)
}

// get returns a copy so callers never hold a reference into the registry.
func (j *resourceJanitor) get(id string) (Job, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// release drops the job and deletes its artifacts. Called after the
// artifact has been fully sent, or to discard a job early. Idempotent:
// releasing an unknown or already-released id is a no-op.
func (j *resourceJanitor) release(id string) {
	j.mu.Lock()
	job, ok := j.jobs[id]
	if ok {
		delete(j.jobs, id)
	}
	j.mu.Unlock()
	if !ok {
		return
	}
	removeArtifacts(job.TempDir)
	if j.store != nil {
		j.store.delete(context.Background(), id)
	}
}

// run sweeps the registry until the context ends. The sweep is the
// backstop for clients that disconnect mid-transfer and never trigger the
// normal release: any job past maxAge is force-cleaned regardless of
// state.
func (j *resourceJanitor) run(ctx context.Context) {
	ticker := time.NewTicker(j.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			j.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (j *resourceJanitor) sweep() {
	cutoff := j.now().Add(-j.maxAge)

	j.mu.Lock()
	var expired []*Job
	for id, job := range j.jobs {
		if job.CreatedAt.Before(cutoff) {
			expired = append(expired, job)
			delete(j.jobs, id)
		}
	}
	j.mu.Unlock()

	for _, job := range expired {
		log.Printf("janitor: sweeping job %s (state=%s, age>%s)", job.ID, job.State, j.maxAge)
		removeArtifacts(job.TempDir)
		if j.store != nil {
			j.store.delete(context.Background(), job.ID)
		}
	}
}

// tracked reports how many jobs are currently registered.
func (j *resourceJanitor) tracked() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.jobs)
}

func (j *resourceJanitor) persist(job *Job) {
	if j.store == nil {
		return
	}
	if err := j.store.save(context.Background(), job); err != nil {
		log.Printf("janitor: persisting job %s failed: %v", job.ID, err)
	}
}

// removeArtifacts deletes a job's temp dir. Double-deletes are fine; the
// sweep and the delivery path can race on the same job.
func removeArtifacts(tempDir string) {
	if tempDir == "" {
		return
	}
	if err := os.RemoveAll(tempDir); err != nil && !os.IsNotExist(err) {
		log.Printf("janitor: removing %s failed: %v", tempDir, err)
	}
}
