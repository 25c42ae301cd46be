package main

import (
	"net/http"
	"sync/atomic"
	"time"
)

type serverMetrics struct {
	active    int64
	completed int64
	failed    int64
}

type healthStatus struct {
	Status          string `json:"status"`
	ActiveDownloads int64  `json:"active_downloads"`
	CompletedJobs   int64  `json:"completed_jobs"`
	FailedJobs      int64  `json:"failed_jobs"`
	TrackedJobs     int    `json:"tracked_jobs"`
	Uptime          string `json:"uptime"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if atomic.LoadInt64(&s.metrics.active) >= int64(s.cfg.GateCapacity) {
		status = "overloaded"
	}
	writeJSON(w, http.StatusOK, healthStatus{
		Status:          status,
		ActiveDownloads: atomic.LoadInt64(&s.metrics.active),
		CompletedJobs:   atomic.LoadInt64(&s.metrics.completed),
		FailedJobs:      atomic.LoadInt64(&s.metrics.failed),
		TrackedJobs:     s.janitor.tracked(),
		Uptime:          time.Since(s.startedAt).String(),
	})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"active_downloads":   atomic.LoadInt64(&s.metrics.active),
		"completed_jobs":     atomic.LoadInt64(&s.metrics.completed),
		"failed_jobs":        atomic.LoadInt64(&s.metrics.failed),
		"tracked_jobs":       s.janitor.tracked(),
		"tracked_clients":    s.limiter.trackedClients(),
		"gate_capacity":      s.cfg.GateCapacity,
		"rate_limit_per_min": s.cfg.RatePerMinute,
		"uptime_seconds":     time.Since(s.startedAt).Seconds(),
	})
}
