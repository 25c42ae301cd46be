package main

import "fmt"

// Error kinds, one family per failure domain. Handlers map these to HTTP
// status codes at the boundary; nothing internal reaches the client.

type SelectionErrorKind string

const (
	SelectionNotFound         SelectionErrorKind = "not_found"
	SelectionNoPlayableFormat SelectionErrorKind = "no_playable_format"
)

// SelectionError means no viable format existed for the request. Not
// retryable.
type SelectionError struct {
	Kind   SelectionErrorKind
	Detail string
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("format selection failed (%s): %s", e.Kind, e.Detail)
}

type ResolutionErrorKind string

const (
	ResolutionUpstream    ResolutionErrorKind = "upstream"
	ResolutionUnsupported ResolutionErrorKind = "unsupported"
)

// ResolutionError means the extractor failed or the platform is not
// supported.
type ResolutionError struct {
	Kind   ResolutionErrorKind
	Detail string
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed (%s): %s", e.Kind, e.Detail)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

type ExecutionErrorKind string

const (
	ExecutionMergeFailed    ExecutionErrorKind = "merge_failed"
	ExecutionDownloadFailed ExecutionErrorKind = "download_failed"
	ExecutionEmpty          ExecutionErrorKind = "empty_artifact"
)

// ExecutionError means a local materialize job failed. Partial artifacts
// are already cleaned up by the time it is returned.
type ExecutionError struct {
	Kind   ExecutionErrorKind
	Detail string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed (%s): %s", e.Kind, e.Detail)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// AdmissionError means the concurrency gate stayed saturated past the
// acquire timeout. Clients should retry later.
type AdmissionError struct {
	Detail string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("server busy: %s", e.Detail)
}

// RateLimitError means the per-client limiter rejected the request.
type RateLimitError struct{}

func (e *RateLimitError) Error() string { return "rate limit exceeded" }
