package imagegen

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPrompt            = errors.New("imagegen: prompt is required")
	ErrUnsupportedAspectRatio = errors.New("imagegen: unsupported aspect ratio")
	ErrMissingAPIKey          = errors.New("imagegen: api key is required")
	ErrCanceled               = errors.New("imagegen: generation canceled")
	ErrPollingUnsupported     = errors.New("imagegen: provider returned a job id but cannot be polled")
	ErrJobFailed              = errors.New("imagegen: provider reported the job as failed")
)

// SubmitError is returned by providers when a submission fails. Transient
// failures are eligible for retry.
type SubmitError struct {
	Transient  bool
	StatusCode int
	Err        error
}

func (e *SubmitError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("submit failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("submit failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// PollTransportError reports that a poll request could not be completed.
type PollTransportError struct {
	JobID string
	Err   error
}

func (e *PollTransportError) Error() string {
	return fmt.Sprintf("poll job %s: %v", e.JobID, e.Err)
}

func (e *PollTransportError) Unwrap() error { return e.Err }

// ArtifactResolutionError reports that a job finished upstream but its image
// could not be retrieved.
type ArtifactResolutionError struct {
	JobID string
	URL   string
	Err   error
}

func (e *ArtifactResolutionError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("resolve artifact for job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("resolve artifact for job %s from %s: %v", e.JobID, e.URL, e.Err)
}

func (e *ArtifactResolutionError) Unwrap() error { return e.Err }

// TimeoutError reports that a job stayed pending for the whole polling budget.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s still pending after %d polls", e.JobID, e.Attempts)
}

// IsTransient reports whether err is a submission failure worth retrying.
func IsTransient(err error) bool {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Transient
	}
	return false
}

// Transient wraps err as a retryable submission failure.
func Transient(statusCode int, err error) error {
	return &SubmitError{Transient: true, StatusCode: statusCode, Err: err}
}

// Terminal wraps err as a non-retryable submission failure.
func Terminal(statusCode int, err error) error {
	return &SubmitError{StatusCode: statusCode, Err: err}
}
