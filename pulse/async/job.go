// Package async runs background jobs in-process with completion callbacks.
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/tally/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a job in this status will not change again.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Progress represents job progress information
type Progress struct {
	Current int `json:"current,omitempty"` // Completed steps
	Total   int `json:"total,omitempty"`   // Total steps
}

// Percentage calculates progress as a percentage (0-100)
func (p Progress) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total) * 100
}

// Job is one unit of background work.
//
// HandlerName picks the handler that executes it; Payload and Result are
// owned by that handler.
type Job struct {
	ID          string          `json:"id"`
	HandlerName string          `json:"handler_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Source      string          `json:"source"` // "api", "cli", "ticker"
	Status      JobStatus       `json:"status"`
	Progress    Progress        `json:"progress,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   ErrorCode       `json:"error_code,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// err is the failure as returned by the handler, kept so callers
	// waiting on the job can still classify it.
	err error
}

// NewJobWithPayload creates a queued job for handlerName.
func NewJobWithPayload(handlerName string, source string, payload json.RawMessage, totalSteps int) (*Job, error) {
	if handlerName == "" {
		return nil, errors.New("handlerName cannot be empty")
	}
	if source == "" {
		source = "system"
	}

	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		HandlerName: handlerName,
		Payload:     payload,
		Source:      source,
		Status:      JobStatusQueued,
		Progress:    Progress{Current: 0, Total: totalSteps},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
}

// Complete marks the job as completed
func (j *Job) Complete() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed with an error message
func (j *Job) Fail(err error) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = err.Error()
	j.ErrorCode = ClassifyError("execute", err).Code
	j.err = err
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Cancel marks the job as cancelled with a reason
func (j *Job) Cancel(reason string) {
	now := time.Now()
	j.Status = JobStatusCancelled
	j.Error = reason
	j.ErrorCode = ErrorCodeCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// UpdateProgress updates the job's progress
func (j *Job) UpdateProgress(current int) {
	j.Progress.Current = current
	j.UpdatedAt = time.Now()
}

// SetResult stores v as the job's JSON result.
func (j *Job) SetResult(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job result")
	}
	j.Result = data
	j.UpdatedAt = time.Now()
	return nil
}

// DecodeResult unmarshals the job's result into v.
func (j *Job) DecodeResult(v any) error {
	if len(j.Result) == 0 {
		return errors.Newf("job %s has no result", j.ID)
	}
	if err := json.Unmarshal(j.Result, v); err != nil {
		return errors.Wrap(err, "failed to unmarshal job result")
	}
	return nil
}

// Err returns the handler's error for a failed job, nil otherwise.
func (j *Job) Err() error {
	if j.Status != JobStatusFailed {
		return nil
	}
	if j.err != nil {
		return j.err
	}
	return errors.New(j.Error)
}

// clone returns a copy that does not share mutable state with j.
func (j *Job) clone() *Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
