package async

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/errors"
)

func TestNewJobWithPayload(t *testing.T) {
	job, err := NewJobWithPayload("cluster.run", "", []byte(`{}`), 3)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "system", job.Source)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, 3, job.Progress.Total)

	other, err := NewJobWithPayload("cluster.run", "api", nil, 0)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)

	_, err = NewJobWithPayload("", "api", nil, 0)
	assert.Error(t, err)
}

func TestJob_Lifecycle(t *testing.T) {
	job, err := NewJobWithPayload("cluster.run", "api", nil, 2)
	require.NoError(t, err)

	job.Start()
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	job.UpdateProgress(1)
	assert.Equal(t, 50.0, job.Progress.Percentage())

	job.Fail(errors.InsufficientDataf("only %d points", 2))
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, ErrorCodeInsufficientData, job.ErrorCode)
	assert.True(t, errors.IsInsufficientData(job.Err()))
	assert.True(t, job.Status.IsTerminal())
}

func TestJob_ErrWithoutOriginal(t *testing.T) {
	job := &Job{Status: JobStatusFailed, Error: "lost"}
	assert.EqualError(t, job.Err(), "lost")

	job.Status = JobStatusCompleted
	assert.NoError(t, job.Err())
}

func TestJob_CloneIsIndependent(t *testing.T) {
	job, err := NewJobWithPayload("cluster.run", "api", nil, 0)
	require.NoError(t, err)
	job.Start()

	c := job.clone()
	*c.StartedAt = c.StartedAt.Add(1)
	assert.NotEqual(t, *job.StartedAt, *c.StartedAt)
}

func TestJob_DecodeResultWithoutResult(t *testing.T) {
	job, err := NewJobWithPayload("cluster.run", "api", nil, 0)
	require.NoError(t, err)
	var v int
	assert.Error(t, job.DecodeResult(&v))
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("queued"))
	assert.True(t, IsValidStatus("cancelled"))
	assert.False(t, IsValidStatus("paused"))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		retryable bool
	}{
		{"nil", nil, ErrorCodeUnknown, false},
		{"insufficient", errors.InsufficientDataf("x"), ErrorCodeInsufficientData, false},
		{"malformed", errors.Wrap(errors.MalformedInputf("x"), "outer"), ErrorCodeMalformedInput, false},
		{"rate limited", errors.Mark(errors.New("x"), errors.ErrUpstreamRateLimited), ErrorCodeRateLimited, true},
		{"unavailable", errors.WrapUnavailable(fmt.Errorf("dial"), "db"), ErrorCodeUnavailable, true},
		{"not found", errors.NewNotFoundError("x"), ErrorCodeNotFound, false},
		{"invalid", errors.NewInvalidRequestError("x"), ErrorCodeInvalidRequest, false},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "run"), ErrorCodeTimeout, true},
		{"cancelled", context.Canceled, ErrorCodeCancelled, false},
		{"other", fmt.Errorf("boom"), ErrorCodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError("stage", tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, "stage", got.Stage)
		})
	}
}

func TestHandlerRegistry(t *testing.T) {
	registry := NewHandlerRegistry()
	assert.Empty(t, registry.Names())

	registry.Register(HandlerFunc{HandlerName: "b", Fn: func(context.Context, *Job) error { return nil }})
	registry.Register(HandlerFunc{HandlerName: "a", Fn: func(context.Context, *Job) error { return fmt.Errorf("a failed") }})

	assert.Equal(t, []string{"a", "b"}, registry.Names())
	assert.True(t, registry.Has("a"))
	assert.Nil(t, registry.Get("c"))

	assert.Panics(t, func() {
		registry.Register(HandlerFunc{HandlerName: "a"})
	})

	assert.NoError(t, registry.Execute(context.Background(), &Job{HandlerName: "b"}))
	assert.EqualError(t, registry.Execute(context.Background(), &Job{HandlerName: "a"}), "a failed")
	assert.True(t, errors.IsInvalidRequestError(registry.Execute(context.Background(), &Job{})))
	assert.True(t, errors.IsInvalidRequestError(registry.Execute(context.Background(), &Job{HandlerName: "c"})))
}
