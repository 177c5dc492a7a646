package async

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/tally/errors"
)

type echoPayload struct {
	Value int `json:"value"`
}

func echoHandler() HandlerFunc {
	return HandlerFunc{HandlerName: "test.echo", Fn: func(ctx context.Context, job *Job) error {
		var p echoPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return errors.Mark(errors.Wrap(err, "decode payload"), errors.ErrMalformedInput)
		}
		job.UpdateProgress(1)
		return job.SetResult(p.Value * 2)
	}}
}

func newTestRunner(t *testing.T, cfg RunnerConfig, handlers ...JobHandler) *Runner {
	t.Helper()
	registry := NewHandlerRegistry()
	for _, h := range handlers {
		registry.Register(h)
	}
	r := NewRunner(context.Background(), registry, cfg, zaptest.NewLogger(t).Sugar())
	t.Cleanup(r.Stop)
	return r
}

func newJob(t *testing.T, handler string, payload string) *Job {
	t.Helper()
	job, err := NewJobWithPayload(handler, "test", json.RawMessage(payload), 1)
	require.NoError(t, err)
	return job
}

func TestRunner_RunReturnsResult(t *testing.T) {
	r := newTestRunner(t, DefaultRunnerConfig(), echoHandler())
	r.Start()

	var completed atomic.Int32
	job := newJob(t, "test.echo", `{"value":21}`)
	finished, err := r.Run(context.Background(), job, func(j *Job) {
		completed.Add(1)
		assert.Equal(t, JobStatusCompleted, j.Status)
	})
	require.NoError(t, err)

	assert.Equal(t, JobStatusCompleted, finished.Status)
	assert.Equal(t, 1, finished.Progress.Current)
	var out int
	require.NoError(t, finished.DecodeResult(&out))
	assert.Equal(t, 42, out)
	assert.Equal(t, int32(1), completed.Load(), "callback runs before waiters are released")
	assert.NotNil(t, finished.StartedAt)
	assert.NotNil(t, finished.CompletedAt)
}

func TestRunner_FailedJobKeepsErrorClass(t *testing.T) {
	r := newTestRunner(t, DefaultRunnerConfig(), echoHandler())
	r.Start()

	finished, err := r.Run(context.Background(), newJob(t, "test.echo", `not json`), nil)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedInput(err))
	assert.Equal(t, JobStatusFailed, finished.Status)
	assert.Equal(t, ErrorCodeMalformedInput, finished.ErrorCode)
	assert.NotEmpty(t, finished.Error)
}

func TestRunner_AsyncEnqueueAndPoll(t *testing.T) {
	release := make(chan struct{})
	blocking := HandlerFunc{HandlerName: "test.block", Fn: func(ctx context.Context, job *Job) error {
		<-release
		return nil
	}}
	r := newTestRunner(t, DefaultRunnerConfig(), blocking)
	r.Start()

	done := make(chan *Job, 1)
	job := newJob(t, "test.block", `{}`)
	require.NoError(t, r.Enqueue(job, func(j *Job) { done <- j }))

	snap, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.False(t, snap.Status.IsTerminal())

	close(release)
	select {
	case j := <-done:
		assert.Equal(t, JobStatusCompleted, j.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("completion callback not called")
	}

	snap, ok = r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusCompleted, snap.Status)
}

func TestRunner_RejectsUnknownHandler(t *testing.T) {
	r := newTestRunner(t, DefaultRunnerConfig(), echoHandler())
	err := r.Enqueue(newJob(t, "test.missing", `{}`), nil)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRunner_QueueFull(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{Workers: 1, QueueSize: 1}, echoHandler())
	// Not started, so the first job stays buffered.
	require.NoError(t, r.Enqueue(newJob(t, "test.echo", `{"value":1}`), nil))
	err := r.Enqueue(newJob(t, "test.echo", `{"value":2}`), nil)
	assert.True(t, errors.Is(err, ErrQueueFull))
}

func TestRunner_StopCancelsQueuedJobs(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(echoHandler())
	r := NewRunner(context.Background(), registry, DefaultRunnerConfig(), nil)

	var got *Job
	job := newJob(t, "test.echo", `{"value":1}`)
	require.NoError(t, r.Enqueue(job, func(j *Job) { got = j }))
	r.Stop()

	require.NotNil(t, got)
	assert.Equal(t, JobStatusCancelled, got.Status)
	assert.True(t, errors.Is(r.Enqueue(newJob(t, "test.echo", `{}`), nil), ErrRunnerStopped))
}

func TestRunner_StopCancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	waiting := HandlerFunc{HandlerName: "test.wait", Fn: func(ctx context.Context, job *Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}
	registry := NewHandlerRegistry()
	registry.Register(waiting)
	r := NewRunner(context.Background(), registry, DefaultRunnerConfig(), nil)
	r.Start()

	job := newJob(t, "test.wait", `{}`)
	require.NoError(t, r.Enqueue(job, nil))
	<-started
	r.Stop()

	snap, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, JobStatusCancelled, snap.Status)
}

func TestRunner_PanicFailsJob(t *testing.T) {
	panicky := HandlerFunc{HandlerName: "test.panic", Fn: func(ctx context.Context, job *Job) error {
		panic("boom")
	}}
	r := newTestRunner(t, DefaultRunnerConfig(), panicky)
	r.Start()

	finished, err := r.Run(context.Background(), newJob(t, "test.panic", `{}`), nil)
	require.Error(t, err)
	assert.Equal(t, JobStatusFailed, finished.Status)
	assert.Contains(t, finished.Error, "boom")
}

func TestRunner_WaitHonoursContext(t *testing.T) {
	r := newTestRunner(t, DefaultRunnerConfig(), echoHandler())
	job := newJob(t, "test.echo", `{"value":1}`)
	require.NoError(t, r.Enqueue(job, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx, job.ID)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = r.Wait(context.Background(), "nope")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestRunner_ConcurrentJobsAreIndependent(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{Workers: 4, QueueSize: 32}, echoHandler())
	r.Start()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			payload, _ := json.Marshal(echoPayload{Value: v})
			job, err := NewJobWithPayload("test.echo", "test", payload, 1)
			require.NoError(t, err)
			finished, err := r.Run(context.Background(), job, nil)
			require.NoError(t, err)
			var out int
			require.NoError(t, finished.DecodeResult(&out))
			assert.Equal(t, v*2, out)
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.List(), 16)
}

func TestRunner_HistoryIsBounded(t *testing.T) {
	r := newTestRunner(t, RunnerConfig{Workers: 1, QueueSize: 8, History: 2}, echoHandler())
	r.Start()

	var ids []string
	for i := 0; i < 4; i++ {
		job := newJob(t, "test.echo", `{"value":1}`)
		_, err := r.Run(context.Background(), job, nil)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	_, ok := r.Get(ids[0])
	assert.False(t, ok)
	_, ok = r.Get(ids[3])
	assert.True(t, ok)
}
