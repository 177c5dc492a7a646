package async

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// ErrQueueFull is returned by Enqueue when no more jobs can be buffered.
var ErrQueueFull = errors.New("job queue full")

// ErrRunnerStopped is returned by Enqueue after Stop.
var ErrRunnerStopped = errors.New("job runner stopped")

// CompletionFunc is called once per job after it reaches a terminal
// status. It receives a snapshot of the finished job.
type CompletionFunc func(job *Job)

// RunnerConfig contains configuration for the job runner
type RunnerConfig struct {
	Workers   int // Number of concurrent workers
	QueueSize int // Jobs buffered before Enqueue fails
	History   int // Finished jobs kept for Get/Wait
}

// DefaultRunnerConfig returns sensible defaults
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Workers:   1,
		QueueSize: 16,
		History:   256,
	}
}

type entry struct {
	job        *Job
	done       chan struct{}
	onComplete CompletionFunc
}

// Runner executes jobs on a fixed pool of in-process workers.
//
// Each job runs to completion on one worker; the handler receives its own
// copy of the job so readers never observe it mid-update. Completion
// callbacks run on the worker before waiters are released.
type Runner struct {
	registry *HandlerRegistry
	config   RunnerConfig
	queue    chan *entry
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	jobs     map[string]*entry
	finished []string
	started  bool
	stopped  bool
}

// NewRunner creates a runner. Jobs may be enqueued before Start; they
// wait in the queue.
func NewRunner(ctx context.Context, registry *HandlerRegistry, cfg RunnerConfig, log *zap.SugaredLogger) *Runner {
	defaults := DefaultRunnerConfig()
	if cfg.Workers < 1 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.History < 1 {
		cfg.History = defaults.History
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	runnerCtx, cancel := context.WithCancel(ctx)
	return &Runner{
		registry: registry,
		config:   cfg,
		queue:    make(chan *entry, cfg.QueueSize),
		ctx:      runnerCtx,
		cancel:   cancel,
		logger:   log.Named("pulse"),
		jobs:     make(map[string]*entry),
	}
}

// Start launches the workers. Calling it twice has no effect.
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.stopped {
		return
	}
	r.started = true

	for i := 0; i < r.config.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	r.logger.Debugw("job runner started", "workers", r.config.Workers, "queue_size", r.config.QueueSize)
}

// Stop cancels running jobs, waits for the workers to exit, and cancels
// every job still queued.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	for {
		select {
		case e := <-r.queue:
			r.finish(e, func(j *Job) { j.Cancel("runner stopped") })
		default:
			r.logger.Debugw("job runner stopped")
			return
		}
	}
}

// Enqueue schedules job. onComplete may be nil.
func (r *Runner) Enqueue(job *Job, onComplete CompletionFunc) error {
	if job == nil {
		return errors.NewInvalidRequestError("job is nil")
	}
	if !r.registry.Has(job.HandlerName) {
		return errors.NewInvalidRequestError("no handler registered for handler name: %s", job.HandlerName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return ErrRunnerStopped
	}
	if _, exists := r.jobs[job.ID]; exists {
		return errors.NewInvalidRequestError("job %s already enqueued", job.ID)
	}

	e := &entry{job: job, done: make(chan struct{}), onComplete: onComplete}
	select {
	case r.queue <- e:
	default:
		return errors.WithHint(ErrQueueFull, "retry once running jobs finish")
	}
	r.jobs[job.ID] = e

	r.logger.Debugw("job enqueued",
		logger.FieldJobID, job.ID,
		"handler", job.HandlerName,
		"source", job.Source)
	return nil
}

// Run enqueues job and blocks until it finishes or ctx is done. The
// returned job is the finished snapshot; a failed job's error is returned
// alongside it.
func (r *Runner) Run(ctx context.Context, job *Job, onComplete CompletionFunc) (*Job, error) {
	if err := r.Enqueue(job, onComplete); err != nil {
		return nil, err
	}
	finished, err := r.Wait(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return finished, finished.Err()
}

// Get returns a snapshot of a known job.
func (r *Runner) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return e.job.clone(), true
}

// Wait blocks until the job reaches a terminal status or ctx is done.
func (r *Runner) Wait(ctx context.Context, id string) (*Job, error) {
	r.mu.Lock()
	e, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("job %s not found", id)
	}

	select {
	case <-e.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return e.job.clone(), nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for job %s", id)
	}
}

// List returns snapshots of all known jobs, newest first.
func (r *Runner) List() []*Job {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, e := range r.jobs {
		jobs = append(jobs, e.job.clone())
	}
	r.mu.Unlock()

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs
}

func (r *Runner) work() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case e := <-r.queue:
			r.execute(e)
		}
	}
}

func (r *Runner) execute(e *entry) {
	r.mu.Lock()
	e.job.Start()
	work := e.job.clone()
	r.mu.Unlock()

	log := r.logger.With(logger.FieldJobID, work.ID)
	log.Infow("job started", "handler", work.HandlerName)

	ctx := logger.WithJobID(r.ctx, work.ID)
	err := r.safeExecute(ctx, work)

	r.finish(e, func(j *Job) {
		j.Progress = work.Progress
		j.Result = work.Result
		switch {
		case err == nil:
			j.Complete()
		case r.ctx.Err() != nil && errors.Is(err, context.Canceled):
			j.Cancel("runner stopped")
		default:
			j.Fail(err)
		}
	})

	if err != nil {
		log.Warnw("job failed", logger.FieldError, err)
	} else {
		log.Infow("job completed")
	}
}

func (r *Runner) safeExecute(ctx context.Context, job *Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.AssertionFailedf("job handler %s panicked: %v", job.HandlerName, p)
		}
	}()
	return r.registry.Execute(ctx, job)
}

// finish applies the terminal transition, trims history, then runs the
// completion callback and releases waiters.
func (r *Runner) finish(e *entry, transition func(*Job)) {
	r.mu.Lock()
	transition(e.job)
	snapshot := e.job.clone()
	r.finished = append(r.finished, e.job.ID)
	for len(r.finished) > r.config.History {
		delete(r.jobs, r.finished[0])
		r.finished = r.finished[1:]
	}
	r.mu.Unlock()

	if e.onComplete != nil {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Errorw("job completion callback panicked",
						logger.FieldJobID, snapshot.ID, "panic", p)
				}
			}()
			e.onComplete(snapshot)
		}()
	}
	close(e.done)
}
