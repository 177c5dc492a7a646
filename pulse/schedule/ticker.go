// Package schedule enqueues a job on a fixed interval.
package schedule

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
	"github.com/teranos/tally/pulse/async"
)

// Enqueuer is the part of the job runner the ticker needs.
type Enqueuer interface {
	Enqueue(job *async.Job, onComplete async.CompletionFunc) error
	Get(id string) (*async.Job, bool)
}

// TickerConfig contains configuration for the ticker
type TickerConfig struct {
	Interval    time.Duration // How often to enqueue
	HandlerName string
	// Payload builds each job's payload at tick time.
	Payload    func() (json.RawMessage, error)
	OnComplete async.CompletionFunc
}

// Ticker enqueues one job per interval. A tick is skipped while the job
// from the previous tick is still queued or running.
type Ticker struct {
	runner Enqueuer
	config TickerConfig
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu              sync.Mutex
	lastJobID       string
	lastTickAt      time.Time
	ticksSinceStart int64
}

// NewTicker creates a ticker bound to ctx.
func NewTicker(ctx context.Context, runner Enqueuer, cfg TickerConfig, log *zap.SugaredLogger) (*Ticker, error) {
	if cfg.Interval <= 0 {
		return nil, errors.NewInvalidRequestError("ticker interval must be positive, got %s", cfg.Interval)
	}
	if cfg.HandlerName == "" {
		return nil, errors.NewInvalidRequestError("ticker needs a handler name")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	tickerCtx, cancel := context.WithCancel(ctx)
	return &Ticker{
		runner: runner,
		config: cfg,
		ctx:    tickerCtx,
		cancel: cancel,
		logger: log.Named("ticker"),
	}, nil
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.logger.Infow("ticker started", "interval", t.config.Interval, "handler", t.config.HandlerName)
}

// Stop gracefully stops the ticker
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.logger.Infow("ticker stopped")
}

// Ticks returns how many ticks have fired since Start.
func (t *Ticker) Ticks() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksSinceStart
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			if _, err := t.tick(tickTime); err != nil {
				t.logger.Warnw("tick error", logger.FieldError, err, "tick", t.Ticks())
			}
		}
	}
}

// tick enqueues a job unless the previous one is still active. It returns
// the new job's id, or "" when the tick was skipped.
func (t *Ticker) tick(now time.Time) (string, error) {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	last := t.lastJobID
	t.mu.Unlock()

	if last != "" {
		if job, ok := t.runner.Get(last); ok && !job.Status.IsTerminal() {
			t.logger.Debugw("previous job still active, skipping tick", logger.FieldJobID, last)
			return "", nil
		}
	}

	var payload json.RawMessage
	if t.config.Payload != nil {
		var err error
		if payload, err = t.config.Payload(); err != nil {
			return "", errors.Wrap(err, "build tick payload")
		}
	}

	job, err := async.NewJobWithPayload(t.config.HandlerName, "ticker", payload, 0)
	if err != nil {
		return "", err
	}
	if err := t.runner.Enqueue(job, t.config.OnComplete); err != nil {
		return "", errors.Wrap(err, "enqueue tick job")
	}

	t.mu.Lock()
	t.lastJobID = job.ID
	t.mu.Unlock()
	return job.ID, nil
}
