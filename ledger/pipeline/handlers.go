package pipeline

import (
	"context"
	"encoding/json"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/pulse/async"
)

const (
	// ClusterHandlerName runs a clustering job with Params as payload.
	ClusterHandlerName = "cluster.run"
	// ProjectionHandlerName recomputes the stored 2D projection.
	ProjectionHandlerName = "projection.run"
)

// ClusterHandler executes clustering jobs.
type ClusterHandler struct {
	pipeline *Pipeline
}

// NewClusterHandler creates the clustering job handler.
func NewClusterHandler(p *Pipeline) *ClusterHandler {
	return &ClusterHandler{pipeline: p}
}

func (h *ClusterHandler) Name() string { return ClusterHandlerName }

// Execute decodes the job's Params, runs the pipeline and stores the
// RunSummary as the job result.
func (h *ClusterHandler) Execute(ctx context.Context, job *async.Job) error {
	params := h.pipeline.Config().Defaults
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &params); err != nil {
			return errors.Mark(errors.Wrap(err, "decode cluster payload"), errors.ErrMalformedInput)
		}
	}

	summary, err := h.pipeline.Run(ctx, params)
	if err != nil {
		return err
	}
	job.UpdateProgress(job.Progress.Total)
	return job.SetResult(summary)
}

// NewClusterJob creates a queued clustering job for params.
func NewClusterJob(params Params, source string) (*async.Job, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "encode cluster payload")
	}
	return async.NewJobWithPayload(ClusterHandlerName, source, payload, 1)
}

// ProjectionHandler executes projection jobs.
type ProjectionHandler struct {
	pipeline *Pipeline
}

// NewProjectionHandler creates the projection job handler.
func NewProjectionHandler(p *Pipeline) *ProjectionHandler {
	return &ProjectionHandler{pipeline: p}
}

func (h *ProjectionHandler) Name() string { return ProjectionHandlerName }

// Execute recomputes the projection and stores the ProjectionSummary as
// the job result.
func (h *ProjectionHandler) Execute(ctx context.Context, job *async.Job) error {
	summary, err := h.pipeline.Project(ctx)
	if err != nil {
		return err
	}
	job.UpdateProgress(job.Progress.Total)
	return job.SetResult(summary)
}

// NewProjectionJob creates a queued projection job.
func NewProjectionJob(source string) (*async.Job, error) {
	return async.NewJobWithPayload(ProjectionHandlerName, source, nil, 1)
}

// RegisterHandlers adds the pipeline's job handlers to registry.
func RegisterHandlers(registry *async.HandlerRegistry, p *Pipeline) {
	registry.Register(NewClusterHandler(p))
	registry.Register(NewProjectionHandler(p))
}
