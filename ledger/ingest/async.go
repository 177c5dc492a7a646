package ingest

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/pulse/async"
)

const (
	// CSVHandlerName imports a CSV file given by path.
	CSVHandlerName = "ingest.csv"
	// EmbedHandlerName fills missing embeddings.
	EmbedHandlerName = "ingest.embed"
)

// CSVPayload defines the payload structure for CSV import jobs
type CSVPayload struct {
	Path   string `json:"path"`
	Since  string `json:"since,omitempty"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// CSVHandler implements async.JobHandler for CSV imports
type CSVHandler struct {
	store  Store
	logger *zap.SugaredLogger
}

// NewCSVHandler creates a new CSV import job handler
func NewCSVHandler(store Store, logger *zap.SugaredLogger) *CSVHandler {
	return &CSVHandler{store: store, logger: logger}
}

func (h *CSVHandler) Name() string { return CSVHandlerName }

// Execute processes a CSV import job
func (h *CSVHandler) Execute(ctx context.Context, job *async.Job) error {
	var payload CSVPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return errors.Mark(errors.Wrap(err, "decode csv payload"), errors.ErrMalformedInput)
	}
	if payload.Path == "" {
		return errors.NewInvalidRequestError("csv payload has no path")
	}

	processor := NewCSVProcessor(h.store, payload.DryRun, h.logger)
	if err := processor.SetSince(payload.Since); err != nil {
		return err
	}
	result, err := processor.ProcessFile(ctx, payload.Path)
	if err != nil {
		return err
	}
	job.UpdateProgress(job.Progress.Total)
	return job.SetResult(result)
}

// EmbedPayload defines the payload structure for embedding fill jobs
type EmbedPayload struct {
	BatchSize int `json:"batch_size,omitempty"`
}

// EmbedHandler implements async.JobHandler for embedding fills
type EmbedHandler struct {
	store    Store
	embedder Embedder
	logger   *zap.SugaredLogger
}

// NewEmbedHandler creates a new embedding fill job handler
func NewEmbedHandler(store Store, embedder Embedder, logger *zap.SugaredLogger) *EmbedHandler {
	return &EmbedHandler{store: store, embedder: embedder, logger: logger}
}

func (h *EmbedHandler) Name() string { return EmbedHandlerName }

// Execute fills missing embeddings
func (h *EmbedHandler) Execute(ctx context.Context, job *async.Job) error {
	var payload EmbedPayload
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return errors.Mark(errors.Wrap(err, "decode embed payload"), errors.ErrMalformedInput)
		}
	}
	result, err := FillEmbeddings(ctx, h.store, h.embedder, payload.BatchSize, h.logger)
	if err != nil {
		return err
	}
	job.UpdateProgress(job.Progress.Total)
	return job.SetResult(result)
}

// NewCSVJob creates a queued CSV import job.
func NewCSVJob(payload CSVPayload, source string) (*async.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode csv payload")
	}
	return async.NewJobWithPayload(CSVHandlerName, source, data, 1)
}

// NewEmbedJob creates a queued embedding fill job.
func NewEmbedJob(batchSize int, source string) (*async.Job, error) {
	data, err := json.Marshal(EmbedPayload{BatchSize: batchSize})
	if err != nil {
		return nil, errors.Wrap(err, "encode embed payload")
	}
	return async.NewJobWithPayload(EmbedHandlerName, source, data, 1)
}

// RegisterHandlers adds the ingestion job handlers to registry. The embed
// handler is only registered when embedder is non-nil.
func RegisterHandlers(registry *async.HandlerRegistry, store Store, embedder Embedder, logger *zap.SugaredLogger) {
	registry.Register(NewCSVHandler(store, logger))
	if embedder != nil {
		registry.Register(NewEmbedHandler(store, embedder, logger))
	}
}
