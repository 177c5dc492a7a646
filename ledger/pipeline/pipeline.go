// Package pipeline runs the clustering, k-distance, projection and
// similarity operations over a snapshot of the transaction store.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/cluster/hdbscan"
	"github.com/teranos/tally/cluster/neighbors"
	"github.com/teranos/tally/cluster/tsne"
	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/respcache"
	"github.com/teranos/tally/ledger"
	"github.com/teranos/tally/ledger/storage"
	"github.com/teranos/tally/logger"
)

// Store is the persistence the pipeline reads snapshots from and commits
// results to. *storage.TransactionStore implements it.
type Store interface {
	Snapshot(ctx context.Context) ([]vecmath.RawPoint, error)
	CommitRun(ctx context.Context, run *storage.Run, assignments []storage.Assignment, centroids []storage.Centroid) error
	LatestRun(ctx context.Context) (*storage.Run, error)
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
	Centroids(ctx context.Context, runID string) ([]storage.Centroid, error)
	ListClustered(ctx context.Context, f storage.ClusteredFilter) ([]storage.Labelled, error)
	CountNoise(ctx context.Context, f storage.ClusteredFilter) (int, error)
	ReplaceProjections(ctx context.Context, points []storage.Projection) error
	ListProjections(ctx context.Context) ([]storage.ProjectedPoint, error)
}

// Params are the effective parameters of one clustering run.
type Params struct {
	MinClusterSize int     `json:"min_cluster_size"`
	MinSamples     int     `json:"min_samples"`
	Alpha          float64 `json:"alpha"`
	Normalize      bool    `json:"normalize"`
}

// Config holds pipeline configuration
type Config struct {
	Defaults            Params
	KDistanceMinSamples int
	MaxTreeDims         int
	Projection          tsne.Options
	ResultCacheSize     int
	ResultCacheTTL      time.Duration
}

// ConfigFromAm maps the application config onto pipeline config.
func ConfigFromAm(cfg *am.Config) Config {
	return Config{
		Defaults: Params{
			MinClusterSize: cfg.Clustering.MinClusterSize,
			MinSamples:     cfg.Clustering.MinSamples,
			Alpha:          cfg.Clustering.Alpha,
			Normalize:      cfg.Clustering.Normalize,
		},
		KDistanceMinSamples: cfg.Clustering.KDistanceMinSamples,
		MaxTreeDims:         cfg.Clustering.KDTreeMaxDims,
		Projection: tsne.Options{
			Perplexity:   cfg.Projection.Perplexity,
			Iterations:   cfg.Projection.Iterations,
			LearningRate: cfg.Projection.LearningRate,
			Seed:         cfg.Projection.Seed,
		},
		ResultCacheSize: cfg.Cache.Size,
		ResultCacheTTL:  time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	}
}

// RunSummary reports a committed clustering run.
type RunSummary struct {
	RunID        string          `json:"run_id" yaml:"run_id"`
	Clusters     int             `json:"clusters" yaml:"clusters"`
	Transactions int             `json:"transactions" yaml:"transactions"`
	Noise        int             `json:"noise" yaml:"noise"`
	Dropped      int             `json:"dropped" yaml:"dropped"`
	DropReasons  vecmath.Dropped `json:"drop_reasons,omitempty" yaml:"drop_reasons,omitempty"`
	Fingerprint  string          `json:"fingerprint" yaml:"fingerprint"`
	DurationMS   int64           `json:"duration_ms" yaml:"duration_ms"`
	Cached       bool            `json:"cached" yaml:"cached"`
	Params       Params          `json:"params" yaml:"params"`
}

// outcome is the part of a run that depends only on the fingerprint.
type outcome struct {
	labels        []int
	probabilities []float64
	clusters      int
	noise         int
}

// Pipeline orchestrates the clustering core against a store.
type Pipeline struct {
	store   Store
	results *respcache.Cache[*outcome]
	logger  *zap.SugaredLogger

	mu  sync.RWMutex
	cfg Config
}

// New creates a pipeline.
func New(store Store, cfg Config, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{
		store:   store,
		results: respcache.New[*outcome](cfg.ResultCacheSize, cfg.ResultCacheTTL),
		logger:  log.Named("pipeline"),
		cfg:     cfg,
	}
}

// Config returns the current configuration.
func (p *Pipeline) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// UpdateConfig swaps the configuration used by subsequent calls.
func (p *Pipeline) UpdateConfig(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg
	p.mu.Unlock()
	p.results.Resize(cfg.ResultCacheSize, cfg.ResultCacheTTL)
}

// ClusterRequest is a trigger request; zero fields take the configured
// defaults.
type ClusterRequest struct {
	MinClusterSize int     `json:"min_cluster_size,omitempty"`
	MinSamples     int     `json:"min_samples,omitempty"`
	Alpha          float64 `json:"alpha,omitempty"`
	Normalize      *bool   `json:"normalize,omitempty"`
}

// Resolve fills req's unset fields from the configured defaults.
func (p *Pipeline) Resolve(req ClusterRequest) Params {
	d := p.Config().Defaults
	out := d
	if req.MinClusterSize != 0 {
		out.MinClusterSize = req.MinClusterSize
	}
	if req.MinSamples != 0 {
		out.MinSamples = req.MinSamples
	}
	if req.Alpha != 0 {
		out.Alpha = req.Alpha
	}
	if req.Normalize != nil {
		out.Normalize = *req.Normalize
	}
	return out
}

func (p *Pipeline) hdbscanParams(params Params) hdbscan.Params {
	return hdbscan.Params{
		MinClusterSize: params.MinClusterSize,
		MinSamples:     params.MinSamples,
		Alpha:          params.Alpha,
		MaxTreeDims:    p.Config().MaxTreeDims,
	}
}

// Validate checks params without touching the store, so a trigger can be
// rejected before a job is queued.
func (p *Pipeline) Validate(params Params) error {
	return p.hdbscanParams(params).Validate()
}

// snapshot reads and filters the current point set.
func (p *Pipeline) snapshot(ctx context.Context, normalize bool) (vecmath.FilterResult, error) {
	raw, err := p.store.Snapshot(ctx)
	if err != nil {
		return vecmath.FilterResult{}, errors.Wrap(err, "snapshot point set")
	}
	filtered := vecmath.Filter(raw, normalize)
	if n := filtered.Dropped.Total(); n > 0 {
		p.logger.Debugw("dropped unusable embeddings",
			logger.FieldDropped, n,
			"reasons", filtered.Dropped)
	}
	return filtered, nil
}

// Run clusters the current snapshot and commits the labels. Nothing is
// written unless every step succeeds.
func (p *Pipeline) Run(ctx context.Context, params Params) (*RunSummary, error) {
	start := time.Now()
	hp := p.hdbscanParams(params)
	if err := hp.Validate(); err != nil {
		return nil, err
	}

	filtered, err := p.snapshot(ctx, params.Normalize)
	if err != nil {
		return nil, err
	}
	n := len(filtered.Points)
	if n <= params.MinSamples || n < params.MinClusterSize {
		return nil, errors.WithDetailf(
			errors.InsufficientDataf("need more than %d usable embeddings and at least %d, have %d",
				params.MinSamples, params.MinClusterSize, n),
			"dropped %d unusable embeddings", filtered.Dropped.Total())
	}

	ids := make([]string, n)
	for i, pt := range filtered.Points {
		ids[i] = pt.ID
	}
	vectors := vecmath.Vectors(filtered.Points)
	fingerprint := ledger.Fingerprint(ids, vectors,
		float64(params.MinClusterSize), float64(params.MinSamples), params.Alpha, boolParam(params.Normalize))

	out, cached := p.results.Get(fingerprint)
	if !cached {
		result, err := hdbscan.Cluster(vectors, hp)
		if err != nil {
			return nil, errors.Wrap(err, "cluster")
		}
		out = &outcome{
			labels:        result.Labels,
			probabilities: result.Probabilities,
			clusters:      len(result.Clusters),
			noise:         result.NumNoise(),
		}
		p.results.Set(fingerprint, out)
	}

	assignments := make([]storage.Assignment, n)
	members := make(map[int][][]float64)
	for i, id := range ids {
		label := out.labels[i]
		assignments[i] = storage.Assignment{TransactionID: id, Label: label, Probability: out.probabilities[i]}
		if label != hdbscan.Noise {
			members[label] = append(members[label], vectors[i])
		}
	}
	centroids := make([]storage.Centroid, 0, len(members))
	for label := 0; label < out.clusters; label++ {
		centroids = append(centroids, storage.Centroid{
			Label:  label,
			Size:   len(members[label]),
			Vector: vecmath.Centroid(members[label]),
		})
	}

	run := &storage.Run{
		ID:             uuid.NewString(),
		Fingerprint:    fingerprint,
		MinClusterSize: params.MinClusterSize,
		MinSamples:     params.MinSamples,
		Alpha:          params.Alpha,
		Normalized:     params.Normalize,
		Usable:         n,
		Dropped:        filtered.Dropped.Total(),
		Clusters:       out.clusters,
		Noise:          out.noise,
		DurationMS:     time.Since(start).Milliseconds(),
	}
	if err := p.store.CommitRun(ctx, run, assignments, centroids); err != nil {
		return nil, errors.Wrap(err, "commit run")
	}

	log := logger.FromContext(ctx, p.logger)
	log.Infow("clustering run committed",
		logger.FieldRunID, run.ID,
		logger.FieldCount, n,
		logger.FieldClusters, out.clusters,
		logger.FieldNoise, out.noise,
		logger.FieldDropped, run.Dropped,
		logger.FieldFingerprint, fingerprint[:12],
		logger.FieldDurationMS, run.DurationMS,
		"cached", cached)

	return &RunSummary{
		RunID:        run.ID,
		Clusters:     out.clusters,
		Transactions: n,
		Noise:        out.noise,
		Dropped:      run.Dropped,
		DropReasons:  filtered.Dropped,
		Fingerprint:  fingerprint,
		DurationMS:   run.DurationMS,
		Cached:       cached,
		Params:       params,
	}, nil
}

// Runs returns run history, newest first.
func (p *Pipeline) Runs(ctx context.Context, limit int) ([]storage.Run, error) {
	return p.store.ListRuns(ctx, limit)
}

// KDistanceResult is the sorted k-distance curve of the usable points.
type KDistanceResult struct {
	K         int       `json:"k" yaml:"k"`
	Distances []float64 `json:"distances" yaml:"distances"`
	Usable    int       `json:"usable" yaml:"usable"`
	Dropped   int       `json:"dropped" yaml:"dropped"`
}

// KDistance computes the k-distance curve with k = minSamples-1 (at least
// 1). minSamples 0 takes the configured value.
func (p *Pipeline) KDistance(ctx context.Context, minSamples int) (*KDistanceResult, error) {
	cfg := p.Config()
	if minSamples == 0 {
		minSamples = cfg.KDistanceMinSamples
	}
	if minSamples < 1 {
		return nil, errors.NewInvalidRequestError("min_samples must be >= 1, got %d", minSamples)
	}
	k := max(minSamples-1, 1)

	filtered, err := p.snapshot(ctx, cfg.Defaults.Normalize)
	if err != nil {
		return nil, err
	}
	distances, err := neighbors.KDistances(vecmath.Vectors(filtered.Points), k, cfg.MaxTreeDims)
	if err != nil {
		return nil, errors.Wrapf(err, "k-distance curve with k=%d", k)
	}
	return &KDistanceResult{
		K:         k,
		Distances: distances,
		Usable:    len(filtered.Points),
		Dropped:   filtered.Dropped.Total(),
	}, nil
}

// ProjectionSummary reports a stored projection.
type ProjectionSummary struct {
	Points     int   `json:"points" yaml:"points"`
	Dropped    int   `json:"dropped" yaml:"dropped"`
	DurationMS int64 `json:"duration_ms" yaml:"duration_ms"`
}

// Project computes 2D coordinates for the usable points and replaces the
// stored projection with them.
func (p *Pipeline) Project(ctx context.Context) (*ProjectionSummary, error) {
	start := time.Now()
	cfg := p.Config()

	filtered, err := p.snapshot(ctx, cfg.Defaults.Normalize)
	if err != nil {
		return nil, err
	}
	coords, err := tsne.Project(vecmath.Vectors(filtered.Points), cfg.Projection)
	if err != nil {
		return nil, errors.Wrap(err, "project")
	}

	points := make([]storage.Projection, len(coords))
	for i, c := range coords {
		points[i] = storage.Projection{TransactionID: filtered.Points[i].ID, X: c.X, Y: c.Y}
	}
	if err := p.store.ReplaceProjections(ctx, points); err != nil {
		return nil, errors.Wrap(err, "store projection")
	}

	summary := &ProjectionSummary{
		Points:     len(points),
		Dropped:    filtered.Dropped.Total(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	logger.FromContext(ctx, p.logger).Infow("projection stored",
		logger.FieldCount, summary.Points,
		logger.FieldDurationMS, summary.DurationMS)
	return summary, nil
}

// Projections returns the stored projection with cluster labels.
func (p *Pipeline) Projections(ctx context.Context) ([]storage.ProjectedPoint, error) {
	return p.store.ListProjections(ctx)
}

func boolParam(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
