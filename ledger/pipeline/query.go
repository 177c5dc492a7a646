package pipeline

import (
	"context"

	"github.com/teranos/tally/cluster/hdbscan"
	"github.com/teranos/tally/cluster/similar"
	"github.com/teranos/tally/cluster/summary"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/internal/util"
	"github.com/teranos/tally/ledger"
	"github.com/teranos/tally/ledger/storage"
)

// DefaultClusteredLimit caps a clustered-transactions query without an
// explicit limit.
const DefaultClusteredLimit = 1000

// ClusteredQuery filters the clustered-transactions view.
type ClusteredQuery struct {
	Month        int
	Year         int
	IncludeNoise bool
	Limit        int
}

// ClusterGroup is one cluster (or the noise set) in the clustered view.
type ClusterGroup struct {
	// Cluster is nil for the noise group.
	Cluster       *int `json:"cluster" yaml:"cluster"`
	summary.Group `yaml:",inline"`
}

// ClusteredView is the latest run's transactions grouped by cluster.
type ClusteredView struct {
	RunID            string         `json:"run_id" yaml:"run_id"`
	Groups           []ClusterGroup `json:"groups" yaml:"groups"`
	summary.Overview `yaml:",inline"`
}

// Clustered groups the latest run's transactions by cluster and
// summarizes each group. Fails with ErrInsufficientData before the first
// run has been committed.
func (p *Pipeline) Clustered(ctx context.Context, q ClusteredQuery) (*ClusteredView, error) {
	run, err := p.store.LatestRun(ctx)
	if errors.IsNotFoundError(err) {
		return nil, errors.InsufficientDataf("no clustering run has been committed yet")
	}
	if err != nil {
		return nil, err
	}

	if q.Limit <= 0 {
		q.Limit = DefaultClusteredLimit
	}
	filter := storage.ClusteredFilter{
		Month:        q.Month,
		Year:         q.Year,
		Limit:        q.Limit,
		ExcludeNoise: !q.IncludeNoise,
	}
	rows, err := p.store.ListClustered(ctx, filter)
	if err != nil {
		return nil, err
	}

	txs := make([]ledger.Transaction, len(rows))
	labels := make([]int, len(rows))
	for i, r := range rows {
		txs[i] = r.Transaction
		labels[i] = r.Label
	}
	groups, overview, err := summary.Summarize(txs, labels, q.IncludeNoise)
	if err != nil {
		return nil, errors.Wrap(err, "summarize clusters")
	}
	if !q.IncludeNoise {
		// Noise rows were not read; count them for the overview
		noise, err := p.store.CountNoise(ctx, filter)
		if err != nil {
			return nil, err
		}
		overview.Noise = noise
		overview.Total += noise
	}

	view := &ClusteredView{
		RunID:    run.ID,
		Groups:   make([]ClusterGroup, len(groups)),
		Overview: overview,
	}
	for i, g := range groups {
		view.Groups[i] = ClusterGroup{Group: g}
		if !g.IsNoise() {
			view.Groups[i].Cluster = util.Ptr(g.Label)
		}
	}
	return view, nil
}

// SimilarResult lists the nearest neighbors of one transaction.
type SimilarResult struct {
	ID      string          `json:"id" yaml:"id"`
	Matches []similar.Match `json:"matches" yaml:"matches"`
	// NearestCluster is the cluster whose centroid is closest, nil before
	// any run has been committed.
	NearestCluster   *int     `json:"nearest_cluster" yaml:"nearest_cluster"`
	CentroidDistance *float64 `json:"centroid_distance,omitempty" yaml:"centroid_distance,omitempty"`
}

// Similar finds the k transactions whose embeddings are nearest to id's,
// in the space of the latest run (or the configured default before any
// run).
func (p *Pipeline) Similar(ctx context.Context, id string, k int) (*SimilarResult, error) {
	cfg := p.Config()
	normalize := cfg.Defaults.Normalize

	run, err := p.store.LatestRun(ctx)
	if err != nil && !errors.IsNotFoundError(err) {
		return nil, err
	}
	if run != nil {
		normalize = run.Normalized
	}

	filtered, err := p.snapshot(ctx, normalize)
	if err != nil {
		return nil, err
	}
	searcher, err := similar.NewSearcher(filtered.Points, cfg.MaxTreeDims)
	if err != nil {
		return nil, err
	}
	matches, err := searcher.SimilarTo(id, k)
	if err != nil {
		return nil, err
	}

	result := &SimilarResult{ID: id, Matches: matches}
	if run == nil {
		return result, nil
	}

	stored, err := p.store.Centroids(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	centroids := make(map[int][]float64, len(stored))
	for _, c := range stored {
		centroids[c.Label] = c.Vector
	}
	v, _ := searcher.Vector(id)
	if label, dist, ok := similar.NearestCentroid(v, centroids); ok && label != hdbscan.Noise {
		result.NearestCluster = util.Ptr(label)
		result.CentroidDistance = util.Ptr(dist)
	}
	return result, nil
}
