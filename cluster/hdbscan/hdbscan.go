// Package hdbscan implements hierarchical density-based clustering:
// core distances, a mutual-reachability minimum spanning tree, the
// single-linkage merge hierarchy and excess-of-mass cluster selection.
//
// The pipeline is synchronous and deterministic. Nothing is shared
// between calls, so concurrent runs over different snapshots are safe.
package hdbscan

import (
	"math"

	"github.com/teranos/tally/cluster/neighbors"
	"github.com/teranos/tally/errors"
)

// Params configures a clustering run.
type Params struct {
	// MinClusterSize is the smallest group reported as a cluster.
	MinClusterSize int
	// MinSamples picks the neighbor whose distance is a point's core distance.
	MinSamples int
	// Alpha divides raw distances before they are compared with core distances.
	Alpha float64
	// MaxTreeDims bounds the dimensionality served by the k-d tree.
	MaxTreeDims int
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{
		MinClusterSize: 5,
		MinSamples:     3,
		Alpha:          1.0,
		MaxTreeDims:    neighbors.DefaultMaxTreeDims,
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.MinClusterSize < 1 {
		return errors.NewInvalidRequestError("min_cluster_size must be >= 1, got %d", p.MinClusterSize)
	}
	if p.MinSamples < 1 {
		return errors.NewInvalidRequestError("min_samples must be >= 1, got %d", p.MinSamples)
	}
	if !(p.Alpha > 0) || math.IsInf(p.Alpha, 0) {
		return errors.NewInvalidRequestError("alpha must be a positive finite number, got %v", p.Alpha)
	}
	return nil
}

// Result is a complete clustering run.
type Result struct {
	*Extraction
	CoreDistances []float64
	Hierarchy     *Hierarchy
}

// Cluster runs the full pipeline over vectors.
//
// Fails with ErrInsufficientData when there are not more points than
// MinSamples, and with ErrMalformedInput when vectors disagree on length
// or hold non-finite values. No partial result is returned on failure.
func Cluster(vectors [][]float64, p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	core, err := neighbors.CoreDistances(vectors, p.MinSamples, p.MaxTreeDims)
	if err != nil {
		return nil, errors.Wrap(err, "core distances")
	}

	edges, err := MutualReachabilityMST(vectors, core, p.Alpha)
	if err != nil {
		return nil, errors.Wrap(err, "spanning tree")
	}

	h, err := BuildHierarchy(len(vectors), edges)
	if err != nil {
		return nil, errors.Wrap(err, "hierarchy")
	}

	ex, err := Extract(h, p.MinClusterSize)
	if err != nil {
		return nil, errors.Wrap(err, "cluster selection")
	}

	return &Result{Extraction: ex, CoreDistances: core, Hierarchy: h}, nil
}
