package neighbors

import (
	"slices"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
)

// KDistances returns, for every point, the distance to its k-th nearest
// other point, sorted ascending. The curve's elbow suggests a density
// threshold; picking it is left to the caller.
//
// Fails with ErrInsufficientData when len(vectors) <= k.
func KDistances(vectors [][]float64, k int, maxTreeDims int) ([]float64, error) {
	if k < 1 {
		return nil, errors.NewInvalidRequestError("k must be >= 1, got %d", k)
	}
	if len(vectors) <= k {
		return nil, errors.InsufficientDataf("k-distance with k=%d needs more than %d points, got %d", k, k, len(vectors))
	}
	dist, err := kthDistances(vectors, k, maxTreeDims)
	if err != nil {
		return nil, err
	}
	slices.Sort(dist)
	return dist, nil
}

// CoreDistances returns, aligned with vectors, each point's distance to its
// minSamples-th nearest neighbor, the point itself excluded.
//
// Fails with ErrInsufficientData when len(vectors) <= minSamples.
func CoreDistances(vectors [][]float64, minSamples int, maxTreeDims int) ([]float64, error) {
	if minSamples < 1 {
		return nil, errors.NewInvalidRequestError("minSamples must be >= 1, got %d", minSamples)
	}
	if len(vectors) <= minSamples {
		return nil, errors.InsufficientDataf("core distances with minSamples=%d need more than %d points, got %d", minSamples, minSamples, len(vectors))
	}
	return kthDistances(vectors, minSamples, maxTreeDims)
}

func kthDistances(vectors [][]float64, k int, maxTreeDims int) ([]float64, error) {
	if _, err := vecmath.Dimensions(vectors); err != nil {
		return nil, err
	}

	idx := NewIndex(vectors, maxTreeDims)
	out := make([]float64, len(vectors))
	for i, v := range vectors {
		found := idx.Search(v, k, i)
		if len(found) < k {
			return nil, errors.AssertionFailedf("index returned %d of %d neighbors for point %d", len(found), k, i)
		}
		out[i] = found[k-1].Distance
	}
	return out, nil
}
