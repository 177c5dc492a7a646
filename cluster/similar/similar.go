// Package similar answers nearest-neighbor queries over a clustered
// snapshot: transactions closest to a given one, and the cluster whose
// centroid is closest to a vector.
package similar

import (
	"math"
	"sort"

	"github.com/teranos/tally/cluster/neighbors"
	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
)

// Match is one similar point.
type Match struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// Searcher holds an index over one point snapshot. It is read-only after
// construction and safe for concurrent use.
type Searcher struct {
	points []vecmath.Point
	index  neighbors.Index
	byID   map[string]int
	dims   int
}

// NewSearcher indexes points. All points must share one dimensionality.
func NewSearcher(points []vecmath.Point, maxTreeDims int) (*Searcher, error) {
	vectors := vecmath.Vectors(points)
	dims, err := vecmath.Dimensions(vectors)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]int, len(points))
	for i, p := range points {
		byID[p.ID] = i
	}
	return &Searcher{
		points: points,
		index:  neighbors.NewIndex(vectors, maxTreeDims),
		byID:   byID,
		dims:   dims,
	}, nil
}

// Len returns the number of indexed points.
func (s *Searcher) Len() int { return len(s.points) }

// Vector returns the indexed vector of id.
func (s *Searcher) Vector(id string) ([]float64, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return s.points[i].Vector, true
}

// SimilarTo returns up to k points nearest to the point with the given id,
// nearest first, not including the point itself.
func (s *Searcher) SimilarTo(id string, k int) ([]Match, error) {
	i, ok := s.byID[id]
	if !ok {
		return nil, errors.NewNotFoundError("no embedding indexed for transaction %s", id)
	}
	return s.search(s.points[i].Vector, k, i)
}

// SimilarToVector returns up to k points nearest to v.
func (s *Searcher) SimilarToVector(v []float64, k int) ([]Match, error) {
	if len(v) != s.dims {
		return nil, errors.MalformedInputf("query has %d dimensions, index has %d", len(v), s.dims)
	}
	if !vecmath.IsFinite(v) {
		return nil, errors.MalformedInputf("query contains non-finite values")
	}
	return s.search(v, k, -1)
}

func (s *Searcher) search(v []float64, k, exclude int) ([]Match, error) {
	if k < 1 {
		return nil, errors.NewInvalidRequestError("limit must be >= 1, got %d", k)
	}
	found := s.index.Search(v, k, exclude)
	out := make([]Match, len(found))
	for i, n := range found {
		out[i] = Match{ID: s.points[n.Index].ID, Distance: n.Distance}
	}
	return out, nil
}

// NearestCentroid returns the label whose centroid is closest to v.
// ok is false when no centroid has v's dimensionality.
func NearestCentroid(v []float64, centroids map[int][]float64) (label int, distance float64, ok bool) {
	labels := make([]int, 0, len(centroids))
	for l := range centroids {
		labels = append(labels, l)
	}
	// Map order is random; ties go to the lowest label
	sort.Ints(labels)

	distance = math.Inf(1)
	for _, l := range labels {
		c := centroids[l]
		if len(c) != len(v) {
			continue
		}
		if d := vecmath.Euclidean(v, c); d < distance {
			label, distance, ok = l, d, true
		}
	}
	return label, distance, ok
}
