package hdbscan

import (
	"math"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
)

// Edge is one minimum spanning tree edge weighted by mutual reachability.
type Edge struct {
	From   int
	To     int
	Weight float64
}

// MutualReachability returns max(core[i], core[j], d(i,j)/alpha).
func MutualReachability(a, b []float64, coreA, coreB, alpha float64) float64 {
	d := vecmath.Euclidean(a, b)
	if alpha != 1 {
		d /= alpha
	}
	return max(coreA, coreB, d)
}

// MutualReachabilityMST builds a minimum spanning tree over vectors under
// the mutual reachability metric, using Prim's algorithm from point 0.
//
// Each step adds the unvisited point with the smallest best-known distance
// to the tree (lowest index on ties), then relaxes the remaining points
// against it. O(n²) time, O(n) memory. Edges are returned in the order
// they were added, exactly n-1 of them.
func MutualReachabilityMST(vectors [][]float64, core []float64, alpha float64) ([]Edge, error) {
	n := len(vectors)
	if len(core) != n {
		return nil, errors.MalformedInputf("got %d core distances for %d points", len(core), n)
	}
	if !(alpha > 0) || math.IsInf(alpha, 0) {
		return nil, errors.NewInvalidRequestError("alpha must be a positive finite number, got %v", alpha)
	}
	if n == 0 {
		return nil, errors.InsufficientDataf("no points to connect")
	}
	if _, err := vecmath.Dimensions(vectors); err != nil {
		return nil, err
	}
	for i, c := range core {
		if c < 0 || math.IsNaN(c) || math.IsInf(c, 0) {
			return nil, errors.MalformedInputf("core distance %d is %v", i, c)
		}
	}

	inTree := make([]bool, n)
	best := make([]float64, n)
	source := make([]int, n)
	for i := range best {
		best[i] = math.Inf(1)
	}

	edges := make([]Edge, 0, n-1)
	current := 0
	inTree[current] = true

	for step := 0; step < n-1; step++ {
		next := -1
		nextDist := math.Inf(1)

		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			d := MutualReachability(vectors[current], vectors[j], core[current], core[j], alpha)
			if d < best[j] {
				best[j] = d
				source[j] = current
			}
			if next == -1 || best[j] < nextDist {
				next = j
				nextDist = best[j]
			}
		}

		if math.IsInf(nextDist, 0) || math.IsNaN(nextDist) {
			return nil, errors.MalformedInputf("non-finite reachability %v to point %d", nextDist, next)
		}
		edges = append(edges, Edge{From: source[next], To: next, Weight: nextDist})
		inTree[next] = true
		current = next
	}

	return edges, nil
}
