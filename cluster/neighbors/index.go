// Package neighbors answers k-nearest-neighbor questions over a fixed
// point set: the k-distance curve used to tune density thresholds and the
// per-point core distances used by density clustering.
//
// Queries go through an Index. A k-d tree serves low-dimensional data;
// above MaxTreeDims the index scans every point, which is O(n) per query
// and O(n²) for a whole point set. That is the intended ceiling: hundreds
// to low thousands of transactions per run.
package neighbors

import (
	"container/heap"
	"math"
	"slices"

	"github.com/teranos/tally/cluster/vecmath"
)

// DefaultMaxTreeDims is the dimensionality above which a k-d tree stops
// paying off and the index scans linearly.
const DefaultMaxTreeDims = 16

// Neighbor is one query result.
type Neighbor struct {
	Index    int
	Distance float64
}

// Index finds the nearest points of a fixed set.
type Index interface {
	// Search returns up to k nearest points to q, nearest first.
	// The point at position exclude is skipped; pass -1 to keep all.
	Search(q []float64, k int, exclude int) []Neighbor
	Len() int
}

// NewIndex returns a k-d tree when the data has at most maxTreeDims
// dimensions and a linear scan otherwise. maxTreeDims <= 0 always scans.
func NewIndex(vectors [][]float64, maxTreeDims int) Index {
	if len(vectors) > 0 && maxTreeDims > 0 && len(vectors[0]) <= maxTreeDims {
		return NewKDTree(vectors, 0)
	}
	return &BruteForce{vectors: vectors}
}

// BruteForce scans every point on each query.
type BruteForce struct {
	vectors [][]float64
}

// NewBruteForce returns a linear-scan index over vectors.
func NewBruteForce(vectors [][]float64) *BruteForce {
	return &BruteForce{vectors: vectors}
}

func (b *BruteForce) Len() int { return len(b.vectors) }

func (b *BruteForce) Search(q []float64, k int, exclude int) []Neighbor {
	if k <= 0 {
		return nil
	}
	h := make(maxHeap, 0, k+1)
	for i, v := range b.vectors {
		if i == exclude {
			continue
		}
		h.offer(i, vecmath.SquaredEuclidean(q, v), k)
	}
	return h.sorted()
}

// maxHeap keeps the k best candidates by squared distance; the worst sits on top.
type maxHeap []Neighbor

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(Neighbor)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// worst returns the largest kept squared distance, +Inf while not full.
func (h maxHeap) worst(k int) float64 {
	if len(h) < k {
		return math.Inf(1)
	}
	return h[0].Distance
}

func (h *maxHeap) offer(idx int, dist2 float64, k int) {
	if len(*h) < k {
		heap.Push(h, Neighbor{Index: idx, Distance: dist2})
		return
	}
	if dist2 < (*h)[0].Distance {
		(*h)[0] = Neighbor{Index: idx, Distance: dist2}
		heap.Fix(h, 0)
	}
}

// sorted converts squared distances to distances, nearest first.
func (h maxHeap) sorted() []Neighbor {
	out := make([]Neighbor, len(h))
	copy(out, h)
	for i := range out {
		out[i].Distance = math.Sqrt(out[i].Distance)
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		default:
			return a.Index - b.Index
		}
	})
	return out
}
