package neighbors

import (
	"slices"

	"github.com/teranos/tally/cluster/vecmath"
)

// DefaultLeafSize is the number of points a k-d tree leaf holds.
const DefaultLeafSize = 16

// KDTree is a k-d tree stored as a flat node slice. Points are referenced
// by their position in the vectors slice given to NewKDTree.
type KDTree struct {
	vectors  [][]float64
	order    []int
	nodes    []kdNode
	leafSize int
}

type kdNode struct {
	start, end  int // range of order covered by this node
	axis        int
	split       float64
	left, right int // child node indexes, -1 for a leaf
}

// NewKDTree builds a tree over vectors. leafSize <= 0 uses DefaultLeafSize.
func NewKDTree(vectors [][]float64, leafSize int) *KDTree {
	if leafSize <= 0 {
		leafSize = DefaultLeafSize
	}
	t := &KDTree{
		vectors:  vectors,
		order:    make([]int, len(vectors)),
		leafSize: leafSize,
	}
	for i := range t.order {
		t.order[i] = i
	}
	if len(vectors) > 0 {
		t.build(0, len(vectors))
	}
	return t
}

func (t *KDTree) Len() int { return len(t.vectors) }

// build creates the node covering order[start:end] and returns its index.
// Depth is logarithmic because every split is at the median.
func (t *KDTree) build(start, end int) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, kdNode{start: start, end: end, left: -1, right: -1})
	if end-start <= t.leafSize {
		return id
	}

	axis, spread := t.widestAxis(start, end)
	if spread == 0 {
		// All points identical; nothing to split on
		return id
	}

	span := t.order[start:end]
	slices.SortFunc(span, func(a, b int) int {
		va, vb := t.vectors[a][axis], t.vectors[b][axis]
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		default:
			return a - b
		}
	})
	mid := start + (end-start)/2
	// Read before recursing: children re-sort their spans on other axes
	split := t.vectors[t.order[mid]][axis]

	left := t.build(start, mid)
	right := t.build(mid, end)

	n := &t.nodes[id]
	n.axis = axis
	n.split = split
	n.left = left
	n.right = right
	return id
}

func (t *KDTree) widestAxis(start, end int) (axis int, spread float64) {
	dims := len(t.vectors[t.order[start]])
	for d := 0; d < dims; d++ {
		lo, hi := t.vectors[t.order[start]][d], t.vectors[t.order[start]][d]
		for _, idx := range t.order[start+1 : end] {
			v := t.vectors[idx][d]
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi-lo > spread {
			axis, spread = d, hi-lo
		}
	}
	return axis, spread
}

// Search returns up to k nearest points to q, nearest first, skipping exclude.
func (t *KDTree) Search(q []float64, k int, exclude int) []Neighbor {
	if k <= 0 || len(t.nodes) == 0 {
		return nil
	}
	h := make(maxHeap, 0, k+1)
	t.search(0, q, k, exclude, &h)
	return h.sorted()
}

func (t *KDTree) search(id int, q []float64, k, exclude int, h *maxHeap) {
	n := t.nodes[id]
	if n.left < 0 {
		for _, idx := range t.order[n.start:n.end] {
			if idx == exclude {
				continue
			}
			h.offer(idx, vecmath.SquaredEuclidean(q, t.vectors[idx]), k)
		}
		return
	}

	// Left holds values <= split, right holds values >= split
	diff := q[n.axis] - n.split
	near, far := n.left, n.right
	if diff >= 0 {
		near, far = n.right, n.left
	}
	t.search(near, q, k, exclude, h)
	if diff*diff <= h.worst(k) {
		t.search(far, q, k, exclude, h)
	}
}
