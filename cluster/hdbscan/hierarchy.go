package hdbscan

import (
	"cmp"
	"math"
	"slices"

	"github.com/teranos/tally/errors"
)

// Node is one merge of the single-linkage hierarchy. Ids below the point
// count are points; node k of Hierarchy.Nodes has id Points+k.
type Node struct {
	Left     int
	Right    int
	Distance float64
	Size     int
}

// Hierarchy is the merge tree over Points points. Nodes is append-only in
// merge order, so distances never decrease along it.
type Hierarchy struct {
	Points int
	Nodes  []Node
}

// Root returns the id of the last merge, or 0 for a single point.
func (h *Hierarchy) Root() int {
	if h.Points <= 1 {
		return 0
	}
	return 2*h.Points - 2
}

// IsLeaf reports whether id is an original point.
func (h *Hierarchy) IsLeaf(id int) bool { return id < h.Points }

// Node returns the merge with the given id. id must not be a leaf.
func (h *Hierarchy) Node(id int) Node { return h.Nodes[id-h.Points] }

// Size returns the number of points under id.
func (h *Hierarchy) Size(id int) int {
	if h.IsLeaf(id) {
		return 1
	}
	return h.Node(id).Size
}

// Leaves returns the points under id in ascending order.
func (h *Hierarchy) Leaves(id int) []int {
	out := make([]int, 0, h.Size(id))
	stack := []int{id}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h.IsLeaf(top) {
			out = append(out, top)
			continue
		}
		n := h.Node(top)
		stack = append(stack, n.Left, n.Right)
	}
	slices.Sort(out)
	return out
}

// BuildHierarchy replays MST edges, lightest first, through a weighted
// union-find and records one Node per merge. Edges are ordered by weight
// and then by endpoints, so the result depends only on the edge set.
func BuildHierarchy(points int, edges []Edge) (*Hierarchy, error) {
	if points < 1 {
		return nil, errors.InsufficientDataf("hierarchy needs at least one point")
	}
	if len(edges) != points-1 {
		return nil, errors.MalformedInputf("expected %d edges for %d points, got %d", points-1, points, len(edges))
	}

	sorted := make([]Edge, len(edges))
	for i, e := range edges {
		if e.Weight < 0 || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
			return nil, errors.MalformedInputf("edge %d has weight %v", i, e.Weight)
		}
		if e.From < 0 || e.From >= points || e.To < 0 || e.To >= points {
			return nil, errors.MalformedInputf("edge %d (%d-%d) is outside 0..%d", i, e.From, e.To, points-1)
		}
		// Canonical orientation so only the edge set matters
		if e.From > e.To {
			e.From, e.To = e.To, e.From
		}
		sorted[i] = e
	}
	slices.SortFunc(sorted, func(a, b Edge) int {
		return cmp.Or(
			cmp.Compare(a.Weight, b.Weight),
			cmp.Compare(a.From, b.From),
			cmp.Compare(a.To, b.To),
		)
	})

	uf := newUnionFind(points)
	label := make([]int, points) // union-find root -> hierarchy id
	for i := range label {
		label[i] = i
	}

	h := &Hierarchy{Points: points, Nodes: make([]Node, 0, len(sorted))}
	for k, e := range sorted {
		ra, rb := uf.find(e.From), uf.find(e.To)
		if ra == rb {
			return nil, errors.MalformedInputf("edge %d-%d closes a cycle", e.From, e.To)
		}
		left, right := label[ra], label[rb]
		if left > right {
			left, right = right, left
		}
		root := uf.union(ra, rb)
		h.Nodes = append(h.Nodes, Node{
			Left:     left,
			Right:    right,
			Distance: e.Weight,
			Size:     uf.size[root],
		})
		label[root] = points + k
	}

	return h, nil
}

// unionFind is weighted by component size with path compression.
// find is iterative so deep chains cannot exhaust the stack.
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	root := x
	for uf.parent[root] != root {
		root = uf.parent[root]
	}
	for uf.parent[x] != root {
		next := uf.parent[x]
		uf.parent[x] = root
		x = next
	}
	return root
}

// union joins two roots and returns the surviving root.
func (uf *unionFind) union(a, b int) int {
	if uf.size[a] < uf.size[b] {
		a, b = b, a
	}
	uf.parent[b] = a
	uf.size[a] += uf.size[b]
	return a
}
