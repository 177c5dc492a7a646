package hdbscan

import (
	"math"
	"slices"

	"github.com/teranos/tally/errors"
)

// Noise is the label of points outside every selected cluster.
const Noise = -1

// CandidateCluster is one lineage of the condensed tree. Lambdas are
// inverse distances: a cluster is born at Birth and splits or dissolves
// at Death, with Birth <= Death.
type CandidateCluster struct {
	Node      int // hierarchy id where the lineage starts
	Parent    int // index into Condensed.Clusters, -1 at the top
	Children  []int
	Birth     float64
	Death     float64
	Stability float64
	Size      int
	Selected  bool
}

// Condensed is the hierarchy collapsed to lineages of at least the
// minimum cluster size.
type Condensed struct {
	Clusters []CandidateCluster
	// PointLambda is the lambda at which each point left the last lineage
	// containing it.
	PointLambda []float64
}

// SelectedCluster describes one cluster of the flat result.
type SelectedCluster struct {
	Label     int
	Size      int
	Stability float64
	Birth     float64
	Death     float64
}

// Extraction is the flat clustering read off a hierarchy.
type Extraction struct {
	// Labels is aligned with the input points; Noise marks unassigned ones.
	Labels []int
	// Probabilities is the strength of each point's membership in its
	// cluster, in [0, 1]; 0 for noise.
	Probabilities []float64
	Clusters      []SelectedCluster
	Condensed     *Condensed
}

// NumNoise returns how many points carry the Noise label.
func (e *Extraction) NumNoise() int {
	n := 0
	for _, l := range e.Labels {
		if l == Noise {
			n++
		}
	}
	return n
}

// Extract selects a flat clustering from h by excess of mass.
//
// The root itself is never a cluster: each child of the root holding at
// least minClusterSize points starts a lineage, smaller children are noise.
// Far outliers hanging off such a child are shed as noise before the
// lineage starts (see shedOutliers).
// Walking down, a merge whose children both reach minClusterSize is a true
// split and ends the lineage; otherwise the small side falls out of the
// lineage as it goes. Stability of a lineage is the sum over its points of
// (lambda when the point left - lambda at birth). Bottom-up, a lineage is
// kept when its stability is at least the summed best stability of its
// descendants. minClusterSize below 2 is treated as 2.
func Extract(h *Hierarchy, minClusterSize int) (*Extraction, error) {
	if h == nil || h.Points < 1 {
		return nil, errors.InsufficientDataf("empty hierarchy")
	}
	if len(h.Nodes) != h.Points-1 {
		return nil, errors.MalformedInputf("hierarchy over %d points has %d nodes", h.Points, len(h.Nodes))
	}
	if minClusterSize < 1 {
		return nil, errors.NewInvalidRequestError("minClusterSize must be >= 1, got %d", minClusterSize)
	}
	mcs := max(minClusterSize, 2)

	condensed := condense(h, mcs)
	selectClusters(condensed)
	return label(h, condensed), nil
}

// lambdaScale converts merge distances to lambdas. Zero distances map to
// twice the lambda of the smallest positive distance so stabilities stay finite.
type lambdaScale struct {
	zero float64
}

func newLambdaScale(h *Hierarchy) lambdaScale {
	minPositive := math.Inf(1)
	for _, n := range h.Nodes {
		if n.Distance > 0 && n.Distance < minPositive {
			minPositive = n.Distance
		}
	}
	if math.IsInf(minPositive, 1) {
		return lambdaScale{zero: 1}
	}
	return lambdaScale{zero: 2 / minPositive}
}

func (s lambdaScale) of(distance float64) float64 {
	if distance <= 0 {
		return s.zero
	}
	return 1 / distance
}

type lineageStep struct {
	node    int
	cluster int
}

func condense(h *Hierarchy, mcs int) *Condensed {
	c := &Condensed{PointLambda: make([]float64, h.Points)}
	if h.Points < 2 {
		return c
	}
	scale := newLambdaScale(h)

	fallOut := func(node, cluster int, lambda float64) {
		for _, p := range h.Leaves(node) {
			c.PointLambda[p] = lambda
		}
		if cluster >= 0 {
			cc := &c.Clusters[cluster]
			cc.Stability += float64(h.Size(node)) * (lambda - cc.Birth)
		}
	}
	start := func(node, parent int, birth float64) int {
		c.Clusters = append(c.Clusters, CandidateCluster{
			Node:   node,
			Parent: parent,
			Birth:  birth,
			Death:  birth,
			Size:   h.Size(node),
		})
		id := len(c.Clusters) - 1
		if parent >= 0 {
			c.Clusters[parent].Children = append(c.Clusters[parent].Children, id)
		}
		return id
	}

	var stack []lineageStep
	root := h.Node(h.Root())
	rootLambda := scale.of(root.Distance)
	for _, child := range []int{root.Left, root.Right} {
		if h.Size(child) < mcs {
			fallOut(child, -1, rootLambda)
			continue
		}
		node, birth := shedOutliers(h, child, mcs, rootLambda, scale, func(small int, lambda float64) {
			fallOut(small, -1, lambda)
		})
		stack = append(stack, lineageStep{node: node, cluster: start(node, -1, birth)})
	}

	for len(stack) > 0 {
		step := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if h.IsLeaf(step.node) {
			// Only reachable when a lineage narrows to one point
			fallOut(step.node, step.cluster, c.Clusters[step.cluster].Birth)
			continue
		}

		n := h.Node(step.node)
		lambda := scale.of(n.Distance)
		cc := &c.Clusters[step.cluster]
		leftBig := h.Size(n.Left) >= mcs
		rightBig := h.Size(n.Right) >= mcs

		switch {
		case leftBig && rightBig:
			cc.Stability += float64(n.Size) * (lambda - cc.Birth)
			cc.Death = lambda
			parent := step.cluster
			for _, child := range []int{n.Left, n.Right} {
				stack = append(stack, lineageStep{node: child, cluster: start(child, parent, lambda)})
			}
		case leftBig:
			fallOut(n.Right, step.cluster, lambda)
			stack = append(stack, lineageStep{node: n.Left, cluster: step.cluster})
		case rightBig:
			fallOut(n.Left, step.cluster, lambda)
			stack = append(stack, lineageStep{node: n.Right, cluster: step.cluster})
		default:
			fallOut(step.node, step.cluster, lambda)
			cc = &c.Clusters[step.cluster]
			cc.Death = lambda
		}
	}

	return c
}

// outlierGap is how many times longer than every link inside a component
// the link to a shed piece must be for that piece to count as outlying.
const outlierGap = 2.0

// shedOutliers walks down from a child of the root while each merge only
// attaches a piece smaller than mcs by a link more than outlierGap times
// the remaining component's longest internal link. Those pieces never
// belong to the lineage and are passed to shed. It returns the node where
// the lineage starts and its birth lambda.
func shedOutliers(h *Hierarchy, node, mcs int, birth float64, scale lambdaScale, shed func(small int, lambda float64)) (int, float64) {
	for !h.IsLeaf(node) {
		n := h.Node(node)
		big, small := n.Left, n.Right
		if h.Size(small) > h.Size(big) {
			big, small = small, big
		}
		if h.Size(small) >= mcs || h.Size(big) < mcs || h.IsLeaf(big) {
			return node, birth
		}
		if n.Distance <= outlierGap*h.Node(big).Distance {
			return node, birth
		}
		birth = scale.of(n.Distance)
		shed(small, birth)
		node = big
	}
	return node, birth
}

// selectClusters marks the lineages of the flat clustering. Children are
// always created after their parent, so a reverse scan is bottom-up.
func selectClusters(c *Condensed) {
	best := make([]float64, len(c.Clusters))
	for i := len(c.Clusters) - 1; i >= 0; i-- {
		cc := &c.Clusters[i]
		var childSum float64
		for _, child := range cc.Children {
			childSum += best[child]
		}
		if len(cc.Children) == 0 || cc.Stability >= childSum {
			cc.Selected = true
			best[i] = cc.Stability
		} else {
			best[i] = childSum
		}
	}

	// A selected lineage shadows everything below it
	var stack []int
	for i := range c.Clusters {
		if c.Clusters[i].Parent == -1 {
			stack = append(stack, i)
		}
	}
	var keep []int
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if c.Clusters[i].Selected {
			keep = append(keep, i)
			continue
		}
		stack = append(stack, c.Clusters[i].Children...)
	}
	for i := range c.Clusters {
		c.Clusters[i].Selected = false
	}
	for _, i := range keep {
		c.Clusters[i].Selected = true
	}
}

// label numbers selected clusters by their lowest point index so labels
// follow input order.
func label(h *Hierarchy, c *Condensed) *Extraction {
	ex := &Extraction{
		Labels:        make([]int, h.Points),
		Probabilities: make([]float64, h.Points),
		Condensed:     c,
	}
	for i := range ex.Labels {
		ex.Labels[i] = Noise
	}

	type member struct {
		cluster int
		points  []int
	}
	var members []member
	for i, cc := range c.Clusters {
		if cc.Selected {
			members = append(members, member{cluster: i, points: h.Leaves(cc.Node)})
		}
	}
	slices.SortFunc(members, func(a, b member) int { return a.points[0] - b.points[0] })

	for lbl, m := range members {
		cc := c.Clusters[m.cluster]
		// Points that went on in a deeper, unselected lineage count as
		// leaving at this cluster's death
		strength := func(p int) float64 { return min(c.PointLambda[p], cc.Death) }
		maxLambda := 0.0
		for _, p := range m.points {
			maxLambda = max(maxLambda, strength(p))
		}
		for _, p := range m.points {
			ex.Labels[p] = lbl
			if maxLambda > 0 {
				ex.Probabilities[p] = strength(p) / maxLambda
			} else {
				ex.Probabilities[p] = 1
			}
		}
		ex.Clusters = append(ex.Clusters, SelectedCluster{
			Label:     lbl,
			Size:      len(m.points),
			Stability: cc.Stability,
			Birth:     cc.Birth,
			Death:     cc.Death,
		})
	}
	return ex
}
