package hdbscan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/tally/cluster/neighbors"
	"github.com/teranos/tally/errors"
)

// assertSpanningTree checks n-1 edges that connect every point without a cycle.
func assertSpanningTree(t *testing.T, n int, edges []Edge) {
	t.Helper()
	require.Len(t, edges, n-1)
	uf := newUnionFind(n)
	for _, e := range edges {
		ra, rb := uf.find(e.From), uf.find(e.To)
		require.NotEqual(t, ra, rb, "edge %d-%d closes a cycle", e.From, e.To)
		uf.union(ra, rb)
	}
	root := uf.find(0)
	for i := 1; i < n; i++ {
		assert.Equal(t, root, uf.find(i), "point %d disconnected", i)
	}
}

func TestMutualReachabilityMST_SpanningTree(t *testing.T) {
	for _, n := range []int{2, 3, 17, 150} {
		vectors := randomVectors(n, 3, uint64(n))
		core, err := neighbors.CoreDistances(vectors, 1, neighbors.DefaultMaxTreeDims)
		require.NoError(t, err)

		edges, err := MutualReachabilityMST(vectors, core, 1)
		require.NoError(t, err)
		assertSpanningTree(t, n, edges)

		for _, e := range edges {
			assert.GreaterOrEqual(t, e.Weight, core[e.From])
			assert.GreaterOrEqual(t, e.Weight, core[e.To])
		}
	}
}

func TestMutualReachabilityMST_ThreePoints(t *testing.T) {
	vectors := [][]float64{{0, 0}, {0, 0.1}, {10, 10}}
	core := []float64{0.1, 0.1, math.Hypot(10, 9.9)}

	edges, err := MutualReachabilityMST(vectors, core, 1)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, 0, edges[0].From)
	assert.Equal(t, 1, edges[0].To)
	assert.InDelta(t, 0.1, edges[0].Weight, 1e-12)
	assert.Equal(t, 1, edges[1].From)
	assert.Equal(t, 2, edges[1].To)
	assert.InDelta(t, core[2], edges[1].Weight, 1e-12)
}

func TestMutualReachabilityMST_Alpha(t *testing.T) {
	vectors := [][]float64{{0}, {4}}
	edges, err := MutualReachabilityMST(vectors, []float64{1, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, edges[0].Weight)

	// Core distance dominates once scaled distance drops below it
	edges, err = MutualReachabilityMST(vectors, []float64{3, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, edges[0].Weight)
}

func TestMutualReachabilityMST_SinglePoint(t *testing.T) {
	edges, err := MutualReachabilityMST([][]float64{{1, 2}}, []float64{0}, 1)
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestMutualReachabilityMST_Invalid(t *testing.T) {
	vectors := [][]float64{{0}, {1}}

	_, err := MutualReachabilityMST(vectors, []float64{1}, 1)
	assert.True(t, errors.IsMalformedInput(err))

	_, err = MutualReachabilityMST(vectors, []float64{1, -1}, 1)
	assert.True(t, errors.IsMalformedInput(err))

	_, err = MutualReachabilityMST(vectors, []float64{1, math.NaN()}, 1)
	assert.True(t, errors.IsMalformedInput(err))

	_, err = MutualReachabilityMST(vectors, []float64{1, 1}, 0)
	assert.True(t, errors.IsInvalidRequestError(err))

	_, err = MutualReachabilityMST(nil, nil, 1)
	assert.True(t, errors.IsInsufficientData(err))
}
