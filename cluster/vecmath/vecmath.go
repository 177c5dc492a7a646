// Package vecmath holds the vector primitives shared by the clustering
// packages: Euclidean distance, shape validation and embedding parsing.
package vecmath

import (
	"math"

	"github.com/teranos/tally/errors"
)

// Point is an identified embedding.
type Point struct {
	ID     string
	Vector []float64
}

// Euclidean returns the Euclidean distance between a and b.
// Both vectors must have the same length.
func Euclidean(a, b []float64) float64 {
	return math.Sqrt(SquaredEuclidean(a, b))
}

// SquaredEuclidean returns the squared Euclidean distance between a and b.
func SquaredEuclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. ok is false for a zero vector.
func Normalize(v []float64) (out []float64, ok bool) {
	n := Norm(v)
	if n == 0 || math.IsInf(n, 0) || math.IsNaN(n) {
		return nil, false
	}
	out = make([]float64, len(v))
	for i, x := range v {
		out[i] = x / n
	}
	return out, true
}

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Dimensions validates that vectors is non-empty, shares one length and
// holds only finite values. It returns that shared length.
func Dimensions(vectors [][]float64) (int, error) {
	if len(vectors) == 0 {
		return 0, errors.InsufficientDataf("no vectors")
	}
	dims := len(vectors[0])
	if dims == 0 {
		return 0, errors.MalformedInputf("vector 0 is empty")
	}
	for i, v := range vectors {
		if len(v) != dims {
			return 0, errors.MalformedInputf("vector %d has %d dimensions, expected %d", i, len(v), dims)
		}
		if !IsFinite(v) {
			return 0, errors.MalformedInputf("vector %d contains non-finite values", i)
		}
	}
	return dims, nil
}

// Centroid returns the component-wise mean of vectors, or nil when empty.
func Centroid(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	c := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		for i, x := range v {
			c[i] += x
		}
	}
	n := float64(len(vectors))
	for i := range c {
		c[i] /= n
	}
	return c
}

// Vectors extracts the vectors of points in order.
func Vectors(points []Point) [][]float64 {
	out := make([][]float64, len(points))
	for i, p := range points {
		out[i] = p.Vector
	}
	return out
}
