// Package tsne projects embeddings to two dimensions with exact t-SNE
// for visualization. Coordinates are only meaningful relative to each
// other; fix Options.Seed to reproduce a layout.
package tsne

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/teranos/tally/cluster/vecmath"
	"github.com/teranos/tally/errors"
)

// Coord is a projected point.
type Coord struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Options tunes the optimization.
type Options struct {
	// Perplexity is capped at n-1 for each run.
	Perplexity   float64
	Iterations   int
	LearningRate float64
	// Seed 0 seeds from the clock.
	Seed int64
}

// DefaultOptions returns the settings used when none are configured.
func DefaultOptions() Options {
	return Options{Perplexity: 30, Iterations: 500, LearningRate: 200}
}

const (
	exaggeration     = 12.0
	exaggerationIter = 100
	momentumSwitch   = 250
	initialMomentum  = 0.5
	finalMomentum    = 0.8
	minGain          = 0.01
	betaSearchSteps  = 50
	entropyTolerance = 1e-5
	minProbability   = 1e-12
)

// Project returns one 2D coordinate per vector, aligned with the input.
// Fails with ErrInsufficientData for fewer than two vectors.
func Project(vectors [][]float64, opts Options) ([]Coord, error) {
	n := len(vectors)
	if n < 2 {
		return nil, errors.InsufficientDataf("projection needs at least 2 points, got %d", n)
	}
	if _, err := vecmath.Dimensions(vectors); err != nil {
		return nil, err
	}
	if opts.Perplexity <= 0 || opts.Iterations <= 0 || opts.LearningRate <= 0 {
		return nil, errors.NewInvalidRequestError("perplexity, iterations and learning rate must be positive")
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))

	perplexity := math.Min(opts.Perplexity, float64(n-1))
	p := jointProbabilities(squaredDistances(vectors), perplexity)

	y := make([]Coord, n)
	for i := range y {
		y[i] = Coord{X: rng.NormFloat64() * 1e-4, Y: rng.NormFloat64() * 1e-4}
	}
	optimize(y, p, opts)
	return y, nil
}

func squaredDistances(vectors [][]float64) [][]float64 {
	n := len(vectors)
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			v := vecmath.SquaredEuclidean(vectors[i], vectors[j])
			d[i][j], d[j][i] = v, v
		}
	}
	return d
}

// jointProbabilities finds per-point Gaussian precisions matching the
// perplexity by bisection, then symmetrizes the conditionals.
func jointProbabilities(d [][]float64, perplexity float64) [][]float64 {
	n := len(d)
	target := math.Log(perplexity)
	cond := make([][]float64, n)

	for i := 0; i < n; i++ {
		row := make([]float64, n)
		// Shift by the nearest distance so exp never underflows to all zeros
		nearest := math.Inf(1)
		for j := 0; j < n; j++ {
			if j != i {
				nearest = math.Min(nearest, d[i][j])
			}
		}

		beta, lo, hi := 1.0, 0.0, math.Inf(1)
		for step := 0; step < betaSearchSteps; step++ {
			var sum, weighted float64
			for j := 0; j < n; j++ {
				if j == i {
					row[j] = 0
					continue
				}
				shifted := d[i][j] - nearest
				row[j] = math.Exp(-shifted * beta)
				sum += row[j]
				weighted += shifted * row[j]
			}
			entropy := math.Log(sum) + beta*weighted/sum
			for j := range row {
				row[j] /= sum
			}

			diff := entropy - target
			if math.Abs(diff) < entropyTolerance {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				beta = (beta + lo) / 2
			}
		}
		cond[i] = row
	}

	p := make([][]float64, n)
	for i := range p {
		p[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				p[i][j] = math.Max((cond[i][j]+cond[j][i])/(2*float64(n)), minProbability)
			}
		}
	}
	return p
}

// optimize runs gradient descent with momentum and per-coordinate gains.
func optimize(y []Coord, p [][]float64, opts Options) {
	n := len(y)
	velocity := make([]Coord, n)
	gains := make([]Coord, n)
	for i := range gains {
		gains[i] = Coord{X: 1, Y: 1}
	}
	num := make([][]float64, n)
	for i := range num {
		num[i] = make([]float64, n)
	}
	grad := make([]Coord, n)
	exaggerated := min(exaggerationIter, opts.Iterations/4)

	for iter := 0; iter < opts.Iterations; iter++ {
		scale := 1.0
		if iter < exaggerated {
			scale = exaggeration
		}
		momentum := initialMomentum
		if iter >= momentumSwitch {
			momentum = finalMomentum
		}

		// Student-t affinities in the embedding
		var sumQ float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dx, dy := y[i].X-y[j].X, y[i].Y-y[j].Y
				v := 1 / (1 + dx*dx + dy*dy)
				num[i][j], num[j][i] = v, v
				sumQ += 2 * v
			}
		}

		for i := 0; i < n; i++ {
			var gx, gy float64
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := math.Max(num[i][j]/sumQ, minProbability)
				mult := (scale*p[i][j] - q) * num[i][j]
				gx += mult * (y[i].X - y[j].X)
				gy += mult * (y[i].Y - y[j].Y)
			}
			grad[i] = Coord{X: 4 * gx, Y: 4 * gy}
		}

		var meanX, meanY float64
		for i := range y {
			gains[i].X = nextGain(gains[i].X, grad[i].X, velocity[i].X)
			gains[i].Y = nextGain(gains[i].Y, grad[i].Y, velocity[i].Y)
			velocity[i].X = momentum*velocity[i].X - opts.LearningRate*gains[i].X*grad[i].X
			velocity[i].Y = momentum*velocity[i].Y - opts.LearningRate*gains[i].Y*grad[i].Y
			y[i].X += velocity[i].X
			y[i].Y += velocity[i].Y
			meanX += y[i].X
			meanY += y[i].Y
		}
		meanX /= float64(n)
		meanY /= float64(n)
		for i := range y {
			y[i].X -= meanX
			y[i].Y -= meanY
		}
	}
}

// nextGain grows the step while the gradient keeps its direction and
// shrinks it when the gradient flips.
func nextGain(gain, grad, velocity float64) float64 {
	if (grad > 0) != (velocity > 0) {
		gain += 0.2
	} else {
		gain *= 0.8
	}
	return math.Max(gain, minGain)
}
