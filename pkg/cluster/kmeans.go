package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// ErrInvalidInput is returned for empty data or a bad cluster count
var ErrInvalidInput = errors.New("invalid clustering input")

// Options control Lloyd iterations
type Options struct {
	// MaxIter bounds the number of assignment/update rounds
	MaxIter int

	// Restarts runs the clustering this many times and keeps the lowest cost
	Restarts int
}

// DefaultOptions returns the settings used when none are given
func DefaultOptions() Options {
	return Options{MaxIter: 100, Restarts: 1}
}

func (o Options) normalized() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = 100
	}
	if o.Restarts <= 0 {
		o.Restarts = 1
	}
	return o
}

// Result holds cluster centers and per-point labels in [0, k)
type Result struct {
	Centers [][]float64
	Labels  []int
	Cost    float64
}

// K is the number of clusters
func (r *Result) K() int {
	return len(r.Centers)
}

// Assign returns the closest center to a point
func (r *Result) Assign(p []float64) int {
	best, bestDist := -1, math.Inf(1)
	for j, c := range r.Centers {
		if d := sqdist(p, c); d < bestDist {
			best, bestDist = j, d
		}
	}
	return best
}

// KMeans clusters points with weighted Lloyd iterations and k-means++
// seeding. Weights may be nil for uniform weighting.
func KMeans(ctx context.Context, points [][]float64, weights []float64, k int, opts Options, rng *rand.Rand) (*Result, error) {
	if len(points) == 0 || k <= 0 {
		return nil, fmt.Errorf("%w: %d points, k=%d", ErrInvalidInput, len(points), k)
	}
	if weights != nil && len(weights) != len(points) {
		return nil, fmt.Errorf("%w: %d weights for %d points", ErrInvalidInput, len(weights), len(points))
	}
	k = min(k, len(points))
	opts = opts.normalized()

	var best *Result
	for r := 0; r < opts.Restarts; r++ {
		res, err := lloyd(ctx, points, weights, k, opts.MaxIter, rng)
		if err != nil {
			return nil, err
		}
		if best == nil || res.Cost < best.Cost {
			best = res
		}
	}
	return best, nil
}

func lloyd(ctx context.Context, points [][]float64, weights []float64, k, maxIter int, rng *rand.Rand) (*Result, error) {
	dim := len(points[0])
	n := len(points)
	centers := seedPlusPlus(points, weights, k, rng)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	mix := make([]float64, k)

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for j, c := range centers {
				if d := sqdist(p, c); d < bestDist {
					best, bestDist = j, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		for j := range centers {
			for d := range centers[j] {
				centers[j][d] = 0
			}
			mix[j] = 0
		}
		for i, p := range points {
			w := weight(weights, i)
			floats.AddScaled(centers[labels[i]], w, p)
			mix[labels[i]] += w
		}
		for j := range centers {
			if mix[j] > 0 {
				floats.Scale(1/mix[j], centers[j])
				continue
			}
			// empty cluster, reseed from a random point
			centers[j] = append(make([]float64, 0, dim), points[rng.IntN(n)]...)
		}
	}

	cost := 0.0
	for i, p := range points {
		cost += weight(weights, i) * sqdist(p, centers[labels[i]])
	}

	return &Result{Centers: centers, Labels: labels, Cost: cost}, nil
}

func seedPlusPlus(points [][]float64, weights []float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	centers := make([][]float64, 0, k)
	centers = append(centers, clone(points[rng.IntN(n)]))

	dists := make([]float64, n)
	for len(centers) < k {
		total := 0.0
		for i, p := range points {
			d := math.Inf(1)
			for _, c := range centers {
				d = math.Min(d, sqdist(p, c))
			}
			dists[i] = d * weight(weights, i)
			total += dists[i]
		}

		if total <= 0 {
			centers = append(centers, clone(points[rng.IntN(n)]))
			continue
		}

		target := rng.Float64() * total
		pick := n - 1
		for i, d := range dists {
			target -= d
			if target <= 0 {
				pick = i
				break
			}
		}
		centers = append(centers, clone(points[pick]))
	}
	return centers
}

func sqdist(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}

func weight(weights []float64, i int) float64 {
	if weights == nil {
		return 1
	}
	return weights[i]
}

func clone(v []float64) []float64 {
	return append(make([]float64, 0, len(v)), v...)
}
