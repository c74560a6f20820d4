package cluster

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/linalg"
	"mritract/internal/models"
)

// AxialResult holds unit axis centers and per-line labels in [0, k)
type AxialResult struct {
	Centers []r3.Vec
	Labels  []int
	Cost    float64
}

// K is the number of clusters
func (r *AxialResult) K() int {
	return len(r.Centers)
}

// AxialDist is the dissimilarity of two undirected lines, 1 - cos^2
func AxialDist(a, b r3.Vec) float64 {
	d := r3.Dot(models.Normalize(a), models.Normalize(b))
	return 1 - d*d
}

// AxialMean returns the principal eigenvector of the weighted dyadic sum
func AxialMean(lines []r3.Vec, weights []float64) r3.Vec {
	var sum linalg.Sym3
	for i, l := range lines {
		sum.AddScaled(weight(weights, i), linalg.Outer(models.Normalize(l)))
	}
	e, ok := linalg.Eig(sum)
	if !ok {
		return r3.Vec{}
	}
	return e.Vectors[0]
}

// Axial clusters undirected lines. Initial centers, when given, seed the
// first clusters of every restart.
func Axial(ctx context.Context, lines []r3.Vec, weights []float64, k int, initial []r3.Vec, opts Options, rng *rand.Rand) (*AxialResult, error) {
	if len(lines) == 0 || k <= 0 {
		return nil, fmt.Errorf("%w: %d lines, k=%d", ErrInvalidInput, len(lines), k)
	}
	if weights != nil && len(weights) != len(lines) {
		return nil, fmt.Errorf("%w: %d weights for %d lines", ErrInvalidInput, len(weights), len(lines))
	}
	k = min(k, len(lines))
	opts = opts.normalized()

	var best *AxialResult
	for r := 0; r < opts.Restarts; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := axialLloyd(lines, weights, k, initial, opts.MaxIter, rng)
		if best == nil || res.Cost < best.Cost {
			best = res
		}
	}
	return best, nil
}

func axialLloyd(lines []r3.Vec, weights []float64, k int, initial []r3.Vec, maxIter int, rng *rand.Rand) *AxialResult {
	n := len(lines)
	centers := make([]r3.Vec, k)
	start := 0
	for ; start < k && start < len(initial); start++ {
		centers[start] = models.Normalize(initial[start])
	}
	for i, idx := range rng.Perm(n)[:k-start] {
		centers[start+i] = models.Normalize(lines[idx])
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}

	members := make([][]r3.Vec, k)
	memberWeights := make([][]float64, k)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, l := range lines {
			best, bestDist := 0, math.Inf(1)
			for j, c := range centers {
				if d := AxialDist(l, c); d < bestDist {
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

		for j := range members {
			members[j] = members[j][:0]
			memberWeights[j] = memberWeights[j][:0]
		}
		for i, l := range lines {
			members[labels[i]] = append(members[labels[i]], l)
			memberWeights[labels[i]] = append(memberWeights[labels[i]], weight(weights, i))
		}
		for j := range centers {
			if len(members[j]) == 0 {
				centers[j] = models.Normalize(lines[rng.IntN(n)])
				continue
			}
			if c := AxialMean(members[j], memberWeights[j]); c != (r3.Vec{}) {
				centers[j] = c
			}
		}
	}

	cost := 0.0
	for i, l := range lines {
		cost += weight(weights, i) * AxialDist(l, centers[labels[i]])
	}

	return &AxialResult{Centers: centers, Labels: labels, Cost: cost}
}
