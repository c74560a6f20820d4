package tracking

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
)

// choose returns the index of the candidate picked by the probabilistic
// rule: field weights raised to ProbPower, times an angular prior, times a
// force prior, then either the most likely one or a categorical draw.
func (t *Tracker) choose(pos models.Vect3, cands []vertex, weights []float64, rng *rand.Rand) int {
	n := len(cands)
	probs := make([]float64, n)
	for i, w := range weights {
		if math.Abs(t.ProbPower-1) > 1e-6 {
			w = math.Pow(w, t.ProbPower)
		}
		probs[i] = w
	}
	normalizeSum(probs)

	if t.ProbAngle != 0 {
		prior := make([]float64, n)
		for i, c := range cands {
			prior[i] = math.Exp(-t.ProbAngle * c.angle / t.Angle)
		}
		normalizeSum(prior)
		floats.Mul(probs, prior)
	}

	if t.Force != nil {
		if f := t.Force(pos); r3.Norm(f) > 1e-12 {
			prior := make([]float64, n)
			for i, c := range cands {
				d := r3.Dot(f, c.dir)
				if t.Vector {
					d = (d + 1) / 2
				}
				prior[i] = math.Exp(-(1 - math.Abs(d)) / (t.GForce + 1e-6))
			}
			if t.GForce == 0 {
				best := floats.MaxIdx(prior)
				for i := range prior {
					prior[i] = 0
				}
				prior[best] = 1
			}
			normalizeSum(prior)
			floats.Mul(probs, prior)
		}
	}
	normalizeSum(probs)

	if t.ProbMax {
		return floats.MaxIdx(probs)
	}

	cumsum := make([]float64, n)
	floats.CumSum(cumsum, probs)
	u := rng.Float64()
	for i, c := range cumsum {
		if u < c {
			return i
		}
	}
	return rng.IntN(n)
}

// normalizeSum scales v to unit sum, leaving an all-zero vector alone
func normalizeSum(v []float64) {
	if s := floats.Sum(v); s > 0 {
		floats.Scale(1/s, v)
	}
}
