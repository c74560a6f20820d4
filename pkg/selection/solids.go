package selection

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
)

// Solid is a closed region with a segment intersection test
type Solid interface {
	Contains(p models.Vect3) bool

	// Intersects reports whether the segment from a to b meets the solid
	Intersects(a, b models.Vect3) (bool, error)
}

// Sampler is a solid that can draw uniform interior points
type Sampler interface {
	Sample(n int, rng *rand.Rand) []models.Vect3
}

// Sphere is a closed ball
type Sphere struct {
	Center models.Vect3
	Radius float64
}

func (s Sphere) Contains(p models.Vect3) bool {
	return r3.Norm(r3.Sub(p, s.Center)) <= s.Radius
}

func (s Sphere) Intersects(a, b models.Vect3) (bool, error) {
	ab := r3.Sub(b, a)
	den := r3.Dot(ab, ab)
	if den == 0 {
		return s.Contains(a), nil
	}
	t := math.Max(0, math.Min(1, r3.Dot(r3.Sub(s.Center, a), ab)/den))
	return s.Contains(r3.Add(a, r3.Scale(t, ab))), nil
}

// Sample draws points uniformly inside the ball
func (s Sphere) Sample(n int, rng *rand.Rand) []models.Vect3 {
	out := make([]models.Vect3, 0, n)
	for len(out) < n {
		v := models.Vect3{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 2*rng.Float64() - 1}
		if r3.Norm(v) <= 1 {
			out = append(out, r3.Add(s.Center, r3.Scale(s.Radius, v)))
		}
	}
	return out
}

// Box is an axis-aligned box
type Box struct {
	Min, Max models.Vect3
}

func (b Box) Contains(p models.Vect3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Intersects uses the slab test
func (b Box) Intersects(p, q models.Vect3) (bool, error) {
	lo, hi := 0.0, 1.0
	d := r3.Sub(q, p)
	for _, axis := range [3][4]float64{
		{p.X, d.X, b.Min.X, b.Max.X},
		{p.Y, d.Y, b.Min.Y, b.Max.Y},
		{p.Z, d.Z, b.Min.Z, b.Max.Z},
	} {
		origin, dir, bmin, bmax := axis[0], axis[1], axis[2], axis[3]
		if dir == 0 {
			if origin < bmin || origin > bmax {
				return false, nil
			}
			continue
		}
		t0, t1 := (bmin-origin)/dir, (bmax-origin)/dir
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		lo, hi = math.Max(lo, t0), math.Min(hi, t1)
		if lo > hi {
			return false, nil
		}
	}
	return true, nil
}

// Sample draws points uniformly inside the box
func (b Box) Sample(n int, rng *rand.Rand) []models.Vect3 {
	out := make([]models.Vect3, n)
	d := r3.Sub(b.Max, b.Min)
	for i := range out {
		out[i] = models.Vect3{
			X: b.Min.X + rng.Float64()*d.X,
			Y: b.Min.Y + rng.Float64()*d.Y,
			Z: b.Min.Z + rng.Float64()*d.Z,
		}
	}
	return out
}

// Plane is the half space Normal·p + D < 0
type Plane struct {
	Normal models.Vect3
	D      float64
}

func (pl Plane) Contains(p models.Vect3) bool {
	return r3.Dot(pl.Normal, p)+pl.D < 0
}

// Intersects reports whether the segment crosses the plane. A segment
// parallel to the plane has no unique crossing.
func (pl Plane) Intersects(a, b models.Vect3) (bool, error) {
	den := r3.Dot(pl.Normal, r3.Sub(a, b))
	if math.Abs(den) < 1e-12 {
		return false, fmt.Errorf("%w: segment parallel to plane", ErrGeometricDegeneracy)
	}
	u := (r3.Dot(pl.Normal, a) + pl.D) / den
	return u >= 0 && u <= 1, nil
}

// Solids is an ordered set of solids. Labels are one-based positions.
type Solids []Solid

func (s Solids) Label(p models.Vect3) int {
	for i, solid := range s {
		if solid.Contains(p) {
			return i + 1
		}
	}
	return 0
}

func (s Solids) Contains(p models.Vect3) bool {
	return s.Label(p) != 0
}

// Intersects reports whether the segment meets any solid. Degenerate tests
// count as no intersection.
func (s Solids) Intersects(a, b models.Vect3) bool {
	for _, solid := range s {
		hit, err := solid.Intersects(a, b)
		if err != nil && errors.Is(err, ErrGeometricDegeneracy) {
			continue
		}
		if hit {
			return true
		}
	}
	return false
}

// Sample draws n points from every sampleable solid, in order
func (s Solids) Sample(n int, rng *rand.Rand) []models.Vect3 {
	var out []models.Vect3
	for _, solid := range s {
		if sampler, ok := solid.(Sampler); ok {
			out = append(out, sampler.Sample(n, rng)...)
		}
	}
	return out
}
