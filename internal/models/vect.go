package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Normalize returns the unit vector of v, or the zero vector when v is zero
func Normalize(v Vect3) Vect3 {
	n := r3.Norm(v)
	if n == 0 || math.IsNaN(n) {
		return Vect3{}
	}
	return r3.Scale(1/n, v)
}

// IsUnit reports whether v has unit length within a small tolerance
func IsUnit(v Vect3) bool {
	return math.Abs(r3.Norm(v)-1) < 1e-6
}

// Finite reports whether every component of v is finite
func Finite(v Vect3) bool {
	for _, x := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// AngleDeg returns the angle between two directions in degrees
func AngleDeg(a, b Vect3) float64 {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	c := r3.Dot(a, b) / (na * nb)
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c) * 180 / math.Pi
}

// AngleLineDeg returns the angle between two axes in degrees, ignoring sign
func AngleLineDeg(a, b Vect3) float64 {
	d := AngleDeg(a, b)
	if d > 90 {
		return 180 - d
	}
	return d
}

// FromSlice builds a vector from the first three values
func FromSlice(v []float64) Vect3 {
	return Vect3{X: v[0], Y: v[1], Z: v[2]}
}

// ToSlice returns the components as a slice
func ToSlice(v Vect3) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

// Perp returns a unit vector perpendicular to v
func Perp(v Vect3) Vect3 {
	a := Vect3{X: 1}
	if math.Abs(v.X) > 0.9 {
		a = Vect3{Y: 1}
	}
	return Normalize(r3.Cross(v, a))
}
