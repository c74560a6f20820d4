package models

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Crossing is a voxel visited by a polyline, with the local unit direction
type Crossing struct {
	I, J, K int
	Dir     Vect3
}

// TraverseLine lists the voxels visited by a polyline in order. Consecutive
// duplicates are collapsed; the direction is the tangent of the segment that
// entered the voxel. Voxels outside the grid are reported too.
func (s *Sampling) TraverseLine(points []Vect3) []Crossing {
	var out []Crossing
	if len(points) == 0 {
		return out
	}

	step := 0.5 * s.DeltaMin()
	push := func(p, dir Vect3) {
		i, j, k := s.Nearest(p)
		if n := len(out); n > 0 && out[n-1].I == i && out[n-1].J == j && out[n-1].K == k {
			return
		}
		out = append(out, Crossing{I: i, J: j, K: k, Dir: dir})
	}

	if len(points) == 1 {
		push(points[0], Vect3{})
		return out
	}

	for idx := 0; idx+1 < len(points); idx++ {
		a, b := points[idx], points[idx+1]
		seg := r3.Sub(b, a)
		length := r3.Norm(seg)
		if length == 0 {
			continue
		}
		dir := r3.Scale(1/length, seg)
		n := int(math.Ceil(length / step))
		for t := 0; t <= n; t++ {
			push(r3.Add(a, r3.Scale(length*float64(t)/float64(n), dir)), dir)
		}
	}

	if len(out) == 0 {
		push(points[0], Vect3{})
	}

	return out
}
