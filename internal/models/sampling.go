// Package models holds the plain data types shared across the tracking
// pipeline: grid geometry, model volumes and label masks.
package models

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/spatial/r3"
)

// Vect3 is a position or direction in world space
type Vect3 = r3.Vec

// Sampling describes the geometry of a regular voxel grid. It is immutable
// once constructed and is shared by reference between a volume, its masks and
// any volumes derived from it.
type Sampling struct {
	// Origin is the world position of voxel (0, 0, 0)
	Origin Vect3

	// Delta is the voxel spacing along each grid axis
	Delta Vect3

	// Quat is the grid orientation as a unit quaternion (w, x, y, z).
	// The zero value is treated as the identity rotation.
	Quat [4]float64

	// NI, NJ, NK are the voxel counts along each grid axis
	NI, NJ, NK int

	rot [3][3]float64
}

// NewSampling creates an axis-aligned sampling
func NewSampling(origin, delta Vect3, ni, nj, nk int) *Sampling {
	return NewSamplingQuat(origin, delta, [4]float64{1, 0, 0, 0}, ni, nj, nk)
}

// NewSamplingQuat creates a sampling rotated by the given quaternion
func NewSamplingQuat(origin, delta Vect3, quat [4]float64, ni, nj, nk int) *Sampling {
	s := &Sampling{Origin: origin, Delta: delta, Quat: quat, NI: ni, NJ: nj, NK: nk}
	s.rot = quatToMatrix(quat)
	return s
}

// GridSampling creates a unit-spaced grid with its origin at zero
func GridSampling(ni, nj, nk int) *Sampling {
	return NewSampling(Vect3{}, Vect3{X: 1, Y: 1, Z: 1}, ni, nj, nk)
}

func quatToMatrix(q [4]float64) [3][3]float64 {
	w, x, y, z := q[0], q[1], q[2], q[3]
	n := w*w + x*x + y*y + z*z
	if n == 0 {
		return [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	}
	s := 2 / n
	return [3][3]float64{
		{1 - s*(y*y+z*z), s * (x*y - w*z), s * (x*z + w*y)},
		{s * (x*y + w*z), 1 - s*(x*x+z*z), s * (y*z - w*x)},
		{s * (x*z - w*y), s * (y*z + w*x), 1 - s*(x*x+y*y)},
	}
}

// Size returns the total number of voxels
func (s *Sampling) Size() int {
	return s.NI * s.NJ * s.NK
}

// Index returns the flat index of a voxel
func (s *Sampling) Index(i, j, k int) int {
	return (k*s.NJ+j)*s.NI + i
}

// Ijk inverts Index
func (s *Sampling) Ijk(idx int) (int, int, int) {
	i := idx % s.NI
	j := (idx / s.NI) % s.NJ
	k := idx / (s.NI * s.NJ)
	return i, j, k
}

// Contains reports whether the voxel index lies inside the grid
func (s *Sampling) Contains(i, j, k int) bool {
	return i >= 0 && j >= 0 && k >= 0 && i < s.NI && j < s.NJ && k < s.NK
}

// ContainsWorld reports whether the nearest voxel of p lies inside the grid
func (s *Sampling) ContainsWorld(p Vect3) bool {
	i, j, k := s.Nearest(p)
	return s.Contains(i, j, k)
}

// World maps a continuous voxel index to world space
func (s *Sampling) World(v Vect3) Vect3 {
	local := Vect3{X: v.X * s.Delta.X, Y: v.Y * s.Delta.Y, Z: v.Z * s.Delta.Z}
	r := s.rotation()
	return Vect3{
		X: s.Origin.X + r[0][0]*local.X + r[0][1]*local.Y + r[0][2]*local.Z,
		Y: s.Origin.Y + r[1][0]*local.X + r[1][1]*local.Y + r[1][2]*local.Z,
		Z: s.Origin.Z + r[2][0]*local.X + r[2][1]*local.Y + r[2][2]*local.Z,
	}
}

// WorldIjk maps an integer voxel index to world space
func (s *Sampling) WorldIjk(i, j, k int) Vect3 {
	return s.World(Vect3{X: float64(i), Y: float64(j), Z: float64(k)})
}

// Voxel maps a world position to continuous voxel index space
func (s *Sampling) Voxel(p Vect3) Vect3 {
	d := r3.Sub(p, s.Origin)
	r := s.rotation()
	local := Vect3{
		X: r[0][0]*d.X + r[1][0]*d.Y + r[2][0]*d.Z,
		Y: r[0][1]*d.X + r[1][1]*d.Y + r[2][1]*d.Z,
		Z: r[0][2]*d.X + r[1][2]*d.Y + r[2][2]*d.Z,
	}
	return Vect3{X: local.X / s.Delta.X, Y: local.Y / s.Delta.Y, Z: local.Z / s.Delta.Z}
}

// Nearest returns the voxel index closest to a world position
func (s *Sampling) Nearest(p Vect3) (int, int, int) {
	v := s.Voxel(p)
	return int(math.Round(v.X)), int(math.Round(v.Y)), int(math.Round(v.Z))
}

// DeltaMax returns the largest voxel spacing
func (s *Sampling) DeltaMax() float64 {
	return math.Max(s.Delta.X, math.Max(s.Delta.Y, s.Delta.Z))
}

// DeltaMin returns the smallest voxel spacing
func (s *Sampling) DeltaMin() float64 {
	return math.Min(s.Delta.X, math.Min(s.Delta.Y, s.Delta.Z))
}

// Resample returns a grid with isotropic spacing delta covering the same
// extent, orientation and origin
func (s *Sampling) Resample(delta float64) *Sampling {
	n := func(count int, d float64) int {
		return max(1, int(math.Ceil(float64(count)*d/delta)))
	}
	return NewSamplingQuat(s.Origin, Vect3{X: delta, Y: delta, Z: delta}, s.Quat,
		n(s.NI, s.Delta.X), n(s.NJ, s.Delta.Y), n(s.NK, s.Delta.Z))
}

// Random returns a uniformly distributed world position inside a voxel
func (s *Sampling) Random(i, j, k int, rng *rand.Rand) Vect3 {
	return s.World(Vect3{
		X: float64(i) + rng.Float64() - 0.5,
		Y: float64(j) + rng.Float64() - 0.5,
		Z: float64(k) + rng.Float64() - 0.5,
	})
}

// Equal reports whether two samplings describe the same grid
func (s *Sampling) Equal(o *Sampling) bool {
	return s.Origin == o.Origin && s.Delta == o.Delta && s.NI == o.NI && s.NJ == o.NJ && s.NK == o.NK &&
		s.rotation() == o.rotation()
}

// rotation supports samplings built as struct literals
func (s *Sampling) rotation() [3][3]float64 {
	if s.rot == ([3][3]float64{}) {
		return quatToMatrix(s.Quat)
	}
	return s.rot
}
