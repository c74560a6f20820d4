package model

import (
	"math"
	"sync"

	"mritract/internal/models"
)

var sphereCache sync.Map

// SpherePoints returns n unit vectors spread evenly over the sphere on a
// Fibonacci lattice. The set is deterministic for a given n.
func SpherePoints(n int) []models.Vect3 {
	if n <= 0 {
		return nil
	}
	if pts, ok := sphereCache.Load(n); ok {
		return pts.([]models.Vect3)
	}

	golden := math.Pi * (3 - math.Sqrt(5))
	out := make([]models.Vect3, n)
	for i := range out {
		z := 1 - (2*float64(i)+1)/float64(n)
		r := math.Sqrt(math.Max(0, 1-z*z))
		theta := golden * float64(i)
		out[i] = models.Vect3{X: r * math.Cos(theta), Y: r * math.Sin(theta), Z: z}
	}

	sphereCache.Store(n, out)
	return out
}

// Neighbors returns, for each point, the indices of the other points within
// the given angle, treating antipodal points as distinct.
func Neighbors(points []models.Vect3, angleDeg float64) [][]int {
	cos := math.Cos(angleDeg * math.Pi / 180)
	out := make([][]int, len(points))
	for i, a := range points {
		for j, b := range points {
			if i == j {
				continue
			}
			if a.X*b.X+a.Y*b.Y+a.Z*b.Z >= cos {
				out[i] = append(out[i], j)
			}
		}
	}
	return out
}
