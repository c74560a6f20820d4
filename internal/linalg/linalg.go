// Package linalg wraps the small fixed-size symmetric eigen problems used by
// the model code on top of gonum/mat.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sym3 is a symmetric 3x3 matrix stored densely
type Sym3 [3][3]float64

// Eigen is an eigen decomposition with values in descending order
type Eigen struct {
	Values  [3]float64
	Vectors [3]r3.Vec
}

// Outer returns the dyadic product v v^T
func Outer(v r3.Vec) Sym3 {
	a := [3]float64{v.X, v.Y, v.Z}
	var out Sym3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i] * a[j]
		}
	}
	return out
}

// AddScaled accumulates w*b into a
func (a *Sym3) AddScaled(w float64, b Sym3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a[i][j] += w * b[i][j]
		}
	}
}

// Scale returns s*a
func (a Sym3) Scale(s float64) Sym3 {
	var out Sym3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = s * a[i][j]
		}
	}
	return out
}

// Sub returns a-b
func (a Sym3) Sub(b Sym3) Sym3 {
	var out Sym3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = a[i][j] - b[i][j]
		}
	}
	return out
}

// NormF returns the Frobenius norm
func (a Sym3) NormF() float64 {
	s := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s += a[i][j] * a[i][j]
		}
	}
	return math.Sqrt(s)
}

// Flatten returns the row-major entries
func (a Sym3) Flatten() []float64 {
	return []float64{a[0][0], a[0][1], a[0][2], a[1][0], a[1][1], a[1][2], a[2][0], a[2][1], a[2][2]}
}

// Sym3From builds a matrix from row-major entries
func Sym3From(v []float64) Sym3 {
	var out Sym3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = v[3*i+j]
		}
	}
	return out
}

// Eig decomposes a symmetric matrix. The boolean is false when the
// factorization fails, e.g. for non-finite input.
func Eig(a Sym3) (Eigen, bool) {
	var out Eigen
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if math.IsNaN(a[i][j]) || math.IsInf(a[i][j], 0) {
				return out, false
			}
		}
	}

	sym := mat.NewSymDense(3, []float64{
		a[0][0], 0.5 * (a[0][1] + a[1][0]), 0.5 * (a[0][2] + a[2][0]),
		0.5 * (a[0][1] + a[1][0]), a[1][1], 0.5 * (a[1][2] + a[2][1]),
		0.5 * (a[0][2] + a[2][0]), 0.5 * (a[1][2] + a[2][1]), a[2][2],
	})

	var es mat.EigenSym
	if !es.Factorize(sym, true) {
		return out, false
	}

	// gonum returns ascending eigenvalues
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	for n := 0; n < 3; n++ {
		col := 2 - n
		out.Values[n] = vals[col]
		out.Vectors[n] = r3.Vec{X: vecs.At(0, col), Y: vecs.At(1, col), Z: vecs.At(2, col)}
	}

	return out, true
}

// Compose rebuilds a matrix from an eigen decomposition
func Compose(e Eigen) Sym3 {
	var out Sym3
	for n := 0; n < 3; n++ {
		out.AddScaled(e.Values[n], Outer(e.Vectors[n]))
	}
	return out
}

// MapEigenvalues applies f to the eigenvalues of a and recomposes it
func MapEigenvalues(a Sym3, f func(float64) float64) (Sym3, bool) {
	e, ok := Eig(a)
	if !ok {
		return Sym3{}, false
	}
	for n := range e.Values {
		e.Values[n] = f(e.Values[n])
	}
	return Compose(e), true
}
