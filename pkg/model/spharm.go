package model

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"mritract/internal/models"
)

// Spharm feature names
const (
	SpharmMax   = "max"
	SpharmMin   = "min"
	SpharmMean  = "mean"
	SpharmOrder = "order"
	SpharmGFA   = "gfa"
	SpharmPeak  = "peak"
)

// SpharmMaxOrder is the largest supported even order
const SpharmMaxOrder = 16

// spharmFeaturePoints is the resolution used for sphere statistics
const spharmFeaturePoints = 256

// Spharm is an even-order real spherical harmonic expansion of an orientation function
type Spharm struct {
	Order  int
	Coeffs []float64
}

// NewSpharm returns a zero expansion of the given even order
func NewSpharm(order int) *Spharm {
	return &Spharm{Order: order, Coeffs: make([]float64, SpharmOrderToSize(order))}
}

// SpharmOrderToSize returns the number of coefficients of an even order
func SpharmOrderToSize(order int) int {
	return (order + 1) * (order + 2) / 2
}

// SpharmSizeToOrder inverts SpharmOrderToSize
func SpharmSizeToOrder(size int) (int, error) {
	for order := 0; order <= SpharmMaxOrder; order += 2 {
		if SpharmOrderToSize(order) == size {
			return order, nil
		}
	}
	return 0, fmt.Errorf("%w: no spherical harmonic order has %d coefficients", ErrInvalidEncoding, size)
}

// SpharmValid reports whether size is a valid coefficient count
func SpharmValid(size int) bool {
	_, err := SpharmSizeToOrder(size)
	return err == nil
}

func (s *Spharm) Type() Type            { return TypeSpharm }
func (s *Spharm) EncodingSize() int     { return len(s.Coeffs) }
func (s *Spharm) DegreesOfFreedom() int { return len(s.Coeffs) }
func (s *Spharm) Baseline() float64     { return s.Coeffs[0] }

func (s *Spharm) Encode() []float64 {
	out := make([]float64, len(s.Coeffs))
	copy(out, s.Coeffs)
	return out
}

func (s *Spharm) Decode(enc []float64) error {
	if err := checkSize(s, enc); err != nil {
		return err
	}
	copy(s.Coeffs, enc)
	return nil
}

// Eval returns the function value along a direction
func (s *Spharm) Eval(dir models.Vect3) float64 {
	return floats.Dot(s.Coeffs, SpharmBasis(s.Order, dir))
}

// Sample evaluates the expansion with a precomputed basis matrix
func (s *Spharm) Sample(basis *mat.Dense) []float64 {
	rows, _ := basis.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(basis, mat.NewVecDense(len(s.Coeffs), s.Coeffs))
	return out.RawVector().Data
}

func (s *Spharm) Features() []string {
	return []string{SpharmMax, SpharmMin, SpharmMean, SpharmOrder, SpharmGFA, SpharmPeak}
}

func (s *Spharm) Feature(name string) ([]float64, error) {
	switch name {
	case SpharmOrder:
		return []float64{float64(s.Order)}, nil
	case SpharmMean:
		return []float64{s.Coeffs[0] / math.Sqrt(4*math.Pi)}, nil
	case SpharmGFA:
		// power outside the isotropic term over the total power
		total := floats.Dot(s.Coeffs, s.Coeffs)
		if total == 0 {
			return []float64{0}, nil
		}
		return []float64{math.Sqrt(1 - s.Coeffs[0]*s.Coeffs[0]/total)}, nil
	}

	points := SpherePoints(spharmFeaturePoints)
	vals := s.Sample(SpharmBasisMatrix(s.Order, points))
	switch name {
	case SpharmMax:
		return []float64{floats.Max(vals)}, nil
	case SpharmMin:
		return []float64{floats.Min(vals)}, nil
	case SpharmPeak:
		return models.ToSlice(points[floats.MaxIdx(vals)]), nil
	}
	return nil, unknownFeature(TypeSpharm, name)
}

// Dist is the L2 distance between the two functions on the sphere
func (s *Spharm) Dist(other Model) float64 {
	o, ok := other.(*Spharm)
	if !ok {
		return math.Inf(1)
	}
	n := max(len(s.Coeffs), len(o.Coeffs))
	sum := 0.0
	for i := 0; i < n; i++ {
		var a, b float64
		if i < len(s.Coeffs) {
			a = s.Coeffs[i]
		}
		if i < len(o.Coeffs) {
			b = o.Coeffs[i]
		}
		sum += (a - b) * (a - b)
	}
	return math.Sqrt(sum)
}

func (s *Spharm) Clone() Model {
	return &Spharm{Order: s.Order, Coeffs: s.Encode()}
}

// SpharmBasis evaluates the real symmetric basis along a direction. Index
// l(l+1)/2+m holds degree l and order m.
func SpharmBasis(order int, dir models.Vect3) []float64 {
	d := models.Normalize(dir)
	theta := math.Acos(math.Max(-1, math.Min(1, d.Z)))
	phi := math.Atan2(d.Y, d.X)
	x := math.Cos(theta)

	out := make([]float64, SpharmOrderToSize(order))
	for l := 0; l <= order; l += 2 {
		center := l * (l + 1) / 2
		for m := 0; m <= l; m++ {
			k := shNorm(l, m) * legendre(l, m, x)
			if m == 0 {
				out[center] = k
				continue
			}
			out[center+m] = math.Sqrt2 * k * math.Cos(float64(m)*phi)
			out[center-m] = math.Sqrt2 * k * math.Sin(float64(m)*phi)
		}
	}
	return out
}

type basisKey struct {
	order int
	n     int
	first models.Vect3
	last  models.Vect3
}

var basisCache sync.Map

// SpharmBasisMatrix returns the basis evaluated at each point, one row per
// point. Results are cached by order and point set.
func SpharmBasisMatrix(order int, points []models.Vect3) *mat.Dense {
	key := basisKey{order: order, n: len(points)}
	if len(points) > 0 {
		key.first = points[0]
		key.last = points[len(points)-1]
	}
	if m, ok := basisCache.Load(key); ok {
		return m.(*mat.Dense)
	}

	size := SpharmOrderToSize(order)
	out := mat.NewDense(max(len(points), 1), size, nil)
	for i, p := range points {
		out.SetRow(i, SpharmBasis(order, p))
	}
	basisCache.Store(key, out)
	return out
}

// FitSpharm fits coefficients to samples by ridge-regularised least squares
func FitSpharm(order int, points []models.Vect3, values []float64, lambda float64) (*Spharm, error) {
	if len(points) != len(values) {
		return nil, fmt.Errorf("%w: %d points but %d values", ErrInvalidEncoding, len(points), len(values))
	}

	b := SpharmBasisMatrix(order, points)
	_, size := b.Dims()

	var ata mat.Dense
	ata.Mul(b.T(), b)
	for i := 0; i < size; i++ {
		ata.Set(i, i, ata.At(i, i)+lambda)
	}

	var aty mat.VecDense
	aty.MulVec(b.T(), mat.NewVecDense(len(values), values))

	var x mat.VecDense
	if err := x.SolveVec(&ata, &aty); err != nil {
		return nil, fmt.Errorf("fitting spherical harmonics: %w", err)
	}

	out := NewSpharm(order)
	copy(out.Coeffs, x.RawVector().Data)
	return out, nil
}

func shNorm(l, m int) float64 {
	ratio := 1.0
	for k := l - m + 1; k <= l+m; k++ {
		ratio /= float64(k)
	}
	return math.Sqrt(float64(2*l+1) / (4 * math.Pi) * ratio)
}

// legendre is the associated Legendre function without the Condon-Shortley phase
func legendre(l, m int, x float64) float64 {
	pmm := 1.0
	if m > 0 {
		somx2 := math.Sqrt((1 - x) * (1 + x))
		fact := 1.0
		for i := 1; i <= m; i++ {
			pmm *= fact * somx2
			fact += 2
		}
	}
	if l == m {
		return pmm
	}

	pmmp1 := x * float64(2*m+1) * pmm
	if l == m+1 {
		return pmmp1
	}

	var pll float64
	for ll := m + 2; ll <= l; ll++ {
		pll = (x*float64(2*ll-1)*pmmp1 - float64(ll+m-1)*pmm) / float64(ll-m)
		pmm = pmmp1
		pmmp1 = pll
	}
	return pll
}
