package model

import (
	"math"

	"mritract/internal/linalg"
	"mritract/internal/models"
)

// Tensor encoding layout
const (
	TensorS0 = iota
	TensorXX
	TensorXY
	TensorYY
	TensorXZ
	TensorYZ
	TensorZZ
	TensorFW
	TensorSize
)

// Tensor feature names
const (
	TensorFeatureS0 = "S0"
	TensorFA        = "FA"
	TensorMD        = "MD"
	TensorRD        = "RD"
	TensorAD        = "AD"
	TensorCP        = "CP"
	TensorCL        = "CL"
	TensorCS        = "CS"
	TensorPD        = "PD"
	TensorFeatureFW = "FW"
	TensorRGB       = "RGB"
)

// Tensor is a single diffusion tensor with a baseline and free water fraction
type Tensor struct {
	S0 float64
	D  linalg.Sym3
	FW float64
}

// NewTensor returns a zero tensor
func NewTensor() *Tensor {
	return &Tensor{}
}

// NewTensorEigen builds a tensor from eigenvalues and orthonormal eigenvectors
func NewTensorEigen(s0 float64, vals [3]float64, vecs [3]models.Vect3) *Tensor {
	return &Tensor{S0: s0, D: linalg.Compose(linalg.Eigen{Values: vals, Vectors: vecs})}
}

func (t *Tensor) Type() Type            { return TypeTensor }
func (t *Tensor) EncodingSize() int     { return TensorSize }
func (t *Tensor) DegreesOfFreedom() int { return 7 }
func (t *Tensor) Baseline() float64     { return t.S0 }

func (t *Tensor) Encode() []float64 {
	out := make([]float64, TensorSize)
	out[TensorS0] = t.S0
	out[TensorXX] = t.D[0][0]
	out[TensorXY] = t.D[0][1]
	out[TensorYY] = t.D[1][1]
	out[TensorXZ] = t.D[0][2]
	out[TensorYZ] = t.D[1][2]
	out[TensorZZ] = t.D[2][2]
	out[TensorFW] = t.FW
	return out
}

func (t *Tensor) Decode(enc []float64) error {
	if err := checkSize(t, enc); err != nil {
		return err
	}
	t.S0 = enc[TensorS0]
	t.D = linalg.Sym3{
		{enc[TensorXX], enc[TensorXY], enc[TensorXZ]},
		{enc[TensorXY], enc[TensorYY], enc[TensorYZ]},
		{enc[TensorXZ], enc[TensorYZ], enc[TensorZZ]},
	}
	t.FW = enc[TensorFW]
	return nil
}

// Eig returns the eigen decomposition; a failed factorization yields zeros
func (t *Tensor) Eig() linalg.Eigen {
	e, ok := linalg.Eig(t.D)
	if !ok {
		return linalg.Eigen{}
	}
	return e
}

// Log returns the tensor with the matrix logarithm of its diffusion matrix
func (t *Tensor) Log() *Tensor {
	d, _ := linalg.MapEigenvalues(t.D, func(v float64) float64 {
		if v <= 0 {
			return math.Log(math.SmallestNonzeroFloat64)
		}
		return math.Log(v)
	})
	return &Tensor{S0: t.S0, D: d, FW: t.FW}
}

// Exp inverts Log
func (t *Tensor) Exp() *Tensor {
	d, _ := linalg.MapEigenvalues(t.D, math.Exp)
	return &Tensor{S0: t.S0, D: d, FW: t.FW}
}

// FA computes fractional anisotropy from eigenvalues
func FA(v1, v2, v3 float64) float64 {
	md := (v1 + v2 + v3) / 3.0
	d1, d2, d3 := v1-md, v2-md, v3-md
	num := d1*d1 + d2*d2 + d3*d3
	den := v1*v1 + v2*v2 + v3*v3
	if den == 0 {
		return 0
	}
	return math.Sqrt(1.5 * num / den)
}

func (t *Tensor) Features() []string {
	return []string{TensorFeatureS0, TensorFA, TensorMD, TensorRD, TensorAD, TensorCP, TensorCL, TensorCS, TensorPD, TensorFeatureFW, TensorRGB}
}

func (t *Tensor) Feature(name string) ([]float64, error) {
	e := t.Eig()
	v1, v2, v3 := e.Values[0], e.Values[1], e.Values[2]
	sum := v1 + v2 + v3

	ratio := func(num float64) []float64 {
		if sum == 0 {
			return []float64{0}
		}
		return []float64{num / sum}
	}

	switch name {
	case TensorFA:
		return []float64{FA(v1, v2, v3)}, nil
	case TensorMD:
		return []float64{sum / 3.0}, nil
	case TensorRD:
		return []float64{(v2 + v3) / 2.0}, nil
	case TensorAD:
		return []float64{v1}, nil
	case TensorCP:
		return ratio(2 * (v2 - v3)), nil
	case TensorCL:
		return ratio(2 * (v1 - v2)), nil
	case TensorCS:
		return ratio(3 * v3), nil
	case TensorPD:
		return models.ToSlice(e.Vectors[0]), nil
	case TensorFeatureS0:
		return []float64{t.S0}, nil
	case TensorFeatureFW:
		return []float64{t.FW}, nil
	case TensorRGB:
		fa := FA(v1, v2, v3)
		pd := e.Vectors[0]
		return []float64{math.Abs(pd.X) * fa, math.Abs(pd.Y) * fa, math.Abs(pd.Z) * fa}, nil
	}
	return nil, unknownFeature(TypeTensor, name)
}

func (t *Tensor) Dist(other Model) float64 {
	o, ok := other.(*Tensor)
	if !ok {
		return math.Inf(1)
	}
	return t.D.Sub(o.D).NormF()
}

func (t *Tensor) Clone() Model {
	c := *t
	return &c
}

func (t *Tensor) Reorient(rot [3][3]float64) {
	// R D R^T
	var out linalg.Sym3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s := 0.0
			for a := 0; a < 3; a++ {
				for b := 0; b < 3; b++ {
					s += rot[i][a] * t.D[a][b] * rot[j][b]
				}
			}
			out[i][j] = s
		}
	}
	t.D = out
}
