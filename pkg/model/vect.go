package model

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"mritract/internal/models"
)

// Vect feature names
const (
	VectMag   = "mag"
	VectValue = "value"
	VectSum   = "sum"
	VectUnit  = "unit"
)

// Vect is a plain vector-valued voxel, usually a 3D orientation
type Vect struct {
	Values []float64
}

// NewVect returns a zero vector of the given length
func NewVect(size int) *Vect {
	return &Vect{Values: make([]float64, size)}
}

// NewVect3 wraps a 3D vector
func NewVect3(v models.Vect3) *Vect {
	return &Vect{Values: models.ToSlice(v)}
}

func (v *Vect) Type() Type            { return TypeVect }
func (v *Vect) EncodingSize() int     { return len(v.Values) }
func (v *Vect) DegreesOfFreedom() int { return len(v.Values) }
func (v *Vect) Baseline() float64     { return v.Mag() }

// Mag is the Euclidean norm
func (v *Vect) Mag() float64 {
	return floats.Norm(v.Values, 2)
}

// Vect3 returns the first three components
func (v *Vect) Vect3() models.Vect3 {
	var a [3]float64
	copy(a[:], v.Values)
	return models.Vect3{X: a[0], Y: a[1], Z: a[2]}
}

func (v *Vect) Encode() []float64 {
	out := make([]float64, len(v.Values))
	copy(out, v.Values)
	return out
}

func (v *Vect) Decode(enc []float64) error {
	if err := checkSize(v, enc); err != nil {
		return err
	}
	copy(v.Values, enc)
	return nil
}

func (v *Vect) Features() []string {
	return []string{VectMag, VectValue, VectSum, VectUnit}
}

func (v *Vect) Feature(name string) ([]float64, error) {
	switch name {
	case VectMag:
		return []float64{v.Mag()}, nil
	case VectValue:
		return v.Encode(), nil
	case VectSum:
		return []float64{floats.Sum(v.Values)}, nil
	case VectUnit:
		out := v.Encode()
		if m := v.Mag(); m > 0 {
			floats.Scale(1/m, out)
		}
		return out, nil
	}
	return nil, unknownFeature(TypeVect, name)
}

func (v *Vect) Dist(other Model) float64 {
	o, ok := other.(*Vect)
	if !ok || len(o.Values) != len(v.Values) {
		return math.Inf(1)
	}
	return floats.Distance(v.Values, o.Values, 2)
}

func (v *Vect) Clone() Model {
	return &Vect{Values: v.Encode()}
}

func (v *Vect) Reorient(rot [3][3]float64) {
	if len(v.Values) != 3 {
		return
	}
	r := rotate(rot, models.FromSlice(v.Values))
	v.Values[0], v.Values[1], v.Values[2] = r.X, r.Y, r.Z
}
