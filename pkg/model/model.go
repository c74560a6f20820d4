// Package model defines the per-voxel diffusion models that tracking reads
// from a volume: their parameter layout, features and encodings.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Type tags the parameter layout of a voxel vector
type Type string

const (
	TypeTensor   Type = "tensor"
	TypeBiTensor Type = "bitensor"
	TypeFibers   Type = "fibers"
	TypeNoddi    Type = "noddi"
	TypeKurtosis Type = "kurtosis"
	TypeSpharm   Type = "spharm"
	TypeVect     Type = "vect"
)

var (
	// ErrUnsupportedModel is returned when a model type has no implementation
	ErrUnsupportedModel = errors.New("unsupported model")

	// ErrInvalidEncoding is returned when a vector does not match a model layout
	ErrInvalidEncoding = errors.New("invalid model encoding")
)

// Model is one fitted model's parameters at a voxel
type Model interface {
	Type() Type

	// EncodingSize is the length of the flat parameter vector
	EncodingSize() int

	DegreesOfFreedom() int

	// Encode returns the flat parameter vector. Decode(Encode()) is the identity.
	Encode() []float64
	Decode(enc []float64) error

	Feature(name string) ([]float64, error)
	Features() []string

	// Baseline is the unweighted signal level, used by signal-bandwidth kernels
	Baseline() float64

	// Dist is a model-space distance, used by value-bandwidth kernels
	Dist(other Model) float64

	Clone() Model
}

// Reorienter is implemented by models with a directional component
type Reorienter interface {
	// Reorient applies a rotation (row-major 3x3) to every direction
	Reorient(rot [3][3]float64)
}

// Capability is the static description of a model type
type Capability struct {
	Type Type

	// New allocates a zero model with the given encoding size
	New func(size int) (Model, error)

	// Attribute is the scalar feature tracking thresholds against
	Attribute string

	// Valid reports whether a vector length matches the layout
	Valid func(size int) bool
}

var registry = map[Type]Capability{
	TypeTensor: {
		Type:      TypeTensor,
		New:       func(int) (Model, error) { return NewTensor(), nil },
		Attribute: TensorFA,
		Valid:     func(size int) bool { return size == TensorSize },
	},
	TypeFibers: {
		Type: TypeFibers,
		New: func(size int) (Model, error) {
			if !FibersValid(size) {
				return nil, fmt.Errorf("%w: fibers size %d", ErrInvalidEncoding, size)
			}
			return NewFibers(FibersCount(size)), nil
		},
		Attribute: FibersFrac,
		Valid:     FibersValid,
	},
	TypeNoddi: {
		Type:      TypeNoddi,
		New:       func(int) (Model, error) { return NewNoddi(), nil },
		Attribute: NoddiFICVF,
		Valid:     func(size int) bool { return size == NoddiSize },
	},
	TypeSpharm: {
		Type: TypeSpharm,
		New: func(size int) (Model, error) {
			order, err := SpharmSizeToOrder(size)
			if err != nil {
				return nil, err
			}
			return NewSpharm(order), nil
		},
		Attribute: SpharmMax,
		Valid:     SpharmValid,
	},
	TypeVect: {
		Type:      TypeVect,
		New:       func(size int) (Model, error) { return NewVect(size), nil },
		Attribute: VectMag,
		Valid:     func(size int) bool { return size > 0 },
	},
}

// Lookup returns the capability of a model type
func Lookup(t Type) (Capability, error) {
	c, ok := registry[t]
	if !ok {
		return Capability{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, t)
	}
	return c, nil
}

// New allocates a zero model of the given type and encoding size
func New(t Type, size int) (Model, error) {
	c, err := Lookup(t)
	if err != nil {
		return nil, err
	}
	return c.New(size)
}

// Decode builds a model from a flat parameter vector
func Decode(t Type, enc []float64) (Model, error) {
	m, err := New(t, len(enc))
	if err != nil {
		return nil, err
	}
	if err := m.Decode(enc); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse maps a model name (e.g. "dti", "xfib", "ndi") to a type
func Parse(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "tensor", "dti", "fwdti":
		return TypeTensor, nil
	case "bitensor":
		return TypeBiTensor, nil
	case "fibers", "xfib":
		return TypeFibers, nil
	case "noddi", "ndi":
		return TypeNoddi, nil
	case "kurtosis", "dki":
		return TypeKurtosis, nil
	case "spharm", "sh":
		return TypeSpharm, nil
	case "vect", "vector":
		return TypeVect, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
}

// Detect chooses the model type of a volume. An explicit override wins, then
// the declared name, then the vector dimension.
func Detect(declared string, dim int, override string) (Type, error) {
	for _, name := range []string{override, declared} {
		if name == "" {
			continue
		}
		t, err := Parse(name)
		if err != nil {
			return "", err
		}
		c, err := Lookup(t)
		if err != nil {
			return "", err
		}
		if !c.Valid(dim) {
			return "", fmt.Errorf("%w: %s volume with dimension %d", ErrInvalidEncoding, t, dim)
		}
		return t, nil
	}

	switch {
	case dim == 3:
		return TypeVect, nil
	case dim == TensorSize:
		return TypeTensor, nil
	case FibersValid(dim):
		return TypeFibers, nil
	case SpharmValid(dim):
		return TypeSpharm, nil
	}

	return "", fmt.Errorf("%w: cannot detect model for dimension %d", ErrUnsupportedModel, dim)
}

func checkSize(m Model, enc []float64) error {
	if len(enc) != m.EncodingSize() {
		return fmt.Errorf("%w: %s expects %d values, got %d", ErrInvalidEncoding, m.Type(), m.EncodingSize(), len(enc))
	}
	return nil
}

func unknownFeature(t Type, name string) error {
	return fmt.Errorf("%w: %s has no feature %q", ErrInvalidEncoding, t, name)
}
