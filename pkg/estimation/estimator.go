// Package estimation fits a single model from a weighted set of neighbouring
// voxel models. The kernel estimator in package interpolation gathers the
// neighbours; the estimators here combine them.
package estimation

import (
	"errors"
	"fmt"

	"mritract/pkg/model"
)

// ErrMismatchedInput is returned when weights and models disagree in length
// or a model has the wrong type
var ErrMismatchedInput = errors.New("mismatched estimator input")

// Estimator combines weighted models of one type into a single model.
// Implementations must be safe for concurrent use.
type Estimator interface {
	// Proto returns a zero model of the output layout
	Proto() model.Model

	Estimate(weights []float64, inputs []model.Model) (model.Model, error)
}

// Config groups the per-model estimator settings
type Config struct {
	Tensor TensorEstimator
	Fibers FibersEstimator
	Noddi  NoddiEstimator

	// Line fits vect volumes as undirected lines
	Line bool
}

// DefaultConfig returns the estimator defaults
func DefaultConfig() Config {
	return Config{
		Tensor: TensorEstimator{},
		Fibers: DefaultFibersEstimator(),
		Noddi:  DefaultNoddiEstimator(),
	}
}

// For returns the estimator of a model type. dim is the voxel vector length
// of the volume being estimated.
func For(t model.Type, dim int, cfg Config) (Estimator, error) {
	switch t {
	case model.TypeTensor:
		e := cfg.Tensor
		return &e, nil
	case model.TypeFibers:
		e := cfg.Fibers
		if e.MaxComps <= 0 {
			e.MaxComps = model.FibersCount(dim)
		}
		return &e, nil
	case model.TypeNoddi:
		e := cfg.Noddi
		return &e, nil
	case model.TypeSpharm:
		order, err := model.SpharmSizeToOrder(dim)
		if err != nil {
			return nil, err
		}
		return &SpharmEstimator{Order: order}, nil
	case model.TypeVect:
		if cfg.Line {
			return &LineEstimator{}, nil
		}
		return &VectEstimator{Size: dim}, nil
	}
	return nil, fmt.Errorf("%w: no estimator for %q", model.ErrUnsupportedModel, t)
}

func checkInput(weights []float64, inputs []model.Model) error {
	if len(weights) != len(inputs) {
		return fmt.Errorf("%w: %d weights for %d models", ErrMismatchedInput, len(weights), len(inputs))
	}
	return nil
}

func cast[T model.Model](inputs []model.Model) ([]T, error) {
	out := make([]T, len(inputs))
	for i, m := range inputs {
		v, ok := m.(T)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected %s model", ErrMismatchedInput, m.Type())
		}
		out[i] = v
	}
	return out, nil
}
