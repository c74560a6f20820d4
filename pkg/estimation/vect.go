package estimation

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/linalg"
	"mritract/internal/models"
	"mritract/pkg/model"
)

// VectEstimator is a weighted mean of signed vectors
type VectEstimator struct {
	Size int
}

func (e *VectEstimator) Proto() model.Model {
	return model.NewVect(e.Size)
}

func (e *VectEstimator) Estimate(weights []float64, inputs []model.Model) (model.Model, error) {
	if err := checkInput(weights, inputs); err != nil {
		return nil, err
	}
	vects, err := cast[*model.Vect](inputs)
	if err != nil {
		return nil, err
	}

	out := model.NewVect(e.Size)
	wsum := 0.0
	for i, v := range vects {
		if weights[i] == 0 || len(v.Values) != e.Size {
			continue
		}
		floats.AddScaled(out.Values, weights[i], v.Values)
		wsum += weights[i]
	}
	if wsum > 0 {
		floats.Scale(1/wsum, out.Values)
	}
	return out, nil
}

// LineEstimator fits an undirected line to 3D vectors: the principal
// eigenvector of the weighted dyadic sum, scaled by the weighted mean
// magnitude. The sign of the inputs is discarded.
type LineEstimator struct{}

func (e *LineEstimator) Proto() model.Model {
	return model.NewVect(3)
}

func (e *LineEstimator) Estimate(weights []float64, inputs []model.Model) (model.Model, error) {
	if err := checkInput(weights, inputs); err != nil {
		return nil, err
	}
	vects, err := cast[*model.Vect](inputs)
	if err != nil {
		return nil, err
	}

	var sum linalg.Sym3
	var mag, wsum float64
	for i, v := range vects {
		w := weights[i]
		if w == 0 {
			continue
		}
		vec := v.Vect3()
		sum.AddScaled(w, linalg.Outer(models.Normalize(vec)))
		mag += w * r3.Norm(vec)
		wsum += w
	}

	out := model.NewVect(3)
	if wsum == 0 {
		return out, nil
	}
	eig, ok := linalg.Eig(sum.Scale(1 / wsum))
	if !ok {
		return out, nil
	}
	return model.NewVect3(r3.Scale(mag/wsum, eig.Vectors[0])), nil
}

// SpharmEstimator is a weighted mean of coefficients
type SpharmEstimator struct {
	Order int
}

func (e *SpharmEstimator) Proto() model.Model {
	return model.NewSpharm(e.Order)
}

func (e *SpharmEstimator) Estimate(weights []float64, inputs []model.Model) (model.Model, error) {
	if err := checkInput(weights, inputs); err != nil {
		return nil, err
	}
	shs, err := cast[*model.Spharm](inputs)
	if err != nil {
		return nil, err
	}

	out := model.NewSpharm(e.Order)
	wsum := 0.0
	for i, sh := range shs {
		if weights[i] == 0 {
			continue
		}
		n := min(len(out.Coeffs), len(sh.Coeffs))
		floats.AddScaled(out.Coeffs[:n], weights[i], sh.Coeffs[:n])
		wsum += weights[i]
	}
	if wsum > 0 {
		floats.Scale(1/wsum, out.Coeffs)
	}
	return out, nil
}
