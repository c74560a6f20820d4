package field

import (
	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/interpolation"
	"mritract/pkg/model"
)

// TensorField follows the principal eigenvector; its attribute is FA
type TensorField struct {
	est *interpolation.VolumeEstimator
}

func (f *TensorField) Attr() string { return model.TensorFA }

func (f *TensorField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	t := m.(*model.Tensor)
	e := t.Eig()
	dir := models.Normalize(e.Vectors[0])
	if dir == (models.Vect3{}) {
		return nil, nil
	}
	fa := model.FA(e.Values[0], e.Values[1], e.Values[2])
	return []Sample{{Position: p, Orientation: dir, Attr: fa, Prob: 1}}, nil
}

// FibersField offers every compartment with a positive fraction, weighted
// by that fraction. Every sample carries the total fraction of the voxel.
type FibersField struct {
	est *interpolation.VolumeEstimator
}

func (f *FibersField) Attr() string { return model.FibersFrac }

func (f *FibersField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	fibers := m.(*model.Fibers)
	total := fibers.FracSum()

	var out []Sample
	for _, c := range fibers.Comps {
		dir := models.Normalize(c.Line)
		if c.Frac <= 0 || dir == (models.Vect3{}) {
			continue
		}
		out = append(out, Sample{Position: p, Orientation: dir, Attr: total, Prob: c.Frac})
	}
	return out, nil
}

// NoddiField follows the mean neurite direction; its attribute is FICVF
type NoddiField struct {
	est *interpolation.VolumeEstimator
}

func (f *NoddiField) Attr() string { return model.NoddiFICVF }

func (f *NoddiField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	n := m.(*model.Noddi)
	dir := models.Normalize(n.Dir)
	if dir == (models.Vect3{}) {
		return nil, nil
	}
	return []Sample{{Position: p, Orientation: dir, Attr: n.Ficvf, Prob: 1}}, nil
}

// VectField follows a vector volume. The estimator decides whether the
// sign is kept (vector) or discarded (line).
type VectField struct {
	est *interpolation.VolumeEstimator
}

func (f *VectField) Attr() string { return model.VectMag }

func (f *VectField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	v := m.(*model.Vect).Vect3()
	mag := r3.Norm(v)
	if mag == 0 {
		return nil, nil
	}
	return []Sample{{Position: p, Orientation: r3.Scale(1/mag, v), Attr: mag, Prob: 1}}, nil
}
