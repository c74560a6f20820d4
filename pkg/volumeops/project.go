package volumeops

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/model"
)

// ProjectOptions are the acceptance thresholds of ProjectFibers
type ProjectOptions struct {
	// Angle is the largest line angle in degrees between the reference and
	// the selected compartment; zero disables the test
	Angle float64

	// Norm is the smallest reference magnitude
	Norm float64

	// Frac is the smallest compartment fraction
	Frac float64

	// Fsum is the smallest total fraction of the voxel
	Fsum float64

	Threads int
}

// ProjectFibers picks, in every voxel, the fibers compartment closest in
// angle to the reference vector and returns it as a vector scaled by its
// fraction and signed like the reference. Voxels failing any threshold are
// zero.
func ProjectFibers(ctx context.Context, peaks, reference *models.Volume, mask *models.Mask, opts ProjectOptions) (*models.Volume, error) {
	if !model.FibersValid(peaks.Dim) {
		return nil, fmt.Errorf("%w: projection needs a fibers volume, got dimension %d", model.ErrUnsupportedModel, peaks.Dim)
	}
	if reference.Dim != 3 {
		return nil, fmt.Errorf("%w: projection reference needs 3 values per voxel, got %d", model.ErrUnsupportedModel, reference.Dim)
	}
	if !peaks.Sampling.Equal(reference.Sampling) {
		return nil, fmt.Errorf("projection reference sampling does not match peaks")
	}

	s := peaks.Sampling
	out := peaks.Proto(3, string(model.TypeVect))
	err := slabs(ctx, s.NK, opts.Threads, func(k0, k1 int) error {
		fibers := model.NewFibers(model.FibersCount(peaks.Dim))
		for k := k0; k < k1; k++ {
			for j := 0; j < s.NJ; j++ {
				for i := 0; i < s.NI; i++ {
					if !peaks.Valid(i, j, k, mask) {
						continue
					}
					if err := fibers.Decode(peaks.Vector(i, j, k)); err != nil {
						return err
					}
					ref := models.FromSlice(reference.Vector(i, j, k))
					if v, ok := project(fibers, ref, opts); ok {
						out.Set(i, j, k, models.ToSlice(v))
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func project(fibers *model.Fibers, ref models.Vect3, opts ProjectOptions) (models.Vect3, bool) {
	if r3.Norm(ref) <= opts.Norm || fibers.FracSum() < opts.Fsum {
		return models.Vect3{}, false
	}

	refdir := models.Normalize(ref)
	best, bestAngle := -1, math.MaxFloat64
	for n, comp := range fibers.Comps {
		if comp.Frac <= opts.Frac {
			continue
		}
		angle := models.AngleLineDeg(refdir, comp.Line)
		if (opts.Angle <= 0 || angle <= opts.Angle) && angle < bestAngle {
			best, bestAngle = n, angle
		}
	}
	if best < 0 {
		return models.Vect3{}, false
	}

	comp := fibers.Comps[best]
	v := r3.Scale(comp.Frac, comp.Line)
	if r3.Dot(v, refdir) < 0 {
		v = r3.Scale(-1, v)
	}
	return v, true
}
