// Package phantom builds small synthetic model volumes with known fiber
// geometry, used to exercise tracking without acquired data.
package phantom

import (
	"fmt"

	"mritract/internal/models"
	"mritract/pkg/model"
)

// Kind names a phantom layout
type Kind string

const (
	KindCrossing   Kind = "crossing"
	KindBundle     Kind = "bundle"
	KindIsotropic  Kind = "isotropic"
	KindBundleVect Kind = "vect"
)

// Kinds lists every phantom layout
func Kinds() []Kind {
	return []Kind{KindCrossing, KindBundle, KindIsotropic, KindBundleVect}
}

// Options describe the phantom grid and bundles
type Options struct {
	// Size is the voxel count along each axis
	Size int

	// Width is the bundle half-width in voxels
	Width int

	// Delta is the voxel spacing
	Delta float64

	// Frac is the stick fraction of a bundle compartment
	Frac float64
}

// DefaultOptions returns a 16 voxel grid with 2 voxel half-width bundles
func DefaultOptions() Options {
	return Options{Size: 16, Width: 2, Delta: 1, Frac: 0.5}
}

func (o Options) sampling() *models.Sampling {
	d := models.Vect3{X: o.Delta, Y: o.Delta, Z: o.Delta}
	return models.NewSampling(models.Vect3{}, d, o.Size, o.Size, o.Size)
}

func (o Options) validate() error {
	switch {
	case o.Size < 3:
		return fmt.Errorf("phantom size must be at least 3, got %d", o.Size)
	case o.Width < 0 || 2*o.Width+1 > o.Size:
		return fmt.Errorf("phantom width %d does not fit size %d", o.Width, o.Size)
	case o.Delta <= 0:
		return fmt.Errorf("phantom spacing must be positive, got %g", o.Delta)
	case o.Frac <= 0 || o.Frac > 1:
		return fmt.Errorf("phantom fraction must be in (0, 1], got %g", o.Frac)
	}
	return nil
}

// near reports whether c lies in the band around the grid centre
func (o Options) near(c int) bool {
	mid := o.Size / 2
	return c >= mid-o.Width && c <= mid+o.Width
}

// New builds a phantom of the given kind
func New(kind Kind, opts Options) (*models.Volume, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindCrossing:
		return crossing(opts), nil
	case KindBundle:
		return bundle(opts), nil
	case KindIsotropic:
		return isotropic(opts), nil
	case KindBundleVect:
		return bundleVect(opts), nil
	}
	return nil, fmt.Errorf("unknown phantom %q", kind)
}

// crossing is a two-compartment fibers volume with one bundle along x
// through the centre row and one along y through the centre column
func crossing(o Options) *models.Volume {
	s := o.sampling()
	vol := models.NewVolume(s, model.FibersSize(2), string(model.TypeFibers))
	for k := 0; k < s.NK; k++ {
		if !o.near(k) {
			continue
		}
		for j := 0; j < s.NJ; j++ {
			for i := 0; i < s.NI; i++ {
				f := model.NewFibers(2)
				f.Base = 1
				f.Diff = 1.7e-3
				n := 0
				if o.near(j) {
					f.Comps[n] = model.Compartment{Frac: o.Frac, Line: models.Vect3{X: 1}}
					n++
				}
				if o.near(i) {
					f.Comps[n] = model.Compartment{Frac: o.Frac, Line: models.Vect3{Y: 1}}
					n++
				}
				if n > 0 {
					vol.Set(i, j, k, f.Encode())
				}
			}
		}
	}
	return vol
}

// bundle is a tensor volume with an anisotropic bundle along x embedded in
// isotropic background
func bundle(o Options) *models.Volume {
	s := o.sampling()
	vol := models.NewVolume(s, model.TensorSize, string(model.TypeTensor))
	axes := [3]models.Vect3{{X: 1}, {Y: 1}, {Z: 1}}
	fiber := model.NewTensorEigen(1, [3]float64{1.7e-3, 0.3e-3, 0.3e-3}, axes).Encode()
	iso := model.NewTensorEigen(1, [3]float64{0.8e-3, 0.8e-3, 0.8e-3}, axes).Encode()
	for k := 0; k < s.NK; k++ {
		for j := 0; j < s.NJ; j++ {
			for i := 0; i < s.NI; i++ {
				if o.near(j) && o.near(k) {
					vol.Set(i, j, k, fiber)
				} else {
					vol.Set(i, j, k, iso)
				}
			}
		}
	}
	return vol
}

// isotropic is a tensor volume without any preferred direction
func isotropic(o Options) *models.Volume {
	s := o.sampling()
	vol := models.NewVolume(s, model.TensorSize, string(model.TypeTensor))
	axes := [3]models.Vect3{{X: 1}, {Y: 1}, {Z: 1}}
	vol.Fill(model.NewTensorEigen(1, [3]float64{1e-3, 1e-3, 1e-3}, axes).Encode())
	return vol
}

// bundleVect is a vector volume pointing along x inside the bundle, scaled
// by the fraction
func bundleVect(o Options) *models.Volume {
	s := o.sampling()
	vol := models.NewVolume(s, 3, string(model.TypeVect))
	for k := 0; k < s.NK; k++ {
		for j := 0; j < s.NJ; j++ {
			if !o.near(j) || !o.near(k) {
				continue
			}
			for i := 0; i < s.NI; i++ {
				vol.Set(i, j, k, []float64{o.Frac, 0, 0})
			}
		}
	}
	return vol
}

// Center returns the world position of the grid centre voxel
func Center(vol *models.Volume) models.Vect3 {
	s := vol.Sampling
	return s.WorldIjk(s.NI/2, s.NJ/2, s.NK/2)
}

// BandMask labels the centre band of a phantom along x with 1 and along y
// with 2, overlapping voxels taking label 1
func BandMask(vol *models.Volume, opts Options) *models.Mask {
	s := vol.Sampling
	mask := models.NewMask(s)
	for k := 0; k < s.NK; k++ {
		if !opts.near(k) {
			continue
		}
		for j := 0; j < s.NJ; j++ {
			for i := 0; i < s.NI; i++ {
				switch {
				case opts.near(j):
					mask.Set(i, j, k, 1)
				case opts.near(i):
					mask.Set(i, j, k, 2)
				}
			}
		}
	}
	return mask
}
