package tractography

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"mritract/internal/models"
	"mritract/pkg/model"
	"mritract/pkg/tracking"
	"mritract/pkg/volumeops"
)

// SeedMask places seeds in every foreground voxel: count uniform random
// positions per voxel, or the voxel centre when count is not positive
func SeedMask(mask *models.Mask, count int, rng *rand.Rand) []models.Vect3 {
	var out []models.Vect3
	s := mask.Sampling
	for idx, l := range mask.Labels {
		if l == 0 {
			continue
		}
		i, j, k := s.Ijk(idx)
		if count <= 0 {
			out = append(out, s.WorldIjk(i, j, k))
			continue
		}
		for c := 0; c < count; c++ {
			out = append(out, s.Random(i, j, k, rng))
		}
	}
	return out
}

// Subsample keeps a uniform random subset of at most n seeds, in their
// original order
func Subsample(seeds []models.Vect3, n int, rng *rand.Rand) []models.Vect3 {
	if n < 0 || len(seeds) <= n {
		return seeds
	}
	idx := rng.Perm(len(seeds))[:n]
	sort.Ints(idx)
	out := make([]models.Vect3, n)
	for i, j := range idx {
		out[i] = seeds[j]
	}
	return out
}

// Multiply rescales the seed count by factor. Shrinking subsamples; growing
// adds copies of random seeds jittered uniformly within a box of the given
// width. A factor of zero or one leaves the seeds alone.
func Multiply(seeds []models.Vect3, factor, jitter float64, rng *rand.Rand) []models.Vect3 {
	if factor <= 0 || factor == 1 || len(seeds) == 0 {
		return seeds
	}
	count := int(factor * float64(len(seeds)))
	if count < len(seeds) {
		return Subsample(seeds, count, rng)
	}
	out := make([]models.Vect3, len(seeds), count)
	copy(out, seeds)
	for len(out) < count {
		seed := seeds[rng.IntN(len(seeds))]
		out = append(out, models.Vect3{
			X: seed.X + jitter*(rng.Float64()-0.5),
			Y: seed.Y + jitter*(rng.Float64()-0.5),
			Z: seed.Z + jitter*(rng.Float64()-0.5),
		})
	}
	return out
}

// seeds gathers the explicit seed sources, falling back to a whole volume
// seed mask when none is given
func (t *Tractographer) seeds(rng *rand.Rand) ([]models.Vect3, error) {
	in := t.Inputs
	var out []models.Vect3
	out = append(out, in.SeedVects...)
	if len(in.SeedSolids) > 0 {
		out = append(out, in.SeedSolids.Sample(t.Params.SamplesSolids, rng)...)
	}
	if in.SeedMask != nil {
		out = append(out, SeedMask(in.SeedMask, t.Params.SamplesMask, rng)...)
	}
	if len(out) > 0 {
		return out, nil
	}
	if t.Params.Strict && in.HybridCurves == nil {
		return nil, fmt.Errorf("%w: no seed source given", tracking.ErrInvalidConfiguration)
	}

	t.logger().Info("creating seed mask from volume")
	mask, err := t.seedMask()
	if err != nil {
		return nil, err
	}
	return SeedMask(mask, t.Params.SamplesMask, rng), nil
}

// seedMask covers the voxels traversed by the hybrid curves when given, and
// otherwise the voxels whose tracking attribute exceeds the minimum
func (t *Tractographer) seedMask() (*models.Mask, error) {
	in := t.Inputs
	if in.HybridCurves != nil {
		return volumeops.Threshold(volumeops.Density(in.HybridCurves, in.Volume.Sampling), 0), nil
	}

	typ, odf, err := t.modelType(in.Volume, t.Params.Model, in.OdfPoints)
	if err != nil {
		return nil, err
	}
	var feature string
	switch {
	case odf:
		feature = model.VectSum
	case typ == model.TypeTensor:
		feature = model.TensorFA
	case typ == model.TypeFibers:
		feature = model.FibersFrac
	case typ == model.TypeSpharm:
		feature = model.SpharmMax
	case typ == model.TypeNoddi:
		feature = model.NoddiFICVF
	case typ == model.TypeVect && in.Volume.Dim == 3:
		feature = model.VectMag
	default:
		return nil, fmt.Errorf("%w: no seed feature for %s volumes", model.ErrUnsupportedModel, typ)
	}

	values, err := volumeops.Feature(in.Volume, in.Mask, typ, feature)
	if err != nil {
		return nil, err
	}
	return volumeops.Threshold(values, t.Params.Tracking.Min), nil
}

// prepare rescales and caps a seed list
func (t *Tractographer) prepare(seeds []models.Vect3, factor float64, rng *rand.Rand) []models.Vect3 {
	n := len(seeds)
	seeds = Multiply(seeds, factor, t.Inputs.Volume.Sampling.DeltaMax(), rng)
	if len(seeds) != n {
		t.logger().Info("changed seed count", "factor", factor, "from", n, "to", len(seeds))
	}
	if t.Params.MaxSeeds > 0 {
		seeds = Subsample(seeds, t.Params.MaxSeeds, rng)
	}
	return seeds
}
