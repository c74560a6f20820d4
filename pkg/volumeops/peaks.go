package volumeops

import (
	"context"
	"sort"

	"mritract/internal/models"
	"mritract/pkg/field"
	"mritract/pkg/model"
)

// PeakOptions configure Peaks
type PeakOptions struct {
	// Comps is the compartment count of the output
	Comps int

	// Thresh drops peaks whose attribute is below it
	Thresh float64

	Threads int
}

// Peaks samples a peak field at every voxel centre and stores the strongest
// peaks as a fibers volume. Fractions are the peak weights normalised to
// sum to one; voxels without peaks are zero.
func Peaks(ctx context.Context, f field.Field, sampling *models.Sampling, mask *models.Mask, opts PeakOptions) (*models.Volume, error) {
	if opts.Comps < 1 {
		opts.Comps = 1
	}
	out := models.NewVolume(sampling, model.FibersSize(opts.Comps), string(model.TypeFibers))
	err := slabs(ctx, sampling.NK, opts.Threads, func(k0, k1 int) error {
		for k := k0; k < k1; k++ {
			for j := 0; j < sampling.NJ; j++ {
				for i := 0; i < sampling.NI; i++ {
					if mask != nil && !mask.Foreground(i, j, k) {
						continue
					}
					samples, err := f.Samples(sampling.WorldIjk(i, j, k))
					if err != nil {
						return err
					}
					if fibers := peakFibers(samples, opts); fibers != nil {
						out.Set(i, j, k, fibers.Encode())
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

func peakFibers(samples []field.Sample, opts PeakOptions) *model.Fibers {
	var kept []field.Sample
	for _, s := range samples {
		if s.Attr >= opts.Thresh && s.Prob > 0 {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	sort.SliceStable(kept, func(a, b int) bool { return kept[a].Prob > kept[b].Prob })
	if len(kept) > opts.Comps {
		kept = kept[:opts.Comps]
	}

	sum := 0.0
	for _, s := range kept {
		sum += s.Prob
	}
	fibers := model.NewFibers(opts.Comps)
	fibers.Base = 1
	for n, s := range kept {
		fibers.Comps[n] = model.Compartment{Frac: s.Prob / sum, Line: models.Normalize(s.Orientation)}
	}
	return fibers
}
