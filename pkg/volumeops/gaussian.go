package volumeops

import (
	"context"
	"fmt"
	"math"

	"mritract/internal/models"
)

// GaussianOptions configure GaussianFilter
type GaussianOptions struct {
	// Sigma is the kernel bandwidth in world units
	Sigma float64

	// Support is the kernel radius in voxels
	Support int

	Threads int
}

// GaussianFilter smooths every channel of a volume with a normalised
// gaussian kernel. Only voxels inside the optional mask contribute and are
// written; the rest of the output is zero.
func GaussianFilter(ctx context.Context, vol *models.Volume, mask *models.Mask, opts GaussianOptions) (*models.Volume, error) {
	if opts.Sigma <= 0 {
		return nil, fmt.Errorf("invalid gaussian bandwidth: %g", opts.Sigma)
	}
	if opts.Support < 1 {
		opts.Support = 1
	}

	s := vol.Sampling
	r := opts.Support
	width := 2*r + 1
	kernel := make([]float64, width*width*width)
	for dk := -r; dk <= r; dk++ {
		for dj := -r; dj <= r; dj++ {
			for di := -r; di <= r; di++ {
				dx := float64(di) * s.Delta.X
				dy := float64(dj) * s.Delta.Y
				dz := float64(dk) * s.Delta.Z
				d2 := dx*dx + dy*dy + dz*dz
				kernel[((dk+r)*width+(dj+r))*width+(di+r)] = math.Exp(-d2 / (2 * opts.Sigma * opts.Sigma))
			}
		}
	}

	out := vol.Proto(vol.Dim, vol.Model)
	err := slabs(ctx, s.NK, opts.Threads, func(k0, k1 int) error {
		acc := make([]float64, vol.Dim)
		for k := k0; k < k1; k++ {
			for j := 0; j < s.NJ; j++ {
				for i := 0; i < s.NI; i++ {
					if !vol.Valid(i, j, k, mask) {
						continue
					}
					clear(acc)
					wsum := 0.0
					for dk := -r; dk <= r; dk++ {
						for dj := -r; dj <= r; dj++ {
							for di := -r; di <= r; di++ {
								ni, nj, nk := i+di, j+dj, k+dk
								if !vol.Valid(ni, nj, nk, mask) {
									continue
								}
								w := kernel[((dk+r)*width+(dj+r))*width+(di+r)]
								for d, v := range vol.Vector(ni, nj, nk) {
									acc[d] += w * v
								}
								wsum += w
							}
						}
					}
					dst := out.Vector(i, j, k)
					for d := range acc {
						dst[d] = acc[d] / wsum
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
