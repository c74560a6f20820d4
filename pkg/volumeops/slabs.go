// Package volumeops holds the voxelwise operations used between tracking
// stages: orientation maps built from curves, thresholds, smoothing, fiber
// projection and simple mask morphology.
package volumeops

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// slabs splits the k axis into contiguous ranges, one per worker, and runs
// fn over each of them. Every range writes disjoint voxels.
func slabs(ctx context.Context, nk, threads int, fn func(k0, k1 int) error) error {
	if threads < 1 {
		threads = 1
	}
	if threads > nk {
		threads = nk
	}
	if threads <= 1 {
		return fn(0, nk)
	}

	perCore := (nk + threads - 1) / threads
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for c := 0; c < threads; c++ {
		k0, k1 := c*perCore, min((c+1)*perCore, nk)
		if k0 >= nk {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(k0, k1)
		})
	}
	return g.Wait()
}
