package volumeops

import (
	"context"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"mritract/internal/linalg"
	"mritract/internal/models"
	"mritract/pkg/model"
	"mritract/pkg/tracking"
)

// Normalization maps voxel counts to [0, 1]
type Normalization int

const (
	// NormHistogram uses the empirical distribution of nonzero counts
	NormHistogram Normalization = iota

	// NormRamp divides by the largest count
	NormRamp

	// NormNone keeps the raw weighted counts
	NormNone
)

// ParseNormalization parses a normalization name
func ParseNormalization(name string) (Normalization, error) {
	switch name {
	case "", "histogram", "Histogram":
		return NormHistogram, nil
	case "ramp", "Ramp":
		return NormRamp, nil
	case "none", "None":
		return NormNone, nil
	}
	return 0, fmt.Errorf("unknown normalization: %q", name)
}

// OrientationOptions configure OrientationMap
type OrientationOptions struct {
	// Vector averages signed tangents; otherwise the principal direction of
	// the tangent dyadics is used
	Vector bool

	// Orient flips curves to a common direction before averaging
	Orient bool

	Norm Normalization

	// Smooth applies a gaussian filter with Sigma and Support on the voxels
	// reached by curves, dilated by Support
	Smooth  bool
	Sigma   float64
	Support int

	Threads int
}

// DefaultOrientationOptions mirror the hybrid pre-tracking settings
func DefaultOrientationOptions() OrientationOptions {
	return OrientationOptions{Vector: true, Orient: true, Norm: NormHistogram, Support: 3, Threads: 1}
}

// OrientationMap summarises a curve bundle as one vector per voxel. The
// direction is the mean tangent of the curves traversing the voxel and the
// magnitude is the normalised curve count.
func OrientationMap(ctx context.Context, curves *tracking.Curves, sampling *models.Sampling, opts OrientationOptions) (*models.Volume, error) {
	dirs := models.NewVolume(sampling, 3, string(model.TypeVect))
	if curves.Len() == 0 {
		return dirs, nil
	}
	if opts.Orient {
		curves = OrientCurves(curves)
	}

	n := sampling.Size()
	weight := 1 / float64(curves.Len())
	counts := make([]float64, n)
	mask := models.NewMask(sampling)
	sums := make([]r3.Vec, n)
	var dyads []linalg.Sym3
	if !opts.Vector {
		dyads = make([]linalg.Sym3, n)
	}

	for _, c := range curves.Curves {
		for _, x := range sampling.TraverseLine(c.Points) {
			if !sampling.Contains(x.I, x.J, x.K) {
				continue
			}
			idx := sampling.Index(x.I, x.J, x.K)
			counts[idx] += weight
			mask.Labels[idx] = 1
			if opts.Vector {
				sums[idx] = r3.Add(sums[idx], r3.Scale(weight, x.Dir))
			} else {
				dyads[idx].AddScaled(weight, linalg.Outer(x.Dir))
			}
		}
	}

	fracs := normalize(counts, opts.Norm)
	for idx := 0; idx < n; idx++ {
		if mask.Labels[idx] == 0 {
			continue
		}
		var dir r3.Vec
		if opts.Vector {
			dir = r3.Scale(1/counts[idx], sums[idx])
		} else if eig, ok := linalg.Eig(dyads[idx]); ok {
			dir = eig.Vectors[0]
		}
		dirs.SetIndex(idx, models.ToSlice(r3.Scale(fracs[idx], dir)))
	}

	if !opts.Smooth {
		return dirs, nil
	}
	return GaussianFilter(ctx, dirs, Dilate(mask, opts.Support), GaussianOptions{
		Sigma:   opts.Sigma,
		Support: opts.Support,
		Threads: opts.Threads,
	})
}

func normalize(counts []float64, norm Normalization) []float64 {
	out := make([]float64, len(counts))
	switch norm {
	case NormNone:
		copy(out, counts)
	case NormRamp:
		top := slices.Max(counts)
		if top > 0 {
			for i, c := range counts {
				out[i] = c / top
			}
		}
	case NormHistogram:
		var fg []float64
		for _, c := range counts {
			if c > 0 {
				fg = append(fg, c)
			}
		}
		slices.Sort(fg)
		for i, c := range counts {
			if c > 0 {
				out[i] = stat.CDF(c, stat.Empirical, fg, nil)
			}
		}
	}
	return out
}

// OrientCurves returns copies of the curves flipped so that their mean
// tangent points along the positive side of its dominant axis
func OrientCurves(curves *tracking.Curves) *tracking.Curves {
	out := curves.Copy()
	for _, c := range out.Curves {
		var sum r3.Vec
		for i := 1; i < c.Len(); i++ {
			sum = r3.Add(sum, models.Normalize(r3.Sub(c.Points[i], c.Points[i-1])))
		}
		ax, ay, az := math.Abs(sum.X), math.Abs(sum.Y), math.Abs(sum.Z)
		var dot float64
		switch {
		case ax >= ay && ax >= az:
			dot = sum.X
		case ay >= az:
			dot = sum.Y
		default:
			dot = sum.Z
		}
		if dot < 0 {
			c.Reverse()
		}
	}
	return out
}
