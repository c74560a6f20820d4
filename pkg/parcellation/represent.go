package parcellation

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"mritract/internal/models"
	"mritract/pkg/tracking"
	"mritract/pkg/volumeops"
)

// Path is the binary image of the voxels reached by a bundle
func Path(curves *tracking.Curves, s *models.Sampling) []float64 {
	mask := volumeops.Threshold(volumeops.Density(curves, s), 0.5)
	out := make([]float64, len(mask.Labels))
	for i, l := range mask.Labels {
		out[i] = float64(l)
	}
	return out
}

// Dist is the distance transform of the Path image. Voxels of an empty
// image take the grid diagonal.
func Dist(curves *tracking.Curves, s *models.Sampling) []float64 {
	mask := volumeops.Threshold(volumeops.Density(curves, s), 0.5)
	dt := volumeops.DistanceTransform(mask)
	diag := math.Sqrt(math.Pow(float64(s.NI)*s.Delta.X, 2) + math.Pow(float64(s.NJ)*s.Delta.Y, 2) + math.Pow(float64(s.NK)*s.Delta.Z, 2))
	out := make([]float64, len(dt.Data))
	for i, d := range dt.Data {
		out[i] = math.Min(d, diag)
	}
	return out
}

// Landmarks picks points spread at least spacing apart over the leading
// fraction of every bundle
func Landmarks(bundles []*tracking.Curves, frac, spacing float64) []models.Vect3 {
	var out []models.Vect3
	var tree *kdtree.Tree
	for _, b := range bundles {
		n := int(math.Ceil(frac * float64(b.Len())))
		for _, c := range b.Curves[:min(n, b.Len())] {
			for _, p := range c.Points {
				kp := kdtree.Point{p.X, p.Y, p.Z}
				if tree != nil {
					if _, d2 := tree.Nearest(kp); d2 < spacing*spacing {
						continue
					}
				}
				out = append(out, p)
				if tree == nil {
					tree = kdtree.New(kdtree.Points{kp}, false)
				} else {
					tree.Insert(kp, false)
				}
			}
		}
	}
	return out
}

// SCPT is the mean, over the curves of a bundle, of the distances from
// every landmark to its closest curve point
func SCPT(curves *tracking.Curves, landmarks []models.Vect3) []float64 {
	if len(landmarks) == 0 {
		return nil
	}
	rows := make([][]float64, len(landmarks))
	for _, c := range curves.Curves {
		if c.Len() == 0 {
			continue
		}
		pts := make(kdtree.Points, c.Len())
		for i, p := range c.Points {
			pts[i] = kdtree.Point{p.X, p.Y, p.Z}
		}
		tree := kdtree.New(pts, false)
		for l, lm := range landmarks {
			_, d2 := tree.Nearest(kdtree.Point{lm.X, lm.Y, lm.Z})
			rows[l] = append(rows[l], math.Sqrt(d2))
		}
	}

	out := make([]float64, len(landmarks))
	for l, vals := range rows {
		if len(vals) > 0 {
			out[l] = stat.Mean(vals, nil)
		}
	}
	return out
}
