package volumeops

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"mritract/internal/models"
	"mritract/pkg/model"
	"mritract/pkg/tracking"
)

var neighbors6 = [6][3]int{{1, 0, 0}, {-1, 0, 0}, {0, 1, 0}, {0, -1, 0}, {0, 0, 1}, {0, 0, -1}}

// Dilate grows the foreground by n face-connected layers. New voxels take
// the label of the neighbour that reached them first.
func Dilate(mask *models.Mask, n int) *models.Mask {
	out := mask.Copy()
	s := mask.Sampling
	for iter := 0; iter < n; iter++ {
		prev := out.Copy()
		for idx, label := range prev.Labels {
			if label != 0 {
				continue
			}
			i, j, k := s.Ijk(idx)
			for _, d := range neighbors6 {
				if l := prev.Get(i+d[0], j+d[1], k+d[2]); l != 0 {
					out.Labels[idx] = l
					break
				}
			}
		}
	}
	return out
}

// DistanceTransform returns the world distance from every voxel to the
// nearest foreground voxel. An empty mask gives +Inf everywhere.
func DistanceTransform(mask *models.Mask) *models.Volume {
	s := mask.Sampling
	out := models.NewVolume(s, 1, string(model.TypeVect))

	var fg kdtree.Points
	for idx, l := range mask.Labels {
		if l != 0 {
			p := s.WorldIjk(s.Ijk(idx))
			fg = append(fg, kdtree.Point{p.X, p.Y, p.Z})
		}
	}
	if len(fg) == 0 {
		for idx := range out.Data {
			out.Data[idx] = math.Inf(1)
		}
		return out
	}

	tree := kdtree.New(fg, false)
	for idx, l := range mask.Labels {
		if l != 0 {
			continue
		}
		p := s.WorldIjk(s.Ijk(idx))
		_, d2 := tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
		out.Data[idx] = math.Sqrt(d2)
	}
	return out
}

// Density counts, per voxel, the curves traversing it
func Density(curves *tracking.Curves, sampling *models.Sampling) *models.Volume {
	out := models.NewVolume(sampling, 1, string(model.TypeVect))
	for _, c := range curves.Curves {
		for _, x := range sampling.TraverseLine(c.Points) {
			if sampling.Contains(x.I, x.J, x.K) {
				out.Data[sampling.Index(x.I, x.J, x.K)]++
			}
		}
	}
	return out
}
