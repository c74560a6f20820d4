package field

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/interpolation"
	"mritract/pkg/model"
)

// sphere holds a point set with its neighbourhood graph for peak finding
type sphere struct {
	points    []models.Vect3
	neighbors [][]int
	spacing   float64
}

func newSphere(points []models.Vect3) *sphere {
	// mean angular spacing of an even point set, in degrees
	spacing := 180 / math.Pi * math.Sqrt(4*math.Pi/float64(max(1, len(points))))
	return &sphere{points: points, neighbors: model.Neighbors(points, 1.5*spacing), spacing: spacing}
}

// peaks returns local maxima of vals, strongest first, with antipodal and
// near duplicates removed
func (s *sphere) peaks(vals []float64, maxPeaks int, thresh float64) []int {
	if len(vals) == 0 {
		return nil
	}
	top := floats.Max(vals)
	if top <= 0 {
		return nil
	}

	var cands []int
	for i, v := range vals {
		if v <= 0 || v < thresh*top {
			continue
		}
		local := true
		for _, j := range s.neighbors[i] {
			if vals[j] > v {
				local = false
				break
			}
		}
		if local {
			cands = append(cands, i)
		}
	}
	sort.SliceStable(cands, func(a, b int) bool { return vals[cands[a]] > vals[cands[b]] })

	minCos := math.Cos(2 * s.spacing * math.Pi / 180)
	var out []int
	for _, c := range cands {
		dup := false
		for _, o := range out {
			if math.Abs(r3.Dot(s.points[c], s.points[o])) > minCos {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
		if len(out) == maxPeaks {
			break
		}
	}
	return out
}

// SpharmField samples the full spherical function on a point set; negative
// lobes are clipped. The attribute is the function maximum.
type SpharmField struct {
	est    *interpolation.VolumeEstimator
	points []models.Vect3
	basis  *mat.Dense
}

// NewSpharmField builds a full-distribution spharm field
func NewSpharmField(est *interpolation.VolumeEstimator, points []models.Vect3) *SpharmField {
	order, _ := model.SpharmSizeToOrder(est.Volume().Dim)
	return &SpharmField{est: est, points: points, basis: model.SpharmBasisMatrix(order, points)}
}

func (f *SpharmField) Attr() string { return model.SpharmMax }

func (f *SpharmField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	vals := m.(*model.Spharm).Sample(f.basis)
	return distribution(p, f.points, vals), nil
}

// SpharmPeakField offers the local maxima of a spherical function
type SpharmPeakField struct {
	est    *interpolation.VolumeEstimator
	sphere *sphere
	basis  *mat.Dense
	max    int
	thresh float64
}

// NewSpharmPeakField builds a peak field over a fixed sphere resolution
func NewSpharmPeakField(est *interpolation.VolumeEstimator, maxPeaks int, thresh float64) *SpharmPeakField {
	order, _ := model.SpharmSizeToOrder(est.Volume().Dim)
	points := SpherePoints(600)
	return &SpharmPeakField{
		est:    est,
		sphere: newSphere(points),
		basis:  model.SpharmBasisMatrix(order, points),
		max:    maxPeaks,
		thresh: thresh,
	}
}

func (f *SpharmPeakField) Attr() string { return model.SpharmMax }

func (f *SpharmPeakField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	vals := m.(*model.Spharm).Sample(f.basis)
	return peakSamples(p, f.sphere, vals, f.max, f.thresh), nil
}

// OdfField treats each voxel vector as distribution values on a point set.
// The attribute is the total mass.
type OdfField struct {
	est    *interpolation.VolumeEstimator
	points []models.Vect3
}

// NewOdfField builds a full-distribution odf field
func NewOdfField(est *interpolation.VolumeEstimator, points []models.Vect3) *OdfField {
	return &OdfField{est: est, points: points}
}

func (f *OdfField) Attr() string { return model.VectSum }

func (f *OdfField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	vals := m.(*model.Vect).Values
	out := distribution(p, f.points, vals)
	sum := floats.Sum(vals)
	for i := range out {
		out[i].Attr = sum
	}
	return out, nil
}

// OdfPeakField offers the local maxima of odf samples
type OdfPeakField struct {
	est    *interpolation.VolumeEstimator
	sphere *sphere
	max    int
	thresh float64
}

// NewOdfPeakField builds a peak field over the odf point set
func NewOdfPeakField(est *interpolation.VolumeEstimator, points []models.Vect3, maxPeaks int, thresh float64) *OdfPeakField {
	return &OdfPeakField{est: est, sphere: newSphere(points), max: maxPeaks, thresh: thresh}
}

func (f *OdfPeakField) Attr() string { return model.VectSum }

func (f *OdfPeakField) Samples(p models.Vect3) ([]Sample, error) {
	m, ok, err := estimate(f.est, p)
	if !ok {
		return nil, err
	}
	vals := m.(*model.Vect).Values
	out := peakSamples(p, f.sphere, vals, f.max, f.thresh)
	sum := floats.Sum(vals)
	for i := range out {
		out[i].Attr = sum
	}
	return out, nil
}

func distribution(p models.Vect3, points []models.Vect3, vals []float64) []Sample {
	top := 0.0
	for _, v := range vals {
		top = math.Max(top, v)
	}
	out := make([]Sample, 0, len(points))
	for i, v := range vals {
		if v <= 0 {
			continue
		}
		out = append(out, Sample{Position: p, Orientation: points[i], Attr: top, Prob: v})
	}
	return out
}

func peakSamples(p models.Vect3, s *sphere, vals []float64, maxPeaks int, thresh float64) []Sample {
	idx := s.peaks(vals, maxPeaks, thresh)
	out := make([]Sample, 0, len(idx))
	for _, i := range idx {
		out = append(out, Sample{Position: p, Orientation: s.points[i], Attr: vals[i], Prob: vals[i]})
	}
	return out
}
