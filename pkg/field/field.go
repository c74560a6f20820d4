// Package field turns a kernel model estimator into a streamline field: a
// mapping from a position to weighted candidate directions and a scalar
// attribute used for thresholding.
package field

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/interpolation"
	"mritract/pkg/model"
)

// Sample is one candidate direction at a position
type Sample struct {
	Position    models.Vect3
	Orientation models.Vect3

	// Attr is the thresholded attribute of this candidate
	Attr float64

	// Prob is the unnormalized candidate weight
	Prob float64
}

// Field produces candidate directions at continuous positions. A field has
// no mutable state and may be queried concurrently.
type Field interface {
	// Samples returns the candidates at p. A degenerate neighbourhood yields
	// no candidates and no error.
	Samples(p models.Vect3) ([]Sample, error)

	// Attr names the attribute carried by each sample
	Attr() string
}

// Options select and configure a field variant
type Options struct {
	// Prob selects the full distribution of spharm and odf fields
	Prob bool

	// Vector keeps the sign of vect volumes
	Vector bool

	// OdfPoints, when as many as the volume dimension, treat the volume as
	// samples of an orientation distribution on these directions. For spharm
	// volumes they replace the sphere of the full distribution.
	OdfPoints []models.Vect3

	// ProbPoints is the sphere resolution of the full spharm distribution
	ProbPoints int

	// MaxPeaks bounds peak extraction
	MaxPeaks int

	// PeakThresh drops peaks below this fraction of the largest one
	PeakThresh float64
}

// DefaultOptions returns the field defaults
func DefaultOptions() Options {
	return Options{ProbPoints: 300, MaxPeaks: 4, PeakThresh: 0.1}
}

type builder func(est *interpolation.VolumeEstimator, opts Options) (Field, error)

var builders = map[model.Type]builder{
	model.TypeTensor: func(est *interpolation.VolumeEstimator, _ Options) (Field, error) {
		return &TensorField{est: est}, nil
	},
	model.TypeFibers: func(est *interpolation.VolumeEstimator, _ Options) (Field, error) {
		return &FibersField{est: est}, nil
	},
	model.TypeNoddi: func(est *interpolation.VolumeEstimator, _ Options) (Field, error) {
		return &NoddiField{est: est}, nil
	},
	model.TypeSpharm: func(est *interpolation.VolumeEstimator, opts Options) (Field, error) {
		if opts.Prob {
			points := opts.OdfPoints
			if len(points) == 0 {
				points = SpherePoints(opts.ProbPoints)
			}
			return NewSpharmField(est, points), nil
		}
		return NewSpharmPeakField(est, opts.MaxPeaks, opts.PeakThresh), nil
	},
	model.TypeVect: func(est *interpolation.VolumeEstimator, opts Options) (Field, error) {
		if len(opts.OdfPoints) > 0 && len(opts.OdfPoints) == est.Volume().Dim {
			if opts.Prob {
				return NewOdfField(est, opts.OdfPoints), nil
			}
			return NewOdfPeakField(est, opts.OdfPoints, opts.MaxPeaks, opts.PeakThresh), nil
		}
		if est.Volume().Dim != 3 {
			return nil, fmt.Errorf("%w: vect field needs 3 values per voxel, got %d", model.ErrUnsupportedModel, est.Volume().Dim)
		}
		return &VectField{est: est}, nil
	},
}

// New builds the field variant matching the estimator's model type
func New(est *interpolation.VolumeEstimator, opts Options) (Field, error) {
	b, ok := builders[est.Type()]
	if !ok {
		return nil, fmt.Errorf("%w: no field for %q", model.ErrUnsupportedModel, est.Type())
	}
	if opts.ProbPoints <= 0 {
		opts.ProbPoints = 300
	}
	if opts.MaxPeaks <= 0 {
		opts.MaxPeaks = 4
	}
	return b(est, opts)
}

// SpherePoints is the even point set used for orientation distributions
func SpherePoints(n int) []models.Vect3 {
	return model.SpherePoints(n)
}

// estimate wraps the kernel estimator; a degenerate neighbourhood is not an
// error for a field, it just has no candidates
func estimate(est *interpolation.VolumeEstimator, p models.Vect3) (model.Model, bool, error) {
	m, err := est.Estimate(p)
	if err != nil {
		if errors.Is(err, interpolation.ErrDegenerateNeighborhood) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}

// Candidate is a direction returned by Query
type Candidate struct {
	Direction models.Vect3
	Weight    float64

	// Deviation is the angle to the incoming direction in degrees
	Deviation float64

	Attr float64
}

// QueryResult holds the candidates at a position and the field attribute
type QueryResult struct {
	Candidates []Candidate
	Attribute  float64
}

// QueryOptions control how candidates relate to an incoming direction
type QueryOptions struct {
	// Vector disables the axial sign flip toward the incoming direction
	Vector bool

	// MaxAngle drops candidates deviating more than this many degrees; zero
	// keeps all of them
	MaxAngle float64
}

// Query returns the candidates at p ordered by decreasing weight. When an
// incoming direction is given, axial candidates are flipped toward it,
// candidates beyond MaxAngle are dropped, and ties in weight go to the
// smallest deviation.
func Query(f Field, p models.Vect3, incoming *models.Vect3, opts QueryOptions) (QueryResult, error) {
	samples, err := f.Samples(p)
	if err != nil {
		return QueryResult{}, err
	}

	var res QueryResult
	for _, s := range samples {
		res.Attribute = math.Max(res.Attribute, s.Attr)

		dir := s.Orientation
		dev := 0.0
		if incoming != nil {
			if !opts.Vector && r3.Dot(dir, *incoming) < 0 {
				dir = r3.Scale(-1, dir)
			}
			dev = models.AngleDeg(*incoming, dir)
			if opts.MaxAngle > 0 && dev > opts.MaxAngle {
				continue
			}
		}
		res.Candidates = append(res.Candidates, Candidate{Direction: dir, Weight: s.Prob, Deviation: dev, Attr: s.Attr})
	}

	sort.SliceStable(res.Candidates, func(a, b int) bool {
		ca, cb := res.Candidates[a], res.Candidates[b]
		if ca.Weight != cb.Weight {
			return ca.Weight > cb.Weight
		}
		return ca.Deviation < cb.Deviation
	})
	return res, nil
}
