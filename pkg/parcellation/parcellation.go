// Package parcellation partitions a mask by the connectivity of its voxels:
// every voxel sprouts a bundle of streamlines, each bundle is summarised as
// a feature vector and the vectors are clustered into parcels.
package parcellation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"

	"golang.org/x/sync/errgroup"

	"mritract/internal/models"
	"mritract/pkg/cluster"
	"mritract/pkg/interpolation"
	"mritract/pkg/selection"
	"mritract/pkg/tracking"
	"mritract/pkg/tractography"
)

// Curve attributes written by Parcellate
const (
	AttrSegment = "segment"
	AttrSample  = "sample"
)

// Representation selects the feature vector of a sprout bundle
type Representation string

const (
	// RepPath is the binary image of the voxels the bundle reaches
	RepPath Representation = "path"

	// RepDist is the distance transform of that image
	RepDist Representation = "dist"

	// RepSCPT is the mean closest-point distance of the bundle curves to a
	// shared set of landmarks
	RepSCPT Representation = "scpt"
)

// ParseRepresentation reads a representation name
func ParseRepresentation(name string) (Representation, error) {
	switch r := Representation(strings.ToLower(name)); r {
	case RepPath, RepDist, RepSCPT:
		return r, nil
	case "":
		return RepSCPT, nil
	}
	return "", fmt.Errorf("%w: unknown representation %q", tracking.ErrInvalidConfiguration, name)
}

// Params configure a parcellation
type Params struct {
	// Tracking configures the sprout tractography; seeding, selection and
	// hybrid options are ignored
	Tracking tractography.Params

	// Density is the number of seeds per mask voxel
	Density int

	// Segments is the number of parcels
	Segments int

	Rep Representation

	// Coarse is the grid spacing of the path and dist images; zero uses the
	// volume sampling
	Coarse float64

	// Landmark spacing and count for the scpt representation
	LandmarkSpacing float64
	LandmarkFrac    float64

	Cluster cluster.Options
}

// DefaultParams returns the parcellation defaults
func DefaultParams() Params {
	tp := tractography.DefaultParams()
	tp.Kernel.Interp = interpolation.Trilinear
	tp.Kernel.Support = 5
	tp.Tracking.Threads = 4
	return Params{
		Tracking:        tp,
		Density:         100,
		Segments:        2,
		Rep:             RepSCPT,
		LandmarkSpacing: 2,
		LandmarkFrac:    0.05,
		Cluster:         cluster.DefaultOptions(),
	}
}

// Validate checks the parcellation options
func (p Params) Validate() error {
	switch {
	case p.Density <= 0:
		return fmt.Errorf("%w: density must be positive, got %d", tracking.ErrInvalidConfiguration, p.Density)
	case p.Segments <= 0:
		return fmt.Errorf("%w: segments must be positive, got %d", tracking.ErrInvalidConfiguration, p.Segments)
	case p.Coarse < 0:
		return fmt.Errorf("%w: coarse spacing must not be negative", tracking.ErrInvalidConfiguration)
	case p.LandmarkSpacing <= 0 || p.LandmarkFrac <= 0 || p.LandmarkFrac > 1:
		return fmt.Errorf("%w: invalid landmark spacing %g or fraction %g", tracking.ErrInvalidConfiguration, p.LandmarkSpacing, p.LandmarkFrac)
	}
	if _, err := ParseRepresentation(string(p.Rep)); err != nil {
		return err
	}
	return p.Tracking.Validate()
}

// Inputs of a parcellation
type Inputs struct {
	Volume *models.Volume

	// Mask holds the voxels to parcellate
	Mask *models.Mask

	Track   *models.Mask
	Target  *models.Mask
	Include *models.Mask
	Exclude *models.Mask
}

// Result is the labelled mask and the kept sprouts. Parcel labels start at
// one; voxels whose seeds all failed stay zero.
type Result struct {
	Mask   *models.Mask
	Curves *tracking.Curves
}

// Parcellator runs a parcellation
type Parcellator struct {
	Params Params
	Inputs Inputs
	Logger *slog.Logger
}

func (p *Parcellator) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p.Logger
}

// sprout is the surviving bundle of one mask voxel
type sprout struct {
	voxel  int
	curves *tracking.Curves
}

// Run parcellates the mask
func (p *Parcellator) Run(ctx context.Context) (*Result, error) {
	log := p.logger()
	if err := p.Params.Validate(); err != nil {
		return nil, err
	}
	if p.Inputs.Volume == nil || p.Inputs.Mask == nil {
		return nil, fmt.Errorf("%w: parcellation needs a volume and a mask", tracking.ErrInvalidConfiguration)
	}
	log.Info("started connectivity based parcellation")

	rng := rand.New(rand.NewPCG(p.Params.Tracking.Tracking.Seed, 0x9a4c))
	sampling := p.Inputs.Mask.Sampling
	var (
		voxels []int
		seeds  []models.Vect3
	)
	for idx, l := range p.Inputs.Mask.Labels {
		if l == 0 {
			continue
		}
		voxels = append(voxels, idx)
		i, j, k := sampling.Ijk(idx)
		for n := 0; n < p.Params.Density; n++ {
			seeds = append(seeds, sampling.Random(i, j, k, rng))
		}
	}
	log.Info("seeding parcellation", "voxels", len(voxels), "seeds", len(seeds))

	curves, err := p.track(ctx, seeds)
	if err != nil {
		return nil, err
	}
	if curves.Len() != len(seeds) {
		return nil, fmt.Errorf("tracking returned %d curves for %d seeds", curves.Len(), len(seeds))
	}

	sprouts, kept := p.sprouts(voxels, curves)
	if len(sprouts) == 0 {
		return nil, fmt.Errorf("%w: no voxel produced a streamline", tracking.ErrInvalidConfiguration)
	}
	log.Info("computing representation", "rep", p.Params.Rep, "sprouts", len(sprouts), "curves", kept.Len())

	features, err := p.represent(ctx, sprouts)
	if err != nil {
		return nil, err
	}

	log.Info("clustering", "segments", p.Params.Segments)
	res, err := cluster.KMeans(ctx, features, nil, p.Params.Segments, p.Params.Cluster, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster sprouts: %w", err)
	}

	out := models.NewMask(sampling)
	for n, s := range sprouts {
		out.Labels[s.voxel] = res.Labels[n] + 1
	}
	for _, c := range kept.Curves {
		s := int(c.Attrs[AttrSample][0][0]) - 1
		c.SetAll(AttrSegment, []float64{float64(res.Labels[s] + 1)})
	}
	log.Info("finished connectivity based parcellation", "parcels", res.K())
	return &Result{Mask: out, Curves: kept}, nil
}

// track runs the sprout tractography with one record per seed
func (p *Parcellator) track(ctx context.Context, seeds []models.Vect3) (*tracking.Curves, error) {
	params := p.Params.Tracking
	params.Tracking.Empty = true
	params.SamplesFactor = 1
	params.MaxSeeds = 0
	params.MaxTracks = 0
	params.Hybrid.Enabled = false

	tr := tractography.New(params, tractography.Inputs{
		Volume:    p.Inputs.Volume,
		SeedVects: seeds,
		Track:     p.Inputs.Track,
		Stop:      p.Inputs.Target,
		Exclude:   p.Inputs.Exclude,
	})
	tr.Logger = p.logger()
	return tr.Run(ctx)
}

// sprouts groups the curves by voxel, dropping curves with at most one
// vertex and curves missing the include mask
func (p *Parcellator) sprouts(voxels []int, curves *tracking.Curves) ([]sprout, *tracking.Curves) {
	var include selection.Selector
	if p.Inputs.Include != nil {
		include = selection.NewMaskSelector(p.Inputs.Include)
	}
	admits := func(c *tracking.Curve) bool {
		if c.Len() <= 1 {
			return false
		}
		if include == nil {
			return true
		}
		for _, pt := range c.Points {
			if include.Contains(pt) {
				return true
			}
		}
		return false
	}

	var out []sprout
	kept := tracking.NewCurves()
	density := p.Params.Density
	for v, idx := range voxels {
		bundle := tracking.NewCurves()
		for n := 0; n < density; n++ {
			c := curves.Curves[v*density+n]
			if admits(c) {
				c.SetAll(AttrSample, []float64{float64(len(out) + 1)})
				c.SetAll(AttrSegment, []float64{0})
				bundle.Add(c)
			}
		}
		if bundle.Len() > 0 {
			out = append(out, sprout{voxel: idx, curves: bundle})
			kept.Append(bundle)
		}
	}
	return out, kept
}

// represent computes one feature vector per sprout
func (p *Parcellator) represent(ctx context.Context, sprouts []sprout) ([][]float64, error) {
	var rep func(*tracking.Curves) []float64
	switch p.Params.Rep {
	case RepPath, RepDist:
		s := p.Inputs.Volume.Sampling
		if p.Params.Coarse > 0 {
			s = s.Resample(p.Params.Coarse)
		}
		p.logger().Debug("using image representation", "voxels", s.Size())
		if p.Params.Rep == RepPath {
			rep = func(c *tracking.Curves) []float64 { return Path(c, s) }
		} else {
			rep = func(c *tracking.Curves) []float64 { return Dist(c, s) }
		}
	default:
		bundles := make([]*tracking.Curves, len(sprouts))
		for i, s := range sprouts {
			bundles[i] = s.curves
		}
		lm := Landmarks(bundles, p.Params.LandmarkFrac, p.Params.LandmarkSpacing)
		p.logger().Debug("using scpt representation", "landmarks", len(lm))
		rep = func(c *tracking.Curves) []float64 { return SCPT(c, lm) }
	}

	out := make([][]float64, len(sprouts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, p.Params.Tracking.Tracking.Threads))
	for i, s := range sprouts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = rep(s.curves)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
