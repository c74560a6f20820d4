package tractography

import (
	"fmt"

	"mritract/internal/models"
	"mritract/pkg/estimation"
	"mritract/pkg/interpolation"
	"mritract/pkg/selection"
	"mritract/pkg/tracking"
)

// Params holds every tracking option. The zero values of the optional
// pointers mean "not set"; use DefaultParams for the documented defaults.
type Params struct {
	// Tracking holds the propagation parameters; Empty, Prob, Vector and
	// friends apply to plain tracking and to the final hybrid stage
	Tracking tracking.Params

	// Interp, Support and the bandwidths configure the kernel estimator
	Kernel interpolation.KernelParams

	// Estimation configures the per-model estimators
	Estimation estimation.Config

	// Comps is the compartment count of fibers estimation
	Comps int

	// Model overrides the model type declared by the volume
	Model string

	// ProbPoints is the sphere resolution of full spharm distributions
	ProbPoints int

	// SamplesFactor rescales the seed count (subsampling or jittering)
	SamplesFactor float64

	// SamplesMask is the number of jittered seeds per seed mask voxel
	SamplesMask int

	// SamplesSolids is the number of seeds drawn per seed solid
	SamplesSolids int

	// MaxSeeds caps the seed count after rescaling; zero disables it
	MaxSeeds int

	// Strict refuses to derive a seed mask from the volume attribute when
	// no seed source is given
	Strict bool

	// MaxTracks caps the output by uniform subsampling; zero disables it
	MaxTracks int

	// Arclen is the containment fraction required by the contain mask
	Arclen float64

	// Binarize merges the labels of inclusion and endpoint masks
	Binarize bool

	// EndConnect requires endpoints in distinct labels of the end mask
	EndConnect bool

	Hybrid HybridParams
}

// HybridParams configure two-stage tracking. The optional pointers fall back
// to the plain tracking value when nil.
type HybridParams struct {
	Enabled bool

	// SamplesFactor rescales the seeds of the pre-tracking stage
	SamplesFactor float64

	Min      *float64
	Angle    *float64
	Disperse float64
	Interp   interpolation.KernelType

	// Presmooth is the orientation map smoothing bandwidth; zero disables it
	Presmooth float64

	// Postsmooth is the projected field smoothing bandwidth; zero disables it
	Postsmooth float64

	ProjAngle float64
	ProjNorm  float64
	ProjFrac  float64
	ProjFsum  float64
}

// DefaultParams returns the defaults of every option
func DefaultParams() Params {
	est := estimation.DefaultConfig()
	est.Fibers.MaxComps = 3
	return Params{
		Tracking: tracking.Params{
			Step:      1,
			Angle:     45,
			Min:       0.075,
			MaxLen:    1e6,
			Mixing:    1,
			ProbAngle: 5,
			ProbPower: 1,
			Threads:   3,
		},
		Kernel:        interpolation.KernelParams{Interp: interpolation.Nearest, Support: 3, Hpos: 1},
		Estimation:    est,
		Comps:         3,
		ProbPoints:    300,
		SamplesFactor: 1,
		SamplesMask:   1,
		SamplesSolids: 5000,
		MaxSeeds:      2000000,
		MaxTracks:     2000000,
		Arclen:        0.8,
		Hybrid: HybridParams{
			SamplesFactor: 1,
			Disperse:      0.1,
			Interp:        interpolation.Nearest,
			ProjAngle:     45,
			ProjNorm:      0.01,
			ProjFrac:      0.025,
			ProjFsum:      0.05,
		},
	}
}

// Validate checks the options that are not covered by the tracker
func (p Params) Validate() error {
	if err := p.Tracking.Validate(); err != nil {
		return err
	}
	switch {
	case p.Comps <= 0:
		return fmt.Errorf("%w: comps must be positive, got %d", tracking.ErrInvalidConfiguration, p.Comps)
	case p.SamplesFactor < 0 || p.Hybrid.SamplesFactor < 0:
		return fmt.Errorf("%w: samples factors must not be negative", tracking.ErrInvalidConfiguration)
	case p.MaxSeeds < 0 || p.MaxTracks < 0:
		return fmt.Errorf("%w: maxseeds and maxtracks must not be negative", tracking.ErrInvalidConfiguration)
	case p.Arclen < 0 || p.Arclen > 1:
		return fmt.Errorf("%w: arclen must be in [0, 1], got %g", tracking.ErrInvalidConfiguration, p.Arclen)
	case p.Hybrid.Presmooth < 0 || p.Hybrid.Postsmooth < 0:
		return fmt.Errorf("%w: smoothing bandwidths must not be negative", tracking.ErrInvalidConfiguration)
	}
	return nil
}

// Inputs are the volumes, seeds and regions of a run. Everything except
// Volume is optional. Inputs are only read.
type Inputs struct {
	// Volume holds the voxel models to track through
	Volume *models.Volume

	// Mask restricts the voxels used by the kernel estimator
	Mask *models.Mask

	// OdfPoints, when as many as the volume dimension, read the volume as
	// orientation distribution samples on these directions
	OdfPoints []models.Vect3

	SeedVects  []models.Vect3
	SeedMask   *models.Mask
	SeedSolids selection.Solids

	Include          *models.Mask
	IncludeSolids    selection.Solids
	IncludeAdd       *models.Mask
	IncludeAddSolids selection.Solids
	End              *models.Mask
	EndSolids        selection.Solids
	Contain          *models.Mask
	ExcludeSolids    selection.Solids

	Exclude     *models.Mask
	Trap        *models.Mask
	Stop        *models.Mask
	StopSolids  selection.Solids
	Track       *models.Mask
	TrackSolids selection.Solids
	Connect     *models.Mask

	// Force is an optional guidance vector volume for probabilistic tracking
	Force *models.Volume

	// HybridPeaks replaces the peaks derived from Volume
	HybridPeaks *models.Volume

	// HybridCurves replaces the pre-tracking stage
	HybridCurves *tracking.Curves

	// Hybrid region overrides for the pre-tracking stage
	HybridConnect *models.Mask
	HybridTrap    *models.Mask
	HybridExclude *models.Mask
	HybridStop    *models.Mask
	HybridTrack   *models.Mask
}

// pipeline is the post-tracking selection of the inputs
func (p Params) pipeline(in Inputs) *selection.Pipeline {
	return &selection.Pipeline{
		Contain:          in.Contain,
		Arclen:           p.Arclen,
		Include:          in.Include,
		IncludeSolids:    in.IncludeSolids,
		IncludeAdd:       in.IncludeAdd,
		IncludeAddSolids: in.IncludeAddSolids,
		End:              in.End,
		EndSolids:        in.EndSolids,
		EndConnect:       p.EndConnect,
		ExcludeSolids:    in.ExcludeSolids,
		Binarize:         p.Binarize,
		MaxTracks:        p.MaxTracks,
		Seed:             p.Tracking.Seed,
	}
}
