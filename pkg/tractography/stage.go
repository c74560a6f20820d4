package tractography

import (
	"context"
	"fmt"

	"mritract/internal/models"
	"mritract/pkg/estimation"
	"mritract/pkg/field"
	"mritract/pkg/interpolation"
	"mritract/pkg/model"
	"mritract/pkg/selection"
	"mritract/pkg/tracking"
)

// StageParams is the fully resolved configuration of one tracking pass.
// Stages are built once per run and never modified afterwards.
type StageParams struct {
	Name string

	// Model overrides the declared model type of the stage volume
	Model string

	Tracking tracking.Params
	Interp   interpolation.KernelType

	// OdfPoints are the sample directions of the stage volume, if any
	OdfPoints []models.Vect3

	Connect *models.Mask
	Trap    *models.Mask
	Exclude *models.Mask
	Stop    *models.Mask
	Track   *models.Mask
}

func pick(override, fallback *models.Mask) *models.Mask {
	if override != nil {
		return override
	}
	return fallback
}

// plainStage tracks the input volume with the user parameters
func (t *Tractographer) plainStage() StageParams {
	in := t.Inputs
	return StageParams{
		Name:      "tracking",
		Model:     t.Params.Model,
		Tracking:  t.Params.Tracking,
		Interp:    t.Params.Kernel.Interp,
		OdfPoints: in.OdfPoints,
		Connect:   in.Connect,
		Trap:      in.Trap,
		Exclude:   in.Exclude,
		Stop:      in.Stop,
		Track:     in.Track,
	}
}

// preStage is the probabilistic hybrid pre-tracking pass over the input
// volume. Every seed yields a record.
func (t *Tractographer) preStage() StageParams {
	in, h := t.Inputs, t.Params.Hybrid
	st := t.plainStage()
	st.Name = "pre-tracking"
	st.Tracking.Disperse = h.Disperse
	st.Tracking.Prob = true
	st.Tracking.Empty = true
	st.Interp = h.Interp
	if h.Angle != nil {
		st.Tracking.Angle = *h.Angle
	}
	if h.Min != nil {
		st.Tracking.Min = *h.Min
	}
	st.Connect = pick(in.HybridConnect, in.Connect)
	st.Trap = pick(in.HybridTrap, in.Trap)
	st.Exclude = pick(in.HybridExclude, in.Exclude)
	st.Stop = pick(in.HybridStop, in.Stop)
	st.Track = pick(in.HybridTrack, in.Track)
	return st
}

// postStage is the deterministic hybrid pass over the projected vectors
func (t *Tractographer) postStage() StageParams {
	st := t.plainStage()
	st.Name = "post-tracking"
	st.Model = string(model.TypeVect)
	st.OdfPoints = nil
	st.Tracking.Vector = true
	st.Tracking.Prob = false
	return st
}

// modelType resolves the model of a stage volume. Odf samples read as plain
// vectors; other points only make sense as the sphere of a spharm volume.
func (t *Tractographer) modelType(vol *models.Volume, override string, points []models.Vect3) (model.Type, bool, error) {
	n := len(points)
	if n > 0 && n == vol.Dim {
		return model.TypeVect, true, nil
	}
	typ, err := model.Detect(vol.Model, vol.Dim, override)
	if err != nil {
		return "", false, err
	}
	if n > 0 && typ != model.TypeSpharm {
		return "", false, fmt.Errorf("%w: %d odf points for %d values per voxel", tracking.ErrInvalidConfiguration, n, vol.Dim)
	}
	return typ, false, nil
}

// field builds the streamline field of a stage
func (t *Tractographer) field(vol *models.Volume, st StageParams) (field.Field, error) {
	typ, odf, err := t.modelType(vol, st.Model, st.OdfPoints)
	if err != nil {
		return nil, err
	}

	cfg := t.Params.Estimation
	cfg.Fibers.MaxComps = t.Params.Comps
	cfg.Line = !odf && !st.Tracking.Vector
	if typ == model.TypeFibers {
		if err := cfg.Fibers.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", tracking.ErrInvalidConfiguration, err)
		}
	}
	est, err := estimation.For(typ, vol.Dim, cfg)
	if err != nil {
		return nil, err
	}

	kernel := t.Params.Kernel
	kernel.Interp = st.Interp
	ve, err := interpolation.NewVolumeEstimator(vol, t.Inputs.Mask, typ, est, kernel)
	if err != nil {
		return nil, err
	}

	opts := field.DefaultOptions()
	opts.Prob = st.Tracking.Prob
	opts.Vector = st.Tracking.Vector
	opts.ProbPoints = t.Params.ProbPoints
	if odf || typ == model.TypeSpharm {
		opts.OdfPoints = st.OdfPoints
	}
	f, err := field.New(ve, opts)
	if err != nil {
		return nil, err
	}
	t.logger().Debug("built streamline field", "stage", st.Name, "model", typ, "attr", f.Attr(), "interp", st.Interp)
	return f, nil
}

func region(mask *models.Mask, solids selection.Solids) tracking.Region {
	sel := selection.Or(selection.NewMaskSelector(mask), solids)
	if sel == nil {
		return nil
	}
	return sel
}

// force interpolates the guidance volume trilinearly
func (t *Tractographer) force() (tracking.ForceFunc, error) {
	if t.Inputs.Force == nil {
		return nil, nil
	}
	ve, err := interpolation.NewVolumeEstimator(t.Inputs.Force, nil, model.TypeVect,
		&estimation.VectEstimator{Size: 3}, interpolation.KernelParams{Interp: interpolation.Trilinear})
	if err != nil {
		return nil, fmt.Errorf("invalid force volume: %w", err)
	}
	return func(p models.Vect3) models.Vect3 {
		m, err := ve.Estimate(p)
		if err != nil {
			return models.Vect3{}
		}
		if v, ok := m.(*model.Vect); ok {
			return v.Vect3()
		}
		return models.Vect3{}
	}, nil
}

// tracker assembles the tracker of a stage
func (t *Tractographer) tracker(vol *models.Volume, st StageParams) (*tracking.Tracker, error) {
	f, err := t.field(vol, st)
	if err != nil {
		return nil, err
	}
	force, err := t.force()
	if err != nil {
		return nil, err
	}
	return &tracking.Tracker{
		Params:      st.Tracking,
		Field:       f,
		TrackRegion: region(st.Track, t.Inputs.TrackSolids),
		Stop:        region(st.Stop, t.Inputs.StopSolids),
		Trap:        region(st.Trap, nil),
		Exclude:     region(st.Exclude, nil),
		Force:       force,
		Logger:      t.logger().With("stage", st.Name),
	}, nil
}

// runStage tracks the seeds and applies the selection and the connection
// constraint of the stage
func (t *Tractographer) runStage(ctx context.Context, vol *models.Volume, seeds []models.Vect3, st StageParams) (*tracking.Curves, error) {
	tr, err := t.tracker(vol, st)
	if err != nil {
		return nil, err
	}
	curves, err := tr.Track(ctx, seeds)
	if err != nil {
		return nil, err
	}
	return t.finish(curves, st), nil
}

func (t *Tractographer) finish(curves *tracking.Curves, st StageParams) *tracking.Curves {
	log := t.logger()
	curves = t.Params.pipeline(t.Inputs).Apply(curves)
	if st.Connect != nil {
		before := curves.Len()
		curves = selection.ConnectRegions(st.Connect)(curves)
		log.Debug("applied connection constraint", "stage", st.Name, "before", before, "after", curves.Len())
	}
	log.Info("finished stage", "stage", st.Name, "curves", curves.Len())
	return curves
}
