package tractography

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"mritract/internal/models"
	"mritract/pkg/interpolation"
	"mritract/pkg/model"
	"mritract/pkg/selection"
	"mritract/pkg/tracking"
	"mritract/pkg/volumeops"
)

const (
	// hybridMinMag is the smallest orientation magnitude kept for projection
	hybridMinMag = 1e-3

	hybridPeakComps  = 4
	hybridPeakThresh = 0.25
	hybridSupport    = 3
)

// hybrid runs the pre-tracking, projects the peaks onto its orientation map
// and tracks the projected vectors
func (t *Tractographer) hybrid(ctx context.Context, run uuid.UUID, rng *rand.Rand) (*tracking.Curves, error) {
	log := t.logger()
	h := t.Params.Hybrid
	threads := t.Params.Tracking.Threads

	peaks, err := t.peaks(ctx)
	if err != nil {
		return nil, err
	}

	seeds, err := t.seeds(rng)
	if err != nil {
		return nil, err
	}

	pre, err := t.preTracking(ctx, seeds, rng)
	if err != nil {
		return nil, err
	}
	t.record(run, StagePreTracking, func(s DiagnosticSink) error { return s.Curves(run, StagePreTracking, pre) })

	log.Info("computing orientation map", "curves", pre.Len())
	omap, err := volumeops.OrientationMap(ctx, pre, t.Inputs.Volume.Sampling, volumeops.OrientationOptions{
		Vector:  true,
		Orient:  true,
		Norm:    volumeops.NormHistogram,
		Smooth:  h.Presmooth > 0,
		Sigma:   h.Presmooth,
		Support: hybridSupport,
		Threads: threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute orientation map: %w", err)
	}
	t.record(run, StageOrientation, func(s DiagnosticSink) error { return s.Volume(run, StageOrientation, "orientation", omap) })

	tom := volumeops.ThresholdMagnitude(omap, hybridMinMag)
	log.Info("projecting fibers", "voxels", tom.Count())
	proj, err := volumeops.ProjectFibers(ctx, peaks, omap, tom, volumeops.ProjectOptions{
		Angle:   h.ProjAngle,
		Norm:    h.ProjNorm,
		Frac:    h.ProjFrac,
		Fsum:    h.ProjFsum,
		Threads: threads,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to project fibers: %w", err)
	}
	if h.Postsmooth > 0 {
		proj, err = volumeops.GaussianFilter(ctx, proj, tom, volumeops.GaussianOptions{
			Sigma:   h.Postsmooth,
			Support: hybridSupport,
			Threads: threads,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to smooth projection: %w", err)
		}
	}
	t.record(run, StageProjection, func(s DiagnosticSink) error { return s.Volume(run, StageProjection, "projected", proj) })
	t.record(run, StageProjection, func(s DiagnosticSink) error { return s.Volume(run, StageProjection, "peaks", peaks) })

	post := t.prepare(seeds, t.Params.SamplesFactor, rng)
	log.Info("post-tracking", "seeds", len(post))
	curves, err := t.runStage(ctx, proj, post, t.postStage())
	if err != nil {
		return nil, err
	}
	t.record(run, StagePostTracking, func(s DiagnosticSink) error { return s.Curves(run, StagePostTracking, curves) })
	return curves, nil
}

// preTracking runs the probabilistic stage, or filters the given curves
// with the stage regions
func (t *Tractographer) preTracking(ctx context.Context, seeds []models.Vect3, rng *rand.Rand) (*tracking.Curves, error) {
	st := t.preStage()
	if t.Inputs.HybridCurves != nil {
		t.logger().Info("using given pre-tracking curves", "curves", t.Inputs.HybridCurves.Len())
		curves := t.Inputs.HybridCurves
		if st.Exclude != nil {
			curves = selection.ExcludeMask(st.Exclude)(curves)
		}
		return t.finish(curves, st), nil
	}

	seeds = t.prepare(seeds, t.Params.Hybrid.SamplesFactor, rng)
	t.logger().Info("pre-tracking", "seeds", len(seeds))
	return t.runStage(ctx, t.Inputs.Volume, seeds, st)
}

// peaks returns the multi-fiber volume projected onto the orientation map
func (t *Tractographer) peaks(ctx context.Context) (*models.Volume, error) {
	in := t.Inputs
	if in.HybridPeaks != nil {
		if !model.FibersValid(in.HybridPeaks.Dim) {
			return nil, fmt.Errorf("%w: hybrid peaks need a fibers volume, got dimension %d", model.ErrUnsupportedModel, in.HybridPeaks.Dim)
		}
		return in.HybridPeaks, nil
	}

	typ, odf, err := t.modelType(in.Volume, t.Params.Model, in.OdfPoints)
	if err != nil {
		return nil, err
	}
	switch {
	case typ == model.TypeFibers:
		return in.Volume, nil
	case odf || typ == model.TypeSpharm:
		st := t.plainStage()
		st.Name = "peaks"
		st.Interp = interpolation.Nearest
		st.Tracking.Prob = false
		st.Tracking.Vector = false
		f, err := t.field(in.Volume, st)
		if err != nil {
			return nil, err
		}
		t.logger().Info("extracting peaks", "model", typ)
		return volumeops.Peaks(ctx, f, in.Volume.Sampling, in.Track, volumeops.PeakOptions{
			Comps:   hybridPeakComps,
			Thresh:  hybridPeakThresh * t.Params.Tracking.Min,
			Threads: t.Params.Tracking.Threads,
		})
	}
	return nil, fmt.Errorf("%w: hybrid tracking requires multi-fiber input, got %s", tracking.ErrInvalidConfiguration, typ)
}

// record hands an intermediate result to the sink, logging failures
func (t *Tractographer) record(run uuid.UUID, stage string, fn func(DiagnosticSink) error) {
	if t.Sink == nil {
		return
	}
	if err := fn(t.Sink); err != nil {
		t.logger().Warn("failed to record intermediate result", "stage", stage, "error", err)
	}
}
