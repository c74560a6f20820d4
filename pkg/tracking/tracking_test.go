package tracking

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mritract/internal/models"
	"mritract/pkg/estimation"
	"mritract/pkg/field"
	"mritract/pkg/interpolation"
	"mritract/pkg/model"
)

// funcField is a field defined by a closure
type funcField func(p models.Vect3) []field.Sample

func (f funcField) Samples(p models.Vect3) ([]field.Sample, error) { return f(p), nil }
func (f funcField) Attr() string                                   { return "attr" }

type regionFunc func(p models.Vect3) bool

func (r regionFunc) Contains(p models.Vect3) bool { return r(p) }

func constant(dir models.Vect3, inside func(models.Vect3) bool) funcField {
	return func(p models.Vect3) []field.Sample {
		if inside != nil && !inside(p) {
			return nil
		}
		return []field.Sample{{Position: p, Orientation: dir, Attr: 1, Prob: 1}}
	}
}

func testParams() Params {
	p := DefaultParams()
	p.Threads = 1
	return p
}

func volumeField(t *testing.T, typ model.Type, vol *models.Volume, interp interpolation.KernelType) field.Field {
	t.Helper()
	est, err := estimation.For(typ, vol.Dim, estimation.DefaultConfig())
	require.NoError(t, err)
	kp := interpolation.DefaultKernelParams()
	kp.Interp = interp
	ve, err := interpolation.NewVolumeEstimator(vol, nil, typ, est, kp)
	require.NoError(t, err)
	f, err := field.New(ve, field.DefaultOptions())
	require.NoError(t, err)
	return f
}

func TestTerminationOnCyclicField(t *testing.T) {
	// directions circle the z axis forever
	circle := funcField(func(p models.Vect3) []field.Sample {
		dir := models.Normalize(models.Vect3{X: -p.Y, Y: p.X})
		return []field.Sample{{Position: p, Orientation: dir, Attr: 1, Prob: 1}}
	})

	for _, rk := range []bool{false, true} {
		params := testParams()
		params.Step = 0.7
		params.MaxLen = 25
		params.RK = rk
		tr := &Tracker{Params: params, Field: circle}

		curve, outcome := tr.TrackSeed(models.Vect3{X: 5}, 0)
		limit := int(math.Ceil(params.MaxLen / params.Step))
		assert.LessOrEqual(t, outcome.Steps, limit)
		assert.Equal(t, MaxSteps, outcome.Forward)
		assert.Equal(t, MaxSteps, outcome.Backward)
		assert.Equal(t, outcome.Steps+1, curve.Len())
	}
}

func TestMonoUsesWholeBudget(t *testing.T) {
	params := testParams()
	params.Mono = true
	params.Vector = true
	params.MaxLen = 7
	tr := &Tracker{Params: params, Field: constant(models.Vect3{X: 1}, nil)}

	curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
	assert.Equal(t, 7, outcome.Steps)
	assert.Equal(t, Skipped, outcome.Backward)
	assert.InDelta(t, 7, curve.Tail().X, 1e-9)
}

func TestSeedCorrespondence(t *testing.T) {
	inside := func(p models.Vect3) bool { return p.X > 0 }
	for _, n := range []int{0, 1, 100} {
		seeds := make([]models.Vect3, n)
		for i := range seeds {
			seeds[i] = models.Vect3{X: float64(i%7) - 3, Y: float64(i)}
		}

		params := testParams()
		params.Empty = true
		params.MaxLen = 4
		params.Threads = 4
		tr := &Tracker{Params: params, Field: constant(models.Vect3{Z: 1}, inside)}

		curves, err := tr.Track(context.Background(), seeds)
		require.NoError(t, err)
		require.Equal(t, n, curves.Len())
		for i, c := range curves.Curves {
			if !inside(seeds[i]) {
				assert.Zero(t, c.Len(), "seed %d", i)
				continue
			}
			require.NotZero(t, c.Len(), "seed %d", i)
			assert.Contains(t, c.Points, seeds[i])
		}
	}
}

func TestLengthFilter(t *testing.T) {
	inside := func(p models.Vect3) bool { return p.X >= -0.5 && p.X <= 8.5 }
	var seeds []models.Vect3
	for x := 0; x <= 8; x++ {
		seeds = append(seeds, models.Vect3{X: float64(x)})
	}

	params := testParams()
	params.MinLen = 3
	params.MaxLen = 6
	params.Threads = 3
	tr := &Tracker{Params: params, Field: constant(models.Vect3{X: 1}, inside)}

	curves, err := tr.Track(context.Background(), seeds)
	require.NoError(t, err)
	require.NotZero(t, curves.Len())
	for _, c := range curves.Curves {
		l := c.Length()
		assert.GreaterOrEqual(t, l, params.MinLen-1e-9)
		assert.LessOrEqual(t, l, params.MaxLen+1e-9)
	}
	require.NoError(t, curves.Validate())
}

func TestDeterministicAcrossThreads(t *testing.T) {
	fork := funcField(func(p models.Vect3) []field.Sample {
		return []field.Sample{
			{Position: p, Orientation: models.Vect3{X: 1}, Attr: 1, Prob: 0.6},
			{Position: p, Orientation: models.Normalize(models.Vect3{X: 1, Y: 0.3}), Attr: 1, Prob: 0.4},
		}
	})
	seeds := make([]models.Vect3, 40)
	for i := range seeds {
		seeds[i] = models.Vect3{Z: float64(i)}
	}

	run := func(threads int) *Curves {
		params := testParams()
		params.Prob = true
		params.Disperse = 0.05
		params.MaxLen = 10
		params.Threads = threads
		params.Seed = 7
		tr := &Tracker{Params: params, Field: fork}
		out, err := tr.Track(context.Background(), seeds)
		require.NoError(t, err)
		return out
	}

	a, b := run(1), run(5)
	assert.True(t, cmp.Equal(a, b, cmpopts.EquateApprox(0, 1e-12)), cmp.Diff(a, b))
}

// uniform isotropic tensors never pass the attribute threshold
func TestScenarioIsotropicTensor(t *testing.T) {
	vol := models.NewVolume(models.GridSampling(5, 5, 5), model.TensorSize, string(model.TypeTensor))
	iso := model.NewTensorEigen(1, [3]float64{1e-3, 1e-3, 1e-3},
		[3]models.Vect3{{X: 1}, {Y: 1}, {Z: 1}})
	vol.Fill(iso.Encode())
	f := volumeField(t, model.TypeTensor, vol, interpolation.Trilinear)

	seeds := []models.Vect3{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 2.5, Y: 1.2, Z: 3.7}}
	for _, empty := range []bool{false, true} {
		params := testParams()
		params.Empty = empty
		tr := &Tracker{Params: params, Field: f}

		curves, err := tr.Track(context.Background(), seeds)
		require.NoError(t, err)
		if !empty {
			assert.Zero(t, curves.Len())
			continue
		}
		require.Equal(t, len(seeds), curves.Len())
		for _, c := range curves.Curves {
			assert.Zero(t, c.Len())
			assert.Zero(t, c.Length())
		}
	}
}

// a single +z bundle tracked both ways from the origin
func TestScenarioSingleBundle(t *testing.T) {
	sampling := models.NewSampling(models.Vect3{X: -10, Y: -10, Z: -10}, models.Vect3{X: 1, Y: 1, Z: 1}, 21, 21, 21)
	fibers := model.NewFibers(1)
	fibers.Base, fibers.Diff = 1, 1e-3
	fibers.Comps[0] = model.Compartment{Frac: 1, Line: models.Vect3{Z: 1}}
	vol := models.NewVolume(sampling, fibers.EncodingSize(), string(model.TypeFibers))
	vol.Fill(fibers.Encode())
	f := volumeField(t, model.TypeFibers, vol, interpolation.Nearest)

	params := testParams()
	params.Step = 1
	params.Angle = 45
	params.MaxLen = 10
	tr := &Tracker{Params: params, Field: f}

	curves, err := tr.Track(context.Background(), []models.Vect3{{}})
	require.NoError(t, err)
	require.Equal(t, 1, curves.Len())

	c := curves.Curves[0]
	assert.InDelta(t, 10, c.Length(), params.Step)
	for _, p := range c.Points {
		assert.InDelta(t, 0, p.X, 1e-9)
		assert.InDelta(t, 0, p.Y, 1e-9)
	}
	assert.InDelta(t, 10, math.Abs(c.Tail().Z-c.Head().Z), params.Step)
	assert.Contains(t, c.Attrs, model.FibersFrac)
	assert.Contains(t, c.Attrs, AttrTangent)
}

// two weak compartments pass a threshold that only their sum exceeds
func TestFibersTotalFractionThreshold(t *testing.T) {
	sampling := models.NewSampling(models.Vect3{X: -10, Y: -10, Z: -10}, models.Vect3{X: 1, Y: 1, Z: 1}, 21, 21, 21)
	fibers := model.NewFibers(2)
	fibers.Base, fibers.Diff = 1, 1e-3
	fibers.Comps[0] = model.Compartment{Frac: 0.05, Line: models.Vect3{Z: 1}}
	fibers.Comps[1] = model.Compartment{Frac: 0.05, Line: models.Vect3{Z: 1}}
	vol := models.NewVolume(sampling, fibers.EncodingSize(), string(model.TypeFibers))
	vol.Fill(fibers.Encode())
	f := volumeField(t, model.TypeFibers, vol, interpolation.Nearest)

	for _, tc := range []struct {
		name   string
		min    float64
		curves int
	}{
		{"below total", 0.075, 1},
		{"above total", 0.15, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			params := testParams()
			params.Step = 1
			params.MaxLen = 10
			params.Min = tc.min
			tr := &Tracker{Params: params, Field: f}

			curves, err := tr.Track(context.Background(), []models.Vect3{{}})
			require.NoError(t, err)
			require.Equal(t, tc.curves, curves.Len())
			if tc.curves > 0 {
				assert.InDelta(t, 10, curves.Curves[0].Length(), params.Step)
			}
		})
	}
}

// a sharp turn between neighbouring voxels stops the streamline at the
// last sample before the boundary
func TestScenarioSharpTurn(t *testing.T) {
	vol := models.NewVolume(models.GridSampling(4, 1, 1), 3, string(model.TypeVect))
	vol.Set(0, 0, 0, []float64{1, 0, 0})
	for i := 1; i < 4; i++ {
		vol.Set(i, 0, 0, []float64{0, 1, 0})
	}
	f := volumeField(t, model.TypeVect, vol, interpolation.Nearest)

	params := testParams()
	params.Step = 0.4
	params.Angle = 30
	params.Mono = true
	params.Vector = true
	params.MinLen = 0
	tr := &Tracker{Params: params, Field: f}

	curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
	require.True(t, outcome.Kept)
	assert.Equal(t, NoCandidate, outcome.Forward)
	require.Equal(t, 2, curve.Len())
	assert.InDelta(t, 0.4, curve.Tail().X, 1e-9)
	assert.InDelta(t, 0, curve.Tail().Y, 1e-9)
}

func TestRegions(t *testing.T) {
	params := testParams()
	params.Mono = true
	params.Vector = true
	params.MaxLen = 10
	dir := models.Vect3{X: 1}

	t.Run("stop keeps the entry point", func(t *testing.T) {
		tr := &Tracker{Params: params, Field: constant(dir, nil), Stop: regionFunc(func(p models.Vect3) bool { return p.X >= 3 })}
		curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
		assert.Equal(t, Stopped, outcome.Forward)
		assert.InDelta(t, 3, curve.Tail().X, 1e-9)
	})

	t.Run("track region bounds the curve", func(t *testing.T) {
		tr := &Tracker{Params: params, Field: constant(dir, nil), TrackRegion: regionFunc(func(p models.Vect3) bool { return p.X < 4.5 })}
		curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
		assert.Equal(t, Stopped, outcome.Forward)
		assert.InDelta(t, 4, curve.Tail().X, 1e-9)
	})

	t.Run("exclude drops the curve", func(t *testing.T) {
		tr := &Tracker{Params: params, Field: constant(dir, nil), Exclude: regionFunc(func(p models.Vect3) bool { return p.X > 5.5 })}
		curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
		assert.Equal(t, Excluded, outcome.Forward)
		assert.False(t, outcome.Kept)
		assert.Zero(t, curve.Len())
	})

	t.Run("trap drops the curve", func(t *testing.T) {
		tr := &Tracker{Params: params, Field: constant(dir, nil), Trap: regionFunc(func(p models.Vect3) bool { return p.X > 2.5 })}
		_, outcome := tr.TrackSeed(models.Vect3{}, 0)
		assert.Equal(t, Trapped, outcome.Forward)
		assert.False(t, outcome.Kept)
	})

	t.Run("reach", func(t *testing.T) {
		p := params
		p.Reach = 3.5
		tr := &Tracker{Params: p, Field: constant(dir, nil)}
		curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
		assert.Equal(t, MaxLength, outcome.Forward)
		assert.InDelta(t, 3, curve.Tail().X, 1e-9)
	})
}

func TestAttributeThresholdStops(t *testing.T) {
	weak := funcField(func(p models.Vect3) []field.Sample {
		attr := 1.0
		if p.X > 2.5 {
			attr = 0.01
		}
		return []field.Sample{{Position: p, Orientation: models.Vect3{X: 1}, Attr: attr, Prob: 1}}
	})
	params := testParams()
	params.Mono = true
	params.Vector = true
	params.MaxLen = 10
	tr := &Tracker{Params: params, Field: weak}

	curve, outcome := tr.TrackSeed(models.Vect3{}, 0)
	assert.Equal(t, Stopped, outcome.Forward)
	assert.InDelta(t, 2, curve.Tail().X, 1e-9)
}

func TestProbMaxFollowsForce(t *testing.T) {
	fork := funcField(func(p models.Vect3) []field.Sample {
		return []field.Sample{
			{Position: p, Orientation: models.Vect3{X: 1}, Attr: 1, Prob: 0.9},
			{Position: p, Orientation: models.Normalize(models.Vect3{X: 1, Y: 1}), Attr: 1, Prob: 0.1},
		}
	})
	params := testParams()
	params.Prob = true
	params.ProbMax = true
	params.ProbAngle = 0
	params.Mono = true
	params.Vector = true
	params.MaxLen = 3
	tr := &Tracker{
		Params: params,
		Field:  fork,
		Force:  func(models.Vect3) models.Vect3 { return models.Normalize(models.Vect3{X: 1, Y: 1}) },
	}

	curve, _ := tr.TrackSeed(models.Vect3{}, 0)
	require.Equal(t, 4, curve.Len())
	last := r3.Sub(curve.Points[3], curve.Points[2])
	assert.InDelta(t, last.X, last.Y, 1e-9)
}

func TestValidate(t *testing.T) {
	tr := &Tracker{Params: testParams()}
	_, err := tr.Track(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	p := testParams()
	p.Step = 0
	require.ErrorIs(t, p.Validate(), ErrInvalidConfiguration)
	p = testParams()
	p.Mixing = 2
	require.ErrorIs(t, p.Validate(), ErrInvalidConfiguration)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := &Tracker{Params: testParams(), Field: constant(models.Vect3{X: 1}, nil)}
	_, err := tr.Track(ctx, []models.Vect3{{}, {Y: 1}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCurveOps(t *testing.T) {
	c := NewCurve(models.Vect3{}, models.Vect3{X: 3}, models.Vect3{X: 3, Y: 4})
	c.SetAll("label", []float64{2})
	assert.InDelta(t, 7, c.Length(), 1e-12)

	cp := c.Copy()
	cp.Reverse()
	assert.Equal(t, models.Vect3{X: 3, Y: 4}, cp.Head())
	assert.Equal(t, models.Vect3{}, c.Head())

	c.UpdateTangents()
	assert.Equal(t, []float64{1, 0, 0}, c.Attr(AttrTangent, 0))

	cs := NewCurves()
	cs.Add(c, cp)
	assert.Equal(t, 1, cs.Schema["label"])
	require.NoError(t, cs.Validate())
	assert.Equal(t, 1, cs.Subset([]int{1}).Len())
}
