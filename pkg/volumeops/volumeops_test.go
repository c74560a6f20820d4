package volumeops

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
	"mritract/pkg/field"
	"mritract/pkg/model"
	"mritract/pkg/tracking"
)

func xline(y, z float64, from, to float64) *tracking.Curve {
	c := tracking.NewCurve()
	for x := from; x <= to+1e-9; x += 0.5 {
		c.Points = append(c.Points, models.Vect3{X: x, Y: y, Z: z})
	}
	return c
}

func TestOrientationMapVector(t *testing.T) {
	s := models.GridSampling(8, 4, 4)
	curves := tracking.NewCurves()
	curves.Add(xline(1, 1, 0, 7))
	// reversed copy, aligned again by orientation
	back := xline(1, 1, 0, 7)
	back.Reverse()
	curves.Add(back)
	curves.Add(xline(2, 2, 0, 3))

	opts := DefaultOrientationOptions()
	opts.Norm = NormRamp
	dirs, err := OrientationMap(context.Background(), curves, s, opts)
	require.NoError(t, err)

	v := models.FromSlice(dirs.Get(3, 1, 1))
	assert.InDelta(t, 1.0, v.X, 1e-9)
	assert.InDelta(t, 0.0, v.Y, 1e-9)

	// one curve out of three gets a third of the peak count
	w := models.FromSlice(dirs.Get(1, 2, 2))
	assert.InDelta(t, 0.5, r3.Norm(w), 1e-9)

	assert.Equal(t, []float64{0, 0, 0}, dirs.Get(5, 3, 3))
}

func TestOrientationMapAxial(t *testing.T) {
	s := models.GridSampling(6, 6, 3)
	curves := tracking.NewCurves()
	c := tracking.NewCurve()
	for y := 0.0; y <= 5; y += 0.5 {
		c.Points = append(c.Points, models.Vect3{X: 2, Y: y, Z: 1})
	}
	curves.Add(c)

	opts := OrientationOptions{Norm: NormHistogram}
	dirs, err := OrientationMap(context.Background(), curves, s, opts)
	require.NoError(t, err)

	v := models.FromSlice(dirs.Get(2, 3, 1))
	assert.InDelta(t, 1.0, math.Abs(v.Y), 1e-9)
	assert.Equal(t, 6, ThresholdMagnitude(dirs, 1e-3).Count())
}

func TestOrientationMapSmooth(t *testing.T) {
	s := models.GridSampling(9, 9, 9)
	curves := tracking.NewCurves()
	curves.Add(xline(4, 4, 0, 8))

	opts := DefaultOrientationOptions()
	opts.Smooth = true
	opts.Sigma = 1
	opts.Support = 1
	opts.Threads = 3
	dirs, err := OrientationMap(context.Background(), curves, s, opts)
	require.NoError(t, err)

	// smoothing spreads the bundle into the dilated neighbourhood only
	assert.Greater(t, dirs.Get(4, 5, 4)[0], 0.0)
	assert.Equal(t, 0.0, dirs.Get(4, 7, 4)[0])
	assert.Greater(t, dirs.Get(4, 4, 4)[0], dirs.Get(4, 5, 4)[0])
}

func TestOrientationMapEmpty(t *testing.T) {
	dirs, err := OrientationMap(context.Background(), tracking.NewCurves(), models.GridSampling(2, 2, 2), DefaultOrientationOptions())
	require.NoError(t, err)
	assert.Zero(t, ThresholdMagnitude(dirs, 0).Count())
}

func TestOrientCurvesKeepsInput(t *testing.T) {
	curves := tracking.NewCurves()
	c := xline(0, 0, 0, 2)
	c.Reverse()
	curves.Add(c)

	out := OrientCurves(curves)
	assert.Equal(t, models.Vect3{}, out.Curves[0].Head())
	assert.Equal(t, models.Vect3{X: 2}, curves.Curves[0].Head())
}

func TestGaussianFilter(t *testing.T) {
	s := models.GridSampling(5, 5, 5)
	vol := models.NewVolume(s, 1, string(model.TypeVect))
	vol.Fill([]float64{2})

	out, err := GaussianFilter(context.Background(), vol, nil, GaussianOptions{Sigma: 1, Support: 2, Threads: 4})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(vol.Data, out.Data, cmpopts.EquateApprox(0, 1e-12)))

	// an impulse spreads symmetrically and keeps its mass near the centre
	impulse := models.NewVolume(s, 1, string(model.TypeVect))
	impulse.Set(2, 2, 2, []float64{1})
	mask := models.NewMask(s)
	for idx := range mask.Labels {
		mask.Labels[idx] = 1
	}
	mask.Set(0, 0, 0, 0)
	out, err = GaussianFilter(context.Background(), impulse, mask, GaussianOptions{Sigma: 1, Support: 1})
	require.NoError(t, err)
	assert.InDelta(t, out.Get(1, 2, 2)[0], out.Get(3, 2, 2)[0], 1e-12)
	assert.Greater(t, out.Get(2, 2, 2)[0], out.Get(1, 2, 2)[0])
	assert.Zero(t, out.Get(0, 0, 0)[0])

	_, err = GaussianFilter(context.Background(), vol, nil, GaussianOptions{})
	assert.Error(t, err)
}

func TestGaussianFilterCancelled(t *testing.T) {
	s := models.GridSampling(4, 4, 8)
	vol := models.NewVolume(s, 1, string(model.TypeVect))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := GaussianFilter(ctx, vol, nil, GaussianOptions{Sigma: 1, Threads: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func fibersVoxel(comps ...model.Compartment) []float64 {
	f := model.NewFibers(len(comps))
	f.Base = 1
	f.Diff = 1e-3
	copy(f.Comps, comps)
	return f.Encode()
}

func TestProjectFibers(t *testing.T) {
	s := models.GridSampling(4, 1, 1)
	peaks := models.NewVolume(s, model.FibersSize(2), string(model.TypeFibers))
	ref := models.NewVolume(s, 3, string(model.TypeVect))

	x := model.Compartment{Frac: 0.5, Line: models.Vect3{X: 1}}
	y := model.Compartment{Frac: 0.3, Line: models.Vect3{Y: 1}}
	for i := 0; i < 4; i++ {
		peaks.Set(i, 0, 0, fibersVoxel(x, y))
	}

	// picks y, signed like the reference
	ref.Set(0, 0, 0, []float64{0.1, -0.9, 0})
	// weak reference
	ref.Set(1, 0, 0, []float64{0.001, 0, 0})
	// outside the angular window of both compartments
	ref.Set(2, 0, 0, []float64{0, 0, 1})
	// picks x
	ref.Set(3, 0, 0, []float64{1, 0.2, 0})

	opts := ProjectOptions{Angle: 45, Norm: 0.01, Frac: 0.025, Fsum: 0.05}
	out, err := ProjectFibers(context.Background(), peaks, ref, nil, opts)
	require.NoError(t, err)

	approx := cmpopts.EquateApprox(0, 1e-12)
	assert.Empty(t, cmp.Diff([]float64{0, -0.3, 0}, out.Get(0, 0, 0), approx))
	assert.Equal(t, []float64{0, 0, 0}, out.Get(1, 0, 0))
	assert.Equal(t, []float64{0, 0, 0}, out.Get(2, 0, 0))
	assert.Empty(t, cmp.Diff([]float64{0.5, 0, 0}, out.Get(3, 0, 0), approx))

	// the fraction threshold drops the y compartment
	opts.Frac = 0.4
	out, err = ProjectFibers(context.Background(), peaks, ref, nil, opts)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 0}, out.Get(0, 0, 0))

	_, err = ProjectFibers(context.Background(), ref, ref, nil, opts)
	assert.ErrorIs(t, err, model.ErrUnsupportedModel)
}

func TestThresholds(t *testing.T) {
	s := models.GridSampling(3, 1, 1)
	vol := models.NewVolume(s, 3, string(model.TypeVect))
	vol.Set(0, 0, 0, []float64{0, 0, 0.0005})
	vol.Set(1, 0, 0, []float64{0.3, 0.4, 0})
	vol.Set(2, 0, 0, []float64{-2, 0, 0})

	mask := ThresholdMagnitude(vol, 1e-3)
	assert.Equal(t, []int{0, 1, 1}, mask.Labels)
	assert.Equal(t, []int{0, 1, 0}, Threshold(vol, 0.1).Labels)

	mag, err := Feature(vol, nil, model.TypeVect, model.VectMag)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff([]float64{0.0005, 0.5, 2}, mag.Data, cmpopts.EquateApprox(0, 1e-12)))

	_, err = Feature(vol, nil, model.TypeVect, "bogus")
	assert.Error(t, err)
}

func TestMorphology(t *testing.T) {
	s := models.GridSampling(5, 5, 5)
	mask := models.NewMask(s)
	mask.Set(2, 2, 2, 3)

	d1 := Dilate(mask, 1)
	assert.Equal(t, 7, d1.Count())
	assert.Equal(t, 3, d1.Get(2, 3, 2))
	assert.Equal(t, 25, Dilate(mask, 2).Count())

	dt := DistanceTransform(mask)
	assert.Zero(t, dt.Get(2, 2, 2)[0])
	assert.InDelta(t, 1.0, dt.Get(2, 2, 3)[0], 1e-12)
	assert.InDelta(t, math.Sqrt(12), dt.Get(0, 0, 0)[0], 1e-12)

	assert.True(t, math.IsInf(DistanceTransform(models.NewMask(s)).Data[0], 1))
}

func TestDensity(t *testing.T) {
	s := models.GridSampling(5, 3, 3)
	curves := tracking.NewCurves()
	curves.Add(xline(1, 1, 0, 4), xline(1, 1, 2, 4), xline(2, 2, 0, 1))

	d := Density(curves, s)
	assert.Equal(t, 1.0, d.Get(0, 1, 1)[0])
	assert.Equal(t, 2.0, d.Get(3, 1, 1)[0])
	assert.Equal(t, 1.0, d.Get(1, 2, 2)[0])
	assert.Zero(t, d.Get(4, 2, 2)[0])
}

// stubField offers three fixed peaks everywhere except at x < 1
type stubField struct{}

func (stubField) Attr() string { return "stub" }

func (stubField) Samples(p models.Vect3) ([]field.Sample, error) {
	if p.X < 1 {
		return nil, nil
	}
	return []field.Sample{
		{Position: p, Orientation: models.Vect3{Y: 2}, Attr: 0.3, Prob: 1},
		{Position: p, Orientation: models.Vect3{X: 1}, Attr: 0.6, Prob: 3},
		{Position: p, Orientation: models.Vect3{Z: 1}, Attr: 0.01, Prob: 5},
	}, nil
}

func TestPeaks(t *testing.T) {
	s := models.GridSampling(3, 2, 2)
	mask := models.NewMask(s)
	mask.Set(0, 0, 0, 1)
	mask.Set(1, 0, 0, 1)
	mask.Set(2, 1, 1, 1)

	vol, err := Peaks(context.Background(), stubField{}, s, mask, PeakOptions{Comps: 2, Thresh: 0.1, Threads: 2})
	require.NoError(t, err)
	assert.Equal(t, model.FibersSize(2), vol.Dim)
	assert.Equal(t, string(model.TypeFibers), vol.Model)

	f := model.NewFibers(2)
	require.NoError(t, f.Decode(vol.Get(1, 0, 0)))
	assert.Equal(t, 1.0, f.Base)
	assert.InDelta(t, 0.75, f.Comps[0].Frac, 1e-12)
	assert.Equal(t, models.Vect3{X: 1}, f.Comps[0].Line)
	assert.InDelta(t, 0.25, f.Comps[1].Frac, 1e-12)
	assert.Equal(t, models.Vect3{Y: 1}, f.Comps[1].Line)

	require.NoError(t, f.Decode(vol.Get(2, 1, 1)))
	assert.InDelta(t, 1, f.FracSum(), 1e-12)

	// no peaks at x < 1, outside the mask nothing is sampled
	assert.Equal(t, make([]float64, vol.Dim), vol.Get(0, 0, 0))
	assert.Equal(t, make([]float64, vol.Dim), vol.Get(2, 0, 0))
}
