package estimation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mritract/internal/models"
	"mritract/pkg/model"
)

var axes = [3]models.Vect3{{X: 1}, {Y: 1}, {Z: 1}}

func fibers(base, diff float64, comps ...model.Compartment) *model.Fibers {
	f := model.NewFibers(len(comps))
	f.Base, f.Diff = base, diff
	copy(f.Comps, comps)
	return f
}

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	e, err := For(model.TypeFibers, model.FibersSize(2), cfg)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Proto().(*model.Fibers).Size())

	cfg.Fibers.MaxComps = 0
	e, err = For(model.TypeFibers, model.FibersSize(2), cfg)
	require.NoError(t, err)
	assert.Equal(t, 2, e.Proto().(*model.Fibers).Size())

	e, err = For(model.TypeSpharm, 15, cfg)
	require.NoError(t, err)
	assert.Equal(t, 4, e.Proto().(*model.Spharm).Order)

	cfg.Line = true
	e, err = For(model.TypeVect, 3, cfg)
	require.NoError(t, err)
	assert.IsType(t, &LineEstimator{}, e)

	_, err = For(model.TypeKurtosis, 22, cfg)
	assert.ErrorIs(t, err, model.ErrUnsupportedModel)
}

func TestTensorEstimator(t *testing.T) {
	a := model.NewTensorEigen(1, [3]float64{2e-3, 4e-4, 4e-4}, axes)
	b := model.NewTensorEigen(3, [3]float64{2e-3, 4e-4, 4e-4}, axes)

	for _, log := range []bool{false, true} {
		e := &TensorEstimator{Log: log}
		out, err := e.Estimate([]float64{1, 1}, []model.Model{a, b})
		require.NoError(t, err)

		tensor := out.(*model.Tensor)
		assert.InDelta(t, 2, tensor.S0, 1e-12)
		assert.InDelta(t, 2e-3, tensor.D[0][0], 1e-9, "log=%v", log)
		assert.InDelta(t, 4e-4, tensor.D[1][1], 1e-9, "log=%v", log)
	}

	_, err := (&TensorEstimator{}).Estimate([]float64{1}, []model.Model{a, b})
	assert.ErrorIs(t, err, ErrMismatchedInput)

	_, err = (&TensorEstimator{}).Estimate([]float64{1}, []model.Model{model.NewNoddi()})
	assert.ErrorIs(t, err, ErrMismatchedInput)
}

func TestTensorEstimatorZeroWeight(t *testing.T) {
	a := model.NewTensorEigen(1, [3]float64{2e-3, 4e-4, 4e-4}, axes)
	out, err := (&TensorEstimator{}).Estimate([]float64{0}, []model.Model{a})
	require.NoError(t, err)
	assert.Equal(t, model.NewTensor().Encode(), out.Encode())
}

func TestFibersMatchCrossing(t *testing.T) {
	x := model.Compartment{Frac: 0.4, Line: models.Vect3{X: 1}}
	xflip := model.Compartment{Frac: 0.4, Line: models.Vect3{X: -1}}
	y := model.Compartment{Frac: 0.3, Line: models.Vect3{Y: 1}}

	inputs := []model.Model{
		fibers(1, 1e-3, x, y),
		fibers(1, 1e-3, xflip, y),
		fibers(1, 4e-3, x, y),
	}
	weights := []float64{1, 1, 1}

	for _, sel := range []FibersSelection{SelectMax, SelectFixed, SelectLinear, SelectAdaptive} {
		e := DefaultFibersEstimator()
		e.MaxComps = 2
		e.Selection = sel
		e.Lambda = 0.01

		out, err := e.Estimate(weights, inputs)
		require.NoError(t, err, sel.String())

		f := out.(*model.Fibers)
		assert.InDelta(t, 1, f.Base, 1e-12)
		assert.InDelta(t, math.Cbrt(1e-3*1e-3*4e-3), f.Diff, 1e-12)

		require.Equal(t, 2, f.Size())
		assert.InDelta(t, 0.4, f.Comps[0].Frac, 1e-9, sel.String())
		assert.InDelta(t, 1, math.Abs(f.Comps[0].Line.X), 1e-9, sel.String())
		assert.InDelta(t, 0.3, f.Comps[1].Frac, 1e-9, sel.String())
		assert.InDelta(t, 1, math.Abs(f.Comps[1].Line.Y), 1e-9, sel.String())
	}
}

func TestFibersMinFrac(t *testing.T) {
	e := DefaultFibersEstimator()
	e.MaxComps = 2
	e.Selection = SelectMax
	e.MinFrac = 0.1

	in := fibers(1, 1e-3,
		model.Compartment{Frac: 0.5, Line: models.Vect3{Z: 1}},
		model.Compartment{Frac: 0.05, Line: models.Vect3{X: 1}},
	)
	out, err := e.Estimate([]float64{2}, []model.Model{in})
	require.NoError(t, err)

	f := out.(*model.Fibers)
	assert.InDelta(t, 0.5, f.Comps[0].Frac, 1e-12)
	assert.Equal(t, 0.0, f.Comps[1].Frac)
}

func TestFibersRank(t *testing.T) {
	e := DefaultFibersEstimator()
	e.Estimation = Rank
	e.MaxComps = 2

	_, err := e.Estimate([]float64{1}, []model.Model{fibers(1, 1e-3, model.Compartment{})})
	require.Error(t, err, "rank needs fixed selection")

	e.Selection = SelectFixed
	inputs := []model.Model{
		fibers(1, 1e-3, model.Compartment{Frac: 0.2, Line: models.Vect3{Y: 1}}, model.Compartment{Frac: 0.6, Line: models.Vect3{X: 1}}),
		fibers(1, 1e-3, model.Compartment{Frac: 0.4, Line: models.Vect3{X: -1}}, model.Compartment{Frac: 0.1, Line: models.Vect3{Y: 1}}),
	}
	out, err := e.Estimate([]float64{1, 1}, inputs)
	require.NoError(t, err)

	f := out.(*model.Fibers)
	assert.InDelta(t, 0.5, f.Comps[0].Frac, 1e-12)
	assert.InDelta(t, 1, math.Abs(f.Comps[0].Line.X), 1e-9)
	assert.InDelta(t, 0.15, f.Comps[1].Frac, 1e-12)
	assert.InDelta(t, 1, math.Abs(f.Comps[1].Line.Y), 1e-9)
}

func TestParsePolicies(t *testing.T) {
	sel, err := ParseFibersSelection("Linear")
	require.NoError(t, err)
	assert.Equal(t, SelectLinear, sel)

	est, err := ParseFibersEstimation("Rank")
	require.NoError(t, err)
	assert.Equal(t, Rank, est)

	_, err = ParseFibersSelection("bogus")
	assert.Error(t, err)

	m, weighted, err := ParseNoddiMethod("WeightedScatter")
	require.NoError(t, err)
	assert.Equal(t, NoddiScatter, m)
	assert.True(t, weighted)
}

func TestWatsonKappa(t *testing.T) {
	for _, kappa := range []float64{0.5, 2, 8, 32} {
		got, err := WatsonKappa(model.WatsonLambda(kappa))
		require.NoError(t, err)
		assert.InEpsilon(t, kappa, got, 1e-3, "kappa=%v", kappa)
	}

	k, err := WatsonKappa(0.2)
	require.NoError(t, err)
	assert.Equal(t, 0.0, k)
}

func TestNoddiEstimator(t *testing.T) {
	a := &model.Noddi{Base: 1, Ficvf: 0.6, Fiso: 0.1, Kappa: 8, Dir: models.Vect3{Z: 1}}
	b := &model.Noddi{Base: 3, Ficvf: 0.4, Fiso: 0.3, Kappa: 8, Dir: models.Vect3{Z: -1}}

	for _, method := range []NoddiMethod{NoddiComponent, NoddiRankOne, NoddiScatter, NoddiLogScatter} {
		e := DefaultNoddiEstimator()
		e.Method = method

		out, err := e.Estimate([]float64{1, 1}, []model.Model{a, b})
		require.NoError(t, err, method.String())

		n := out.(*model.Noddi)
		assert.InDelta(t, 2, n.Base, 1e-12)
		assert.InDelta(t, 0.5, n.Ficvf, 1e-12)
		assert.InDelta(t, 0.2, n.Fiso, 1e-12)
		assert.InDelta(t, 1, math.Abs(n.Dir.Z), 1e-9, method.String())
		assert.InEpsilon(t, 8, n.Kappa, 1e-2, method.String())
	}
}

func TestNoddiWeighting(t *testing.T) {
	a := &model.Noddi{Ficvf: 0, Kappa: 1, Dir: models.Vect3{X: 1}}
	b := &model.Noddi{Ficvf: 0.5, Kappa: 1, Dir: models.Vect3{Y: 1}}

	e := DefaultNoddiEstimator()
	e.WeightICVF = true
	out, err := e.Estimate([]float64{1, 1}, []model.Model{a, b})
	require.NoError(t, err)
	assert.InDelta(t, 1, math.Abs(out.(*model.Noddi).Dir.Y), 1e-9)
}

func TestLineEstimator(t *testing.T) {
	inputs := []model.Model{
		model.NewVect3(models.Vect3{X: 2}),
		model.NewVect3(models.Vect3{X: -2}),
	}

	signed, err := (&VectEstimator{Size: 3}).Estimate([]float64{1, 1}, inputs)
	require.NoError(t, err)
	assert.InDelta(t, 0, signed.(*model.Vect).Mag(), 1e-12)

	line, err := (&LineEstimator{}).Estimate([]float64{1, 1}, inputs)
	require.NoError(t, err)
	v := line.(*model.Vect).Vect3()
	assert.InDelta(t, 2, math.Abs(v.X), 1e-9)
}

func TestSpharmEstimator(t *testing.T) {
	a := model.NewSpharm(2)
	b := model.NewSpharm(2)
	a.Coeffs[0], b.Coeffs[0] = 1, 3
	a.Coeffs[3] = 1

	out, err := (&SpharmEstimator{Order: 2}).Estimate([]float64{1, 3}, []model.Model{a, b})
	require.NoError(t, err)
	sh := out.(*model.Spharm)
	assert.InDelta(t, 2.5, sh.Coeffs[0], 1e-12)
	assert.InDelta(t, 0.25, sh.Coeffs[3], 1e-12)
}
