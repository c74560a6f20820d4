package interpolation

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mritract/internal/models"
	"mritract/pkg/estimation"
	"mritract/pkg/model"
)

// createTensorVolume builds a volume whose tensor S0 grows along x
func createTensorVolume(n int) *models.Volume {
	vol := models.NewVolume(models.GridSampling(n, n, n), model.TensorSize, string(model.TypeTensor))
	axes := [3]models.Vect3{{X: 1}, {Y: 1}, {Z: 1}}
	for k := 0; k < n; k++ {
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				t := model.NewTensorEigen(float64(i), [3]float64{1.7e-3, 3e-4, 3e-4}, axes)
				vol.Set(i, j, k, t.Encode())
			}
		}
	}
	return vol
}

func newEstimator(t *testing.T, vol *models.Volume, mask *models.Mask, params KernelParams) *VolumeEstimator {
	t.Helper()
	est, err := estimation.For(model.TypeTensor, vol.Dim, estimation.DefaultConfig())
	require.NoError(t, err)
	e, err := NewVolumeEstimator(vol, mask, model.TypeTensor, est, params)
	require.NoError(t, err)
	return e
}

func sumWeights(ns []Neighbor) float64 {
	s := 0.0
	for _, n := range ns {
		s += n.Weight
	}
	return s
}

// TestWeightsNormalized checks that kernel weights sum to one wherever the
// neighbourhood is not empty
func TestWeightsNormalized(t *testing.T) {
	vol := createTensorVolume(6)
	rng := rand.New(rand.NewPCG(7, 11))

	for _, interp := range []KernelType{Nearest, Trilinear, Gaussian} {
		params := DefaultKernelParams()
		params.Interp = interp
		params.Support = 2
		e := newEstimator(t, vol, nil, params)

		for n := 0; n < 50; n++ {
			p := models.Vect3{X: rng.Float64() * 5, Y: rng.Float64() * 5, Z: rng.Float64() * 5}
			ns, err := e.Weights(p)
			require.NoError(t, err, "%s at %v", interp, p)
			assert.InDelta(t, 1, sumWeights(ns), 1e-12, "%s at %v", interp, p)
			for _, nb := range ns {
				assert.GreaterOrEqual(t, nb.Weight, 0.0)
			}
		}
	}
}

func TestTrilinear(t *testing.T) {
	vol := createTensorVolume(4)
	e := newEstimator(t, vol, nil, DefaultKernelParams())

	ns, err := e.Weights(models.Vect3{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, Neighbor{I: 1, J: 1, K: 1, Weight: 1}, ns[0])

	ns, err = e.Weights(models.Vect3{X: 1.5, Y: 1.5, Z: 1.5})
	require.NoError(t, err)
	require.Len(t, ns, 8)
	for _, nb := range ns {
		assert.InDelta(t, 0.125, nb.Weight, 1e-12)
	}

	m, err := e.Estimate(models.Vect3{X: 1.25, Y: 2, Z: 2})
	require.NoError(t, err)
	assert.InDelta(t, 1.25, m.Baseline(), 1e-12)
}

func TestTrilinearMask(t *testing.T) {
	vol := createTensorVolume(4)
	mask := models.NewMask(vol.Sampling)
	mask.Set(1, 1, 1, 1)

	e := newEstimator(t, vol, mask, DefaultKernelParams())
	ns, err := e.Weights(models.Vect3{X: 1.5, Y: 1.5, Z: 1.5})
	require.NoError(t, err)
	require.Len(t, ns, 1)
	assert.Equal(t, 1.0, ns[0].Weight)

	_, err = e.Estimate(models.Vect3{X: 2.5, Y: 2.5, Z: 2.5})
	assert.ErrorIs(t, err, ErrDegenerateNeighborhood)
}

func TestOutsideGrid(t *testing.T) {
	vol := createTensorVolume(3)
	for _, interp := range []KernelType{Trilinear, Gaussian} {
		params := DefaultKernelParams()
		params.Interp = interp
		params.Support = 1
		e := newEstimator(t, vol, nil, params)

		_, err := e.Estimate(models.Vect3{X: 20, Y: 20, Z: 20})
		assert.ErrorIs(t, err, ErrDegenerateNeighborhood, interp.String())
	}

	params := DefaultKernelParams()
	params.Interp = Nearest
	e := newEstimator(t, vol, nil, params)
	m, err := e.Estimate(models.Vect3{X: 20, Y: 20, Z: 20})
	require.NoError(t, err)
	assert.Equal(t, model.NewTensor().Encode(), m.Encode())
}

func TestGaussianBandwidths(t *testing.T) {
	vol := createTensorVolume(5)
	params := KernelParams{Interp: Gaussian, Support: 1, Hpos: 1}
	e := newEstimator(t, vol, nil, params)

	center := models.Vect3{X: 2, Y: 2, Z: 2}
	plain, err := e.Weights(center)
	require.NoError(t, err)
	assert.Len(t, plain, 27)

	// the centre voxel dominates and face neighbours follow exp(-1/2)
	byIdx := map[[3]int]float64{}
	for _, nb := range plain {
		byIdx[[3]int{nb.I, nb.J, nb.K}] = nb.Weight
	}
	assert.InDelta(t, math.Exp(-0.5), byIdx[[3]int{3, 2, 2}]/byIdx[[3]int{2, 2, 2}], 1e-12)

	params.Hsig = 0.5
	e = newEstimator(t, vol, nil, params)
	ref, err := e.Voxel(2, 2, 2)
	require.NoError(t, err)

	sig, err := e.WeightsRef(center, ref)
	require.NoError(t, err)
	byIdx = map[[3]int]float64{}
	for _, nb := range sig {
		byIdx[[3]int{nb.I, nb.J, nb.K}] = nb.Weight
	}
	// x neighbours differ in baseline by one, y neighbours do not
	assert.Less(t, byIdx[[3]int{3, 2, 2}], byIdx[[3]int{2, 3, 2}])
	assert.InDelta(t, math.Exp(-4), byIdx[[3]int{3, 2, 2}]/byIdx[[3]int{2, 3, 2}], 1e-12)
}

func TestNewVolumeEstimatorErrors(t *testing.T) {
	vol := createTensorVolume(2)
	est := &estimation.TensorEstimator{}

	_, err := NewVolumeEstimator(vol, nil, model.TypeKurtosis, est, DefaultKernelParams())
	assert.ErrorIs(t, err, model.ErrUnsupportedModel)

	_, err = NewVolumeEstimator(vol, nil, model.TypeNoddi, est, DefaultKernelParams())
	assert.NoError(t, err, "noddi shares the tensor layout size")

	_, err = NewVolumeEstimator(vol, nil, model.TypeSpharm, est, DefaultKernelParams())
	assert.ErrorIs(t, err, model.ErrInvalidEncoding)
}

func TestParseKernel(t *testing.T) {
	k, err := ParseKernel("Gaussian")
	require.NoError(t, err)
	assert.Equal(t, Gaussian, k)

	_, err = ParseKernel("cubic")
	assert.Error(t, err)
}
