package cluster

import (
	"context"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestKMeans(t *testing.T) {
	ctx := context.Background()
	// two clusters: near (0,0) and near (10,10)
	points := [][]float64{
		{0, 0}, {0, 1}, {1, 0},
		{10, 10}, {10, 11}, {11, 10},
	}

	res, err := KMeans(ctx, points, nil, 2, Options{Restarts: 3}, rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	require.Equal(t, 2, res.K())

	assert.Equal(t, res.Labels[0], res.Labels[1])
	assert.Equal(t, res.Labels[0], res.Labels[2])
	assert.Equal(t, res.Labels[3], res.Labels[4])
	assert.NotEqual(t, res.Labels[0], res.Labels[3])

	assert.Equal(t, res.Labels[0], res.Assign([]float64{0.5, 0.5}))
	assert.Equal(t, res.Labels[3], res.Assign([]float64{10.5, 10.5}))
}

func TestKMeansWeighted(t *testing.T) {
	points := [][]float64{{0}, {10}}
	res, err := KMeans(context.Background(), points, []float64{3, 1}, 1, DefaultOptions(), rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, res.Centers[0][0], 1e-12)
}

func TestKMeansInvalid(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	_, err := KMeans(context.Background(), nil, nil, 2, DefaultOptions(), rng)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = KMeans(context.Background(), [][]float64{{1}}, []float64{1, 2}, 1, DefaultOptions(), rng)
	assert.ErrorIs(t, err, ErrInvalidInput)

	// k larger than the data collapses to one cluster per point
	res, err := KMeans(context.Background(), [][]float64{{1}, {2}}, nil, 5, DefaultOptions(), rng)
	require.NoError(t, err)
	assert.Equal(t, 2, res.K())
	assert.InDelta(t, 0, res.Cost, 1e-12)
}

func TestKMeansCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := KMeans(ctx, [][]float64{{0}, {1}, {2}}, nil, 2, DefaultOptions(), rand.New(rand.NewPCG(1, 2)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAxial(t *testing.T) {
	// sign flips of the same axis belong together
	lines := []r3.Vec{
		{X: 1}, {X: -1}, {X: 0.99, Y: 0.05},
		{Z: 1}, {Z: -1}, {Y: 0.05, Z: -0.99},
	}

	res, err := Axial(context.Background(), lines, nil, 2, nil, Options{Restarts: 5}, rand.New(rand.NewPCG(3, 4)))
	require.NoError(t, err)
	require.Equal(t, 2, res.K())

	assert.Equal(t, res.Labels[0], res.Labels[1])
	assert.Equal(t, res.Labels[0], res.Labels[2])
	assert.Equal(t, res.Labels[3], res.Labels[4])
	assert.NotEqual(t, res.Labels[0], res.Labels[3])

	cx := res.Centers[res.Labels[0]]
	assert.InDelta(t, 1, math.Abs(cx.X), 1e-2)
	assert.Less(t, res.Cost, 0.01)
}

func TestAxialMean(t *testing.T) {
	mean := AxialMean([]r3.Vec{{Y: 1}, {Y: -1}, {Y: 2}}, []float64{1, 1, 1})
	assert.InDelta(t, 1, math.Abs(mean.Y), 1e-9)

	assert.InDelta(t, 0, AxialDist(r3.Vec{X: 1}, r3.Vec{X: -2}), 1e-12)
	assert.InDelta(t, 1, AxialDist(r3.Vec{X: 1}, r3.Vec{Y: 1}), 1e-12)
}
