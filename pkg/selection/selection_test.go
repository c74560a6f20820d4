package selection

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mritract/internal/models"
	"mritract/pkg/tracking"
)

func line(from, to models.Vect3, n int) *tracking.Curve {
	c := tracking.NewCurve()
	for i := 0; i <= n; i++ {
		f := float64(i)
		c.Points = append(c.Points, models.Vect3{
			X: from.X + (to.X-from.X)*f/float64(n),
			Y: from.Y + (to.Y-from.Y)*f/float64(n),
			Z: from.Z + (to.Z-from.Z)*f/float64(n),
		})
	}
	c.SetAll("id", []float64{0})
	return c
}

// fixture is a 10^3 grid crossed by horizontal lines at different heights
func fixture() (*tracking.Curves, *models.Mask) {
	mask := models.NewMask(models.GridSampling(10, 10, 10))
	for j := 0; j < 10; j++ {
		for k := 0; k < 10; k++ {
			mask.Set(0, j, k, 1)
			mask.Set(9, j, k, 2)
		}
	}

	curves := tracking.NewCurves()
	for y := 0; y < 10; y++ {
		c := line(models.Vect3{X: 0, Y: float64(y), Z: 5}, models.Vect3{X: 9, Y: float64(y), Z: 5}, 9)
		c.SetAll("id", []float64{float64(y)})
		curves.Add(c)
	}
	// short curves touching only one side
	for y := 0; y < 5; y++ {
		c := line(models.Vect3{X: 0, Y: float64(y), Z: 2}, models.Vect3{X: 4, Y: float64(y), Z: 2}, 4)
		c.SetAll("id", []float64{float64(10 + y)})
		curves.Add(c)
	}
	return curves, mask
}

func ids(cs *tracking.Curves) []float64 {
	out := make([]float64, cs.Len())
	for i, c := range cs.Curves {
		out[i] = c.Attr("id", 0)[0]
	}
	return out
}

func TestFiltersIdempotent(t *testing.T) {
	curves, mask := fixture()
	exclude := models.NewMask(mask.Sampling)
	exclude.Set(5, 3, 5, 1)
	left := models.NewMask(mask.Sampling)
	for idx := range left.Labels {
		if i, _, _ := left.Sampling.Ijk(idx); i <= 4 {
			left.Labels[idx] = 1
		}
	}

	filters := map[string]Filter{
		"include":        Include(mask, false),
		"include solids": IncludeSolids(Solids{Sphere{Center: models.Vect3{X: 4, Y: 7, Z: 5}, Radius: 1.5}}),
		"endpoints":      Endpoints(mask, false, true),
		"end solids":     EndpointSolids(Solids{Box{Min: models.Vect3{X: 3.5, Y: -1, Z: 0}, Max: models.Vect3{X: 4.5, Y: 2, Z: 3}}}, false),
		"exclude solids": ExcludeSolids(Solids{Box{Min: models.Vect3{X: 2, Y: 1.5, Z: 4}, Max: models.Vect3{X: 3, Y: 4.5, Z: 6}}}),
		"exclude mask":   ExcludeMask(exclude),
		"contain":        Contain(left, 0.8),
		"connect":        ConnectRegions(mask),
	}
	for name, f := range filters {
		t.Run(name, func(t *testing.T) {
			once := f(curves.Copy())
			twice := f(once.Copy())
			assert.Equal(t, ids(once), ids(twice))
			assert.Less(t, once.Len(), curves.Len(), "filter should remove something")
		})
	}
}

func TestContainThresholdInclusive(t *testing.T) {
	curves, mask := fixture()
	left := models.NewMask(mask.Sampling)
	for idx := range left.Labels {
		if i, _, _ := left.Sampling.Ijk(idx); i <= 4 {
			left.Labels[idx] = 1
		}
	}

	// the long curves spend exactly half of their voxels on the left
	out := Contain(left, 0.5)(curves.Copy())
	assert.Equal(t, curves.Len(), out.Len())

	out = Contain(left, 0.6)(curves.Copy())
	assert.Equal(t, []float64{10, 11, 12, 13, 14}, ids(out))
}

func TestInclude(t *testing.T) {
	curves, mask := fixture()
	out := Include(mask, false)(curves)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, ids(out))

	// a label-free mask keeps everything
	out = Include(models.NewMask(mask.Sampling), false)(curves)
	assert.Equal(t, curves.Len(), out.Len())
}

func TestSolidsSegments(t *testing.T) {
	// the segment passes through the sphere between two vertices
	c := tracking.NewCurve(models.Vect3{X: -5}, models.Vect3{X: 5})
	cs := tracking.NewCurves()
	cs.Add(c)

	sphere := Solids{Sphere{Radius: 1}}
	assert.Equal(t, 1, IncludeSolids(sphere)(cs).Len())
	assert.Equal(t, 0, ExcludeSolids(sphere)(cs).Len())

	box := Solids{Box{Min: models.Vect3{X: -1, Y: -1, Z: -1}, Max: models.Vect3{X: 1, Y: 1, Z: 1}}}
	assert.Equal(t, 1, IncludeSolids(box)(cs).Len())

	plane := Solids{Plane{Normal: models.Vect3{X: 1}, D: -2}}
	assert.Equal(t, 1, IncludeSolids(plane)(cs).Len())
}

func TestPlaneDegeneracy(t *testing.T) {
	pl := Plane{Normal: models.Vect3{Z: 1}}
	_, err := pl.Intersects(models.Vect3{X: -1, Z: 1}, models.Vect3{X: 1, Z: 1})
	require.ErrorIs(t, err, ErrGeometricDegeneracy)

	// a parallel segment above the half space is simply not selected
	c := tracking.NewCurve(models.Vect3{X: -1, Z: 1}, models.Vect3{X: 1, Z: 1})
	cs := tracking.NewCurves()
	cs.Add(c)
	assert.Zero(t, IncludeSolids(Solids{pl})(cs).Len())
}

func TestEndpointsConnectOrients(t *testing.T) {
	mask := models.NewMask(models.GridSampling(10, 1, 1))
	mask.Set(0, 0, 0, 1)
	mask.Set(9, 0, 0, 2)

	c := line(models.Vect3{X: 9}, models.Vect3{}, 9)
	cs := tracking.NewCurves()
	cs.Add(c)

	out := Endpoints(mask, false, true)(cs)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, models.Vect3{}, out.Curves[0].Head())
}

func TestConnectRegionsTrims(t *testing.T) {
	mask := models.NewMask(models.GridSampling(12, 1, 1))
	mask.Set(2, 0, 0, 1)
	mask.Set(8, 0, 0, 3)

	c := line(models.Vect3{}, models.Vect3{X: 11}, 11)
	cs := tracking.NewCurves()
	cs.Add(c)

	out := ConnectRegions(mask)(cs)
	require.Equal(t, 1, out.Len())
	trimmed := out.Curves[0]
	assert.Equal(t, 7, trimmed.Len())
	assert.Equal(t, models.Vect3{X: 2}, trimmed.Head())
	assert.Equal(t, models.Vect3{X: 8}, trimmed.Tail())
	assert.Len(t, trimmed.Attrs["id"], 7)

	// same label at both ends
	mask.Set(8, 0, 0, 1)
	assert.Zero(t, ConnectRegions(mask)(cs).Len())
}

func TestReduce(t *testing.T) {
	cs := tracking.NewCurves()
	for i := 0; i < 20; i++ {
		c := tracking.NewCurve(models.Vect3{X: float64(i)}, models.Vect3{X: float64(i), Y: 1})
		cs.Add(c)
	}

	out := (&Pipeline{MaxTracks: 5, Seed: 3}).Apply(cs)
	require.Equal(t, 5, out.Len())
	for _, c := range out.Curves {
		assert.Contains(t, cs.Curves, c)
	}

	// fewer curves than the cap pass through
	out = Reduce(50, rand.New(rand.NewPCG(1, 2)))(cs)
	assert.Equal(t, 20, out.Len())
}

func TestPipelineOrder(t *testing.T) {
	curves, mask := fixture()
	p := &Pipeline{
		Include:       mask,
		ExcludeSolids: Solids{Sphere{Center: models.Vect3{X: 5, Y: 0, Z: 5}, Radius: 0.5}},
		MaxTracks:     4,
	}
	assert.Len(t, p.Filters(), 3)

	out := p.Apply(curves)
	require.Equal(t, 4, out.Len())
	for _, id := range ids(out) {
		assert.NotEqual(t, 0.0, id)
		assert.Less(t, id, 10.0)
	}
}

func TestSelectors(t *testing.T) {
	mask := models.NewMask(models.GridSampling(3, 3, 3))
	mask.Set(1, 1, 1, 4)
	sel := Or(NewMaskSelector(mask), Solids{Sphere{Center: models.Vect3{X: 10}, Radius: 1}}, nil)

	assert.Equal(t, 4, sel.Label(models.Vect3{X: 1.2, Y: 0.9, Z: 1}))
	assert.Equal(t, 1, sel.Label(models.Vect3{X: 10.5}))
	assert.False(t, sel.Contains(models.Vect3{X: 5}))
	assert.Nil(t, Or(nil, NewMaskSelector(nil), Solids{}))

	rng := rand.New(rand.NewPCG(1, 1))
	solids := Solids{Sphere{Center: models.Vect3{X: 3}, Radius: 2}, Box{Max: models.Vect3{X: 1, Y: 1, Z: 1}}, Plane{Normal: models.Vect3{X: 1}}}
	pts := solids.Sample(50, rng)
	require.Len(t, pts, 100)
	for _, p := range pts[:50] {
		assert.True(t, solids[0].Contains(p))
	}
	for _, p := range pts[50:] {
		assert.True(t, solids[1].Contains(p))
	}
}
