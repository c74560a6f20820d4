package linalg

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestEigDescending(t *testing.T) {
	a := Sym3{{1, 0, 0}, {0, 3, 0}, {0, 0, 2}}
	e, ok := Eig(a)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{3, 2, 1}, e.Values[:], 1e-12)
	assert.InDelta(t, 1, math.Abs(e.Vectors[0].Y), 1e-12)
	assert.InDelta(t, 1, math.Abs(e.Vectors[2].X), 1e-12)

	assert.InDelta(t, 0, Compose(e).Sub(a).NormF(), 1e-12)
}

func TestEigRejectsNonFinite(t *testing.T) {
	_, ok := Eig(Sym3{{math.NaN(), 0, 0}, {0, 1, 0}, {0, 0, 1}})
	assert.False(t, ok)
	_, ok = MapEigenvalues(Sym3{{math.Inf(1), 0, 0}}, math.Log)
	assert.False(t, ok)
}

func TestOuterAndArithmetic(t *testing.T) {
	o := Outer(r3.Vec{X: 1, Y: 2})
	assert.Equal(t, []float64{1, 2, 0, 2, 4, 0, 0, 0, 0}, o.Flatten())
	assert.Equal(t, o, Sym3From(o.Flatten()))

	var acc Sym3
	acc.AddScaled(2, o)
	assert.Equal(t, o.Scale(2), acc)
	assert.InDelta(t, 5, o.NormF(), 1e-12)
}

func TestMapEigenvaluesLogExp(t *testing.T) {
	a := Sym3{{2, 0.5, 0}, {0.5, 1, 0}, {0, 0, 3}}
	l, ok := MapEigenvalues(a, math.Log)
	require.True(t, ok)
	back, ok := MapEigenvalues(l, math.Exp)
	require.True(t, ok)
	assert.InDelta(t, 0, back.Sub(a).NormF(), 1e-9)
}
