package autodiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/num/hyperdual"
)

func TestNormDerivatives(t *testing.T) {
	// f(x, y) = sqrt(x² + y² + 4) at (1, 2).
	v := Vec{Seed(1, E1), Seed(2, E2), Const(2)}
	n := Norm(v)

	r := 3.0
	assert.InDelta(t, r, n.Real, 1e-14)
	assert.InDelta(t, 1/r, n.E1mag, 1e-14)
	assert.InDelta(t, 2/r, n.E2mag, 1e-14)
	// ∂²/∂x∂y = -x·y/r³
	assert.InDelta(t, -2/math.Pow(r, 3), n.E1E2mag, 1e-14)
}

func TestDeform(t *testing.T) {
	var eps [3][3]Num
	eps[0][1] = Seed(0, E1)
	eps[1][0] = eps[0][1]

	v := Deform(&eps, ConstVec([3]float64{1, 2, 3}))
	assert.Equal(t, [3]float64{1, 2, 3}, Real(v))
	assert.InDelta(t, 2, v[0].E1mag, 0)
	assert.InDelta(t, 1, v[1].E1mag, 0)
	assert.InDelta(t, 0, v[2].E1mag, 0)
}

func TestAddSubScale(t *testing.T) {
	a := ConstVec([3]float64{1, 2, 3})
	b := ConstVec([3]float64{3, 2, 1})
	assert.Equal(t, [3]float64{4, 4, 4}, Real(Add(a, b)))
	assert.Equal(t, [3]float64{-2, 0, 2}, Real(Sub(a, b)))
	assert.Equal(t, [3]float64{2, 4, 6}, Real(Scale(2, a)))
	assert.Equal(t, hyperdual.Number{Real: 10}, Dot(a, b))
}
