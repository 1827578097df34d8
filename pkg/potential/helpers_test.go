package potential_test

import (
	"math"
	"testing"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

// fcc returns the 4 atom conventional fcc cell with lattice constant a,
// every atom displaced by a small fixed amount so that forces and shear
// stresses do not vanish by symmetry.
func fcc(a float64, species string, perturb bool) *atoms.Config {
	c := &atoms.Config{
		Positions: [][3]float64{
			{0, 0, 0},
			{0, a / 2, a / 2},
			{a / 2, 0, a / 2},
			{a / 2, a / 2, 0},
		},
		Cell: [3][3]float64{{a, 0, 0}, {0, a, 0}, {0, 0, a}},
		PBC:  [3]bool{true, true, true},
	}
	if species != "" {
		c.Species = []string{species, species, species, species}
	}
	if perturb {
		d := [][3]float64{
			{0.05, -0.03, 0.02},
			{-0.04, 0.06, 0.01},
			{0.02, 0.03, -0.07},
			{-0.01, -0.05, 0.04},
		}
		for i := range c.Positions {
			for k := 0; k < 3; k++ {
				c.Positions[i][k] += d[i][k]
			}
		}
		// A slightly sheared cell.
		c.Cell[1][0] = 0.08
		c.Cell[2][1] = -0.05
	}
	return c
}

var central = &fd.Settings{Formula: fd.Central, Step: 1e-5}

func energyOf(t *testing.T, m potential.Model, c *atoms.Config, p params.Params) float64 {
	t.Helper()
	e, err := potential.Energy(m, c, p)
	require.NoError(t, err)
	return e
}

// numericForces differentiates the energy by central differences.
func numericForces(t *testing.T, m potential.Model, c *atoms.Config, p params.Params) [][3]float64 {
	t.Helper()

	x := make([]float64, 0, 3*c.Len())
	for _, r := range c.Positions {
		x = append(x, r[:]...)
	}

	grad := fd.Gradient(nil, func(x []float64) float64 {
		moved := c.Clone()
		for i := range moved.Positions {
			copy(moved.Positions[i][:], x[3*i:3*i+3])
		}
		return energyOf(t, m, moved, p)
	}, x, central)

	out := make([][3]float64, c.Len())
	for i := range out {
		for k := 0; k < 3; k++ {
			out[i][k] = -grad[3*i+k]
		}
	}
	return out
}

// numericStress differentiates the energy with respect to each Voigt strain.
func numericStress(t *testing.T, m potential.Model, c *atoms.Config, p params.Params) [6]float64 {
	t.Helper()

	comps := [6][2]int{{0, 0}, {1, 1}, {2, 2}, {1, 2}, {0, 2}, {0, 1}}
	vol := c.Volume()

	var out [6]float64
	for v, ab := range comps {
		a, b := ab[0], ab[1]
		d := fd.Derivative(func(h float64) float64 {
			var eps [3][3]float64
			if a == b {
				eps[a][a] = h
			} else {
				eps[a][b] = h / 2
				eps[b][a] = h / 2
			}
			return energyOf(t, m, c.Strain(eps), p)
		}, 0, central)
		out[v] = d / vol
	}
	return out
}

func requireForcesInDelta(t *testing.T, want, got [][3]float64, delta float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		for k := 0; k < 3; k++ {
			require.InDeltaf(t, want[i][k], got[i][k], delta, "atom %d component %d", i, k)
		}
	}
}

func maxAbs(f [][3]float64) float64 {
	var m float64
	for _, v := range f {
		for k := 0; k < 3; k++ {
			m = math.Max(m, math.Abs(v[k]))
		}
	}
	return m
}
