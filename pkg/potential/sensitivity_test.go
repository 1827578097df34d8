package potential_test

import (
	"testing"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

func checkSensitivities(t *testing.T, m potential.Model, c *atoms.Config, p params.Params, names []string, tol float64) {
	t.Helper()

	s, err := potential.Sensitivities(m, c, p, names, true)
	require.NoError(t, err)
	require.Len(t, s.DEnergy, len(names))
	require.Len(t, s.DForces, len(names))

	ref, err := potential.Evaluate(m, c, p, potential.PropEnergy|potential.PropForces)
	require.NoError(t, err)
	assert.InDelta(t, ref.Energy, s.Energy, 1e-12)
	requireForcesInDelta(t, ref.Forces, s.Forces, 1e-12)

	for k, name := range names {
		h := 1e-6 * p[name]
		if h < 0 {
			h = -h
		}
		settings := &fd.Settings{Formula: fd.Central, Step: h}

		de := fd.Derivative(func(v float64) float64 {
			return energyOf(t, m, c, p.Merge(params.Params{name: v}))
		}, p[name], settings)
		assert.InDeltaf(t, de, s.DEnergy[k], tol, "dE/d%s", name)

		for i := 0; i < c.Len(); i++ {
			for a := 0; a < 3; a++ {
				df := fd.Derivative(func(v float64) float64 {
					f, err := potential.Forces(m, c, p.Merge(params.Params{name: v}))
					require.NoError(t, err)
					return f[i][a]
				}, p[name], settings)
				assert.InDeltaf(t, df, s.DForces[k][i][a], tol, "dF[%d][%d]/d%s", i, a, name)
			}
		}
	}

	// Energy only mode agrees with the mixed mode.
	e, err := potential.Sensitivities(m, c, p, names, false)
	require.NoError(t, err)
	for k := range names {
		assert.InDelta(t, s.DEnergy[k], e.DEnergy[k], 1e-10)
	}
	assert.Nil(t, e.DForces)
}

func TestLennardJonesSensitivities(t *testing.T) {
	lj := &potential.LennardJones{Shift: true}
	checkSensitivities(t, lj, fcc(5.3, "", true), argon, []string{"epsilon", "sigma"}, 1e-6)
}

func TestEMTSensitivities(t *testing.T) {
	emt := &potential.EMT{}
	c := fcc(3.6, "Cu", true)
	p := emtDefaults(t, "Cu")
	checkSensitivities(t, emt, c, p, []string{"Cu.E0", "Cu.V0", "Cu.eta2", "Cu.lambda"}, 1e-5)
}

func TestSensitivitiesDimerClosedForm(t *testing.T) {
	lj := &potential.LennardJones{}
	r := 3.9
	s, err := potential.Sensitivities(lj, dimer(r), argon, []string{"epsilon"}, true)
	require.NoError(t, err)

	// E is linear in ε.
	assert.InDelta(t, s.Energy/argon["epsilon"], s.DEnergy[0], 1e-12)
	assert.InDelta(t, s.Forces[1][0]/argon["epsilon"], s.DForces[0][1][0], 1e-10)
}

func TestSensitivitiesUnknownName(t *testing.T) {
	_, err := potential.Sensitivities(&potential.LennardJones{}, dimer(4), argon, []string{"rc"}, false)
	require.ErrorIs(t, err, params.ErrMissing)
}
