package potential_test

import (
	"math"
	"testing"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var argon = params.Params{"epsilon": 0.0103, "sigma": 3.4}

func dimer(r float64) *atoms.Config {
	return &atoms.Config{Positions: [][3]float64{{0, 0, 0}, {r, 0, 0}}}
}

func TestLennardJonesKnownValue(t *testing.T) {
	lj := &potential.LennardJones{}

	e, err := potential.Energy(lj, dimer(4.0), argon)
	require.NoError(t, err)

	sr := 3.4 / 4.0
	want := 4 * 0.0103 * (math.Pow(sr, 12) - math.Pow(sr, 6))
	assert.InDelta(t, want, e, 1e-15)
	assert.Less(t, e, 0.0)
	assert.Greater(t, e, -0.0103)
}

func TestLennardJonesDimerForce(t *testing.T) {
	lj := &potential.LennardJones{}

	// Minimum at 2^(1/6)σ.
	rmin := math.Pow(2, 1.0/6) * 3.4
	f, err := potential.Forces(lj, dimer(rmin), argon)
	require.NoError(t, err)
	assert.InDelta(t, 0, maxAbs(f), 1e-14)

	e, err := potential.Energy(lj, dimer(rmin), argon)
	require.NoError(t, err)
	assert.InDelta(t, -0.0103, e, 1e-14)

	// Repulsive below the minimum: atom 1 is pushed along +x.
	f, err = potential.Forces(lj, dimer(3.5), argon)
	require.NoError(t, err)
	assert.Greater(t, f[1][0], 0.0)
	assert.InDelta(t, -f[1][0], f[0][0], 1e-15)
}

func TestLennardJonesCutoff(t *testing.T) {
	lj := &potential.LennardJones{}

	e, err := potential.Energy(lj, dimer(10.3), argon)
	require.NoError(t, err)
	assert.Equal(t, 0.0, e)

	withRc := argon.Merge(params.Params{"rc": 12})
	e, err = potential.Energy(lj, dimer(10.3), withRc)
	require.NoError(t, err)
	assert.Less(t, e, 0.0)

	shifted := &potential.LennardJones{Shift: true}
	e, err = potential.Energy(shifted, dimer(10.2-1e-9), argon)
	require.NoError(t, err)
	assert.InDelta(t, 0, e, 1e-12)
}

func TestLennardJonesForceConsistency(t *testing.T) {
	lj := &potential.LennardJones{Shift: true}
	c := fcc(5.3, "", true)

	f, err := potential.Forces(lj, c, argon)
	require.NoError(t, err)
	require.Greater(t, maxAbs(f), 1e-3)

	requireForcesInDelta(t, numericForces(t, lj, c, argon), f, 1e-7)
}

func TestLennardJonesStressConsistency(t *testing.T) {
	lj := &potential.LennardJones{Shift: true}
	c := fcc(5.3, "", true)

	s, err := potential.Stress(lj, c, argon)
	require.NoError(t, err)

	want := numericStress(t, lj, c, argon)
	for v := range want {
		assert.InDeltaf(t, want[v], s[v], 1e-8, "voigt %d", v)
	}
	assert.NotZero(t, s[5])
}

func TestLennardJonesPerfectLattice(t *testing.T) {
	lj := &potential.LennardJones{}
	c := fcc(5.3, "", false)

	r, err := potential.Evaluate(lj, c, argon, potential.PropAll)
	require.NoError(t, err)
	assert.InDelta(t, 0, maxAbs(r.Forces), 1e-12)

	// Cubic symmetry: no shear, equal normal components.
	assert.InDelta(t, r.Stress[0], r.Stress[1], 1e-12)
	assert.InDelta(t, r.Stress[0], r.Stress[2], 1e-12)
	for v := 3; v < 6; v++ {
		assert.InDelta(t, 0, r.Stress[v], 1e-12)
	}

	// Every quantity is computed from the same energy expression.
	e, err := potential.Energy(lj, c, argon)
	require.NoError(t, err)
	assert.InDelta(t, e, r.Energy, 1e-12)
}
