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

func emtDefaults(t *testing.T, species ...string) params.Params {
	t.Helper()
	p, err := (&potential.EMT{}).Defaults(species)
	require.NoError(t, err)
	return p
}

// copperLattice is the fcc lattice constant at which EMT copper has
// its reference density: the nearest neighbour distance is β·s0.
func copperLattice(p params.Params) float64 {
	return math.Sqrt2 * 1.809 * p["Cu.s0"]
}

func TestEMTDefaults(t *testing.T) {
	p := emtDefaults(t, "Cu", "Au", "Cu")
	assert.Len(t, p, 14)
	assert.InDelta(t, -3.51, p["Cu.E0"], 0)
	assert.InDelta(t, 2.67*0.5291772105638411, p["Cu.s0"], 1e-15)

	_, err := (&potential.EMT{}).Defaults([]string{"Xx"})
	require.ErrorIs(t, err, potential.ErrUnknownSpecies)
}

func TestEMTEquilibrium(t *testing.T) {
	emt := &potential.EMT{}
	p := emtDefaults(t, "Cu")
	a0 := copperLattice(p)
	assert.InDelta(t, 3.61, a0, 0.01)

	e0 := energyOf(t, emt, fcc(a0, "Cu", false), p)
	assert.InDelta(t, -0.019975239829985725, e0, 1e-9)

	for _, f := range []float64{0.97, 1.03} {
		e := energyOf(t, emt, fcc(f*a0, "Cu", false), p)
		assert.Greaterf(t, e, e0, "scale %g", f)
	}
}

func TestEMTKnownValues(t *testing.T) {
	cu3au := func(a float64) *atoms.Config {
		c := fcc(a, "Cu", false)
		c.Species[0] = "Au"
		return c
	}

	tests := []struct {
		name string
		emt  *potential.EMT
		cfg  *atoms.Config
		want float64
	}{
		{"Cu", &potential.EMT{}, fcc(3.61, "Cu", false), 4 * -0.005681511358552882},
		{"Cu3Au", &potential.EMT{}, cu3au(3.75), -0.0363859498947825},
		{"CuASAP", &potential.EMT{ASAPCutoff: true}, fcc(3.61, "Cu", false), 4 * -0.0006017700267535453},
		{"Cu3AuASAP", &potential.EMT{ASAPCutoff: true}, cu3au(3.75), -0.035627466138652863},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := emtDefaults(t, tt.cfg.Species...)
			e := energyOf(t, tt.emt, tt.cfg, p)
			assert.InDelta(t, tt.want, e, 1e-9)
		})
	}
}

func TestEMTCutoffIndependentOfSpecies(t *testing.T) {
	emt := &potential.EMT{}
	p := emtDefaults(t, "Cu", "H")

	cu, err := emt.Cutoff(p, []string{"Cu"})
	require.NoError(t, err)
	mixed, err := emt.Cutoff(p, []string{"Cu", "H"})
	require.NoError(t, err)
	assert.Equal(t, cu, mixed)

	// Ag has the largest s0 of the table.
	assert.InDelta(t, 1.809*3.01*0.5291772105638411*0.5*(math.Sqrt(3)+2)+0.5, cu, 1e-12)

	asap := &potential.EMT{ASAPCutoff: true}
	small, err := asap.Cutoff(p, []string{"Cu"})
	require.NoError(t, err)
	assert.Less(t, small, cu)
}

func TestEMTIsolatedAtom(t *testing.T) {
	emt := &potential.EMT{}
	p := emtDefaults(t, "Cu")

	c := &atoms.Config{Positions: [][3]float64{{0, 0, 0}}, Species: []string{"Cu"}}
	e := energyOf(t, emt, c, p)
	assert.InDelta(t, 3.51, e, 1e-12)

	// Far apart atoms do not interact.
	c = &atoms.Config{Positions: [][3]float64{{0, 0, 0}, {20, 0, 0}}, Species: []string{"Cu", "Cu"}}
	e = energyOf(t, emt, c, p)
	assert.InDelta(t, 2*3.51, e, 1e-12)
}

func TestEMTForceConsistency(t *testing.T) {
	emt := &potential.EMT{}
	c := fcc(3.6, "Cu", true)
	c.Species[1] = "Au"
	p := emtDefaults(t, c.Species...)

	f, err := potential.Forces(emt, c, p)
	require.NoError(t, err)
	require.Greater(t, maxAbs(f), 1e-2)

	requireForcesInDelta(t, numericForces(t, emt, c, p), f, 1e-6)
}

func TestEMTStressConsistency(t *testing.T) {
	emt := &potential.EMT{}
	c := fcc(3.6, "Cu", true)
	c.Species[2] = "Ag"
	p := emtDefaults(t, c.Species...)

	s, err := potential.Stress(emt, c, p)
	require.NoError(t, err)

	want := numericStress(t, emt, c, p)
	for v := range want {
		assert.InDeltaf(t, want[v], s[v], 1e-6, "voigt %d", v)
	}
}

func TestEMTRequiresSpecies(t *testing.T) {
	emt := &potential.EMT{}
	c := fcc(3.6, "", false)

	_, err := potential.Energy(emt, c, emtDefaults(t, "Cu"))
	require.ErrorIs(t, err, atoms.ErrShapeMismatch)
}

func TestEMTMissingParameter(t *testing.T) {
	emt := &potential.EMT{}
	p := emtDefaults(t, "Cu")
	delete(p, "Cu.kappa")

	_, err := potential.Energy(emt, fcc(3.6, "Cu", false), p)
	require.ErrorIs(t, err, params.ErrMissing)
}
