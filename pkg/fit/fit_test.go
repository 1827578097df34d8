package fit

import (
	"bytes"
	"log"
	"math"
	"testing"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/diff/fd"
)

var argon = params.Params{"epsilon": 0.0103, "sigma": 3.4}

// clusters returns small non periodic configurations whose pairs all lie
// well inside the cutoff, so the loss is smooth in σ.
func clusters() []*atoms.Config {
	var out []*atoms.Config
	for _, r := range []float64{3.5, 3.8, 4.2, 5.0} {
		out = append(out, &atoms.Config{Positions: [][3]float64{{0, 0, 0}, {r, 0, 0}}})
	}
	out = append(out, &atoms.Config{Positions: [][3]float64{
		{0, 0, 0}, {3.9, 0.1, 0}, {1.8, 3.3, 0.2},
	}})
	out = append(out, &atoms.Config{Positions: [][3]float64{
		{0, 0, 0}, {3.7, 0, 0.3}, {1.9, 3.4, -0.1}, {1.7, 1.2, 3.2},
	}})
	return out
}

// synthetic labels the clusters with the true argon parameters.
func synthetic(t *testing.T, m potential.Model, p params.Params) []Sample {
	t.Helper()
	var out []Sample
	for _, c := range clusters() {
		r, err := potential.Evaluate(m, c, p, potential.PropEnergy|potential.PropForces)
		require.NoError(t, err)
		out = append(out, Sample{Config: c, Energy: r.Energy, Forces: r.Forces})
	}
	return out
}

func TestFitRecoversLennardJones(t *testing.T) {
	lj := &potential.LennardJones{}
	samples := synthetic(t, lj, argon)

	var buf bytes.Buffer
	tr := &Trainer{
		Model:     lj,
		Objective: Objective{Loss: MSE, EnergyWeight: 1, ForceWeight: 1, PerAtom: true},
		Method:    LBFGS,
		MaxIter:   500,
		Target:    1e-20,
		Workers:   2,
		Logger:    log.New(&buf, "", 0),
	}

	res, err := tr.Fit(samples, params.Params{"epsilon": 0.008, "sigma": 3.2})
	require.NoError(t, err)

	assert.InEpsilon(t, 0.0103, res.Params["epsilon"], 1e-3)
	assert.InEpsilon(t, 3.4, res.Params["sigma"], 1e-4)
	assert.Less(t, res.Loss, res.Initial)
	assert.Greater(t, res.Iterations, 0)
	assert.Contains(t, buf.String(), "Initial loss")
}

func TestFitFixedParameters(t *testing.T) {
	lj := &potential.LennardJones{}
	samples := synthetic(t, lj, argon)

	tr := &Trainer{
		Model:     lj,
		Free:      []string{"epsilon"},
		Objective: DefaultObjective(),
		MaxIter:   200,
	}

	res, err := tr.Fit(samples, params.Params{"epsilon": 0.02, "sigma": 3.4})
	require.NoError(t, err)
	assert.Equal(t, 3.4, res.Params["sigma"])
	assert.InEpsilon(t, 0.0103, res.Params["epsilon"], 1e-4)
}

func TestFitNelderMeadMAE(t *testing.T) {
	lj := &potential.LennardJones{}
	samples := synthetic(t, lj, argon)

	tr := &Trainer{
		Model:     lj,
		Objective: Objective{Loss: MAE, EnergyWeight: 1},
		Method:    NelderMead,
		MaxIter:   400,
	}

	res, err := tr.Fit(samples, params.Params{"epsilon": 0.009, "sigma": 3.3})
	require.NoError(t, err)
	assert.Less(t, res.Loss, res.Initial)
	assert.InEpsilon(t, 3.4, res.Params["sigma"], 1e-2)
}

func TestFitNonConvergenceIsNotAnError(t *testing.T) {
	lj := &potential.LennardJones{}
	samples := synthetic(t, lj, argon)

	tr := &Trainer{
		Model:     lj,
		Objective: DefaultObjective(),
		Method:    GD,
		MaxIter:   1,
		Target:    1e-30,
	}

	res, err := tr.Fit(samples, params.Params{"epsilon": 0.005, "sigma": 3.0})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.NotEmpty(t, res.Status)
}

func TestFitAlreadyConverged(t *testing.T) {
	lj := &potential.LennardJones{}
	samples := synthetic(t, lj, argon)

	tr := &Trainer{Model: lj, Objective: DefaultObjective(), Target: 1e-12}
	res, err := tr.Fit(samples, argon)
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, argon, res.Params)
}

func TestFitErrors(t *testing.T) {
	lj := &potential.LennardJones{}
	tr := &Trainer{Model: lj, Objective: DefaultObjective()}

	_, err := tr.Fit(nil, argon)
	require.ErrorIs(t, err, ErrNoSamples)

	bad := []Sample{{Config: clusters()[0], Energy: 0, Forces: make([][3]float64, 3)}}
	_, err = tr.Fit(bad, argon)
	require.ErrorIs(t, err, atoms.ErrShapeMismatch)

	tr.Method = "simplex"
	_, err = tr.Fit(synthetic(t, lj, argon), argon)
	require.Error(t, err)

	tr.Method = LBFGS
	tr.Free = []string{"delta"}
	_, err = tr.Fit(synthetic(t, lj, argon), argon)
	require.ErrorIs(t, err, params.ErrMissing)

	tr.Free = nil
	tr.Objective = Objective{Loss: MSE}
	_, err = tr.Fit(synthetic(t, lj, argon), argon)
	require.Error(t, err)
}

func TestObjectiveGradient(t *testing.T) {
	lj := &potential.LennardJones{}
	samples := synthetic(t, lj, argon)

	cfgs := make([]*atoms.Config, len(samples))
	for i := range samples {
		cfgs[i] = samples[i].Config
	}

	for _, obj := range []Objective{
		{Loss: MSE, EnergyWeight: 1, ForceWeight: 0.5, PerAtom: true},
		{Loss: MAE, EnergyWeight: 1, ForceWeight: 2},
	} {
		pb := &problem{
			model:   lj,
			batch:   potential.NewBatch(cfgs),
			samples: samples,
			base:    argon,
			free:    []string{"epsilon", "sigma"},
			obj:     obj,
		}

		x := []float64{0.011, 3.3}
		_, grad, err := pb.eval(x)
		require.NoError(t, err)

		want := fd.Gradient(nil, func(x []float64) float64 {
			f, _, err := pb.compute(x)
			require.NoError(t, err)
			return f
		}, x, &fd.Settings{Formula: fd.Central, Step: 1e-7})

		for k := range want {
			assert.InDeltaf(t, want[k], grad[k], 1e-6*math.Max(1, math.Abs(want[k])), "%s component %d", obj.Loss, k)
		}
	}
}
