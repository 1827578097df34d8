package refdb

import (
	"path/filepath"
	"testing"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "ref.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fccCalc(a, energy float64) *Calculation {
	return &Calculation{
		Structure: "fcc",
		Energy:    energy,
		Species:   []string{"Cu", "Cu", "Cu", "Cu"},
		Cell:      [3][3]float64{{a, 0, 0}, {0, a, 0}, {0, 0, a}},
		PBC:       [3]bool{true, true, true},
		Positions: [][3]float64{{0, 0, 0}, {0, a / 2, a / 2}, {a / 2, 0, a / 2}, {a / 2, a / 2, 0}},
		Forces:    [][3]float64{{0.1, -0.2, 0.3}, {0, 0, 0}, {1e-17, 2, -3}, {0, 0, 0.125}},
	}
}

func TestInsertAndGet(t *testing.T) {
	s := tempDB(t)

	in := fccCalc(3.6, -14.9)
	id, err := s.Insert(in)
	require.NoError(t, err)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "fcc", got.Structure)
	assert.Equal(t, 0, got.Index)
	assert.InDelta(t, 3.6*3.6*3.6, got.Volume, 1e-9)
	assert.Equal(t, in.Energy, got.Energy)
	assert.Equal(t, in.Species, got.Species)
	assert.Equal(t, in.Cell, got.Cell)
	assert.Equal(t, in.PBC, got.PBC)
	assert.Equal(t, in.Positions, got.Positions)
	assert.Equal(t, in.Forces, got.Forces)
	assert.False(t, got.CreatedAt.IsZero())

	cfg := got.Config()
	assert.Equal(t, 4, cfg.Len())
	cfg.Positions[0][0] = 99
	assert.Equal(t, 0.0, got.Positions[0][0])

	_, err = s.Get(id + 100)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSelect(t *testing.T) {
	s := tempDB(t)

	for _, a := range []float64{3.5, 3.6, 3.7} {
		_, err := s.Insert(fccCalc(a, -a))
		require.NoError(t, err)
	}

	cluster := &Calculation{
		Structure: "dimer",
		Energy:    -0.5,
		Species:   []string{"Cu", "Cu"},
		Positions: [][3]float64{{0, 0, 0}, {0, 0, 2.2}},
	}
	_, err := s.Insert(cluster)
	require.NoError(t, err)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	st, err := s.Structures()
	require.NoError(t, err)
	assert.Equal(t, []string{"dimer", "fcc"}, st)

	all, err := s.Select(Filter{Structure: "fcc"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{all[0].Index, all[1].Index, all[2].Index})

	some, err := s.Select(Filter{Structure: "fcc", MinVolume: 3.55 * 3.55 * 3.55, Limit: 1})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, -3.6, some[0].Energy)

	dimers, err := s.Select(Filter{Structure: "dimer"})
	require.NoError(t, err)
	require.Len(t, dimers, 1)
	assert.Nil(t, dimers[0].Forces)
	assert.Equal(t, [3]bool{}, dimers[0].PBC)
}

func TestInsertRejectsBadShapes(t *testing.T) {
	s := tempDB(t)

	c := fccCalc(3.6, -1)
	c.Forces = c.Forces[:2]
	_, err := s.Insert(c)
	require.ErrorIs(t, err, atoms.ErrShapeMismatch)

	c = fccCalc(3.6, -1)
	c.Species = c.Species[:1]
	_, err = s.Insert(c)
	require.ErrorIs(t, err, atoms.ErrShapeMismatch)
}

func TestFits(t *testing.T) {
	s := tempDB(t)

	_, err := s.LatestFit("lj")
	require.ErrorIs(t, err, ErrNotFound)

	first := &FitRecord{Model: "lj", Params: params.Params{"epsilon": 0.01, "sigma": 3.3}, Loss: 1e-3, Iterations: 5, Status: "IterationLimit"}
	id1, err := s.SaveFit(first)
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	second := &FitRecord{Model: "lj", Params: params.Params{"epsilon": 0.0103, "sigma": 3.4}, Loss: 1e-9, Converged: true, Iterations: 30}
	id2, err := s.SaveFit(second)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got, err := s.LatestFit("lj")
	require.NoError(t, err)
	assert.Equal(t, id2, got.RunID)
	assert.Equal(t, second.Params, got.Params)
	assert.True(t, got.Converged)
	assert.Equal(t, 30, got.Iterations)

	_, err = s.SaveFit(&FitRecord{RunID: id1, Model: "lj", Params: params.Params{}})
	require.Error(t, err, "duplicate run id")
}
