package potential

import (
	"math"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/autodiff"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/neighbor"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
)

// Property selects what Evaluate computes.
type Property uint8

// Properties. The energy is always computed.
const (
	PropEnergy Property = 1 << iota
	PropForces
	PropStress

	PropAll = PropEnergy | PropForces | PropStress
)

// Result holds the outputs of one evaluation. Stress is in Voigt order xx, yy,
// zz, yz, xz, xy and has units of energy per volume.
type Result struct {
	Energy float64
	Forces [][3]float64
	Stress [6]float64
}

// voigt maps a Voigt index to the tensor component it stands for.
var voigt = [6][2]int{{0, 0}, {1, 1}, {2, 2}, {1, 2}, {0, 2}, {0, 1}}

// Energy returns the total energy of c.
func Energy(m Model, c *atoms.Config, p params.Params) (float64, error) {
	r, err := evaluate(m, c, nil, p, PropEnergy)
	if err != nil {
		return 0, err
	}
	return r.Energy, nil
}

// Forces returns the forces, the negative gradient of the energy with respect
// to the positions.
func Forces(m Model, c *atoms.Config, p params.Params) ([][3]float64, error) {
	r, err := evaluate(m, c, nil, p, PropForces)
	if err != nil {
		return nil, err
	}
	return r.Forces, nil
}

// Stress returns (1/V) ∂E/∂ε in Voigt order.
func Stress(m Model, c *atoms.Config, p params.Params) ([6]float64, error) {
	r, err := evaluate(m, c, nil, p, PropStress)
	if err != nil {
		return [6]float64{}, err
	}
	return r.Stress, nil
}

// Evaluate computes the requested properties of c with parameters p. It is a
// pure function: neither c nor p is modified, and several calls may run
// concurrently.
func Evaluate(m Model, c *atoms.Config, p params.Params, props Property) (*Result, error) {
	return evaluate(m, c, nil, p, props)
}

func evaluate(m Model, c *atoms.Config, mask []float64, p params.Params, props Property) (*Result, error) {
	in, err := prepare(m, c, mask, p)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	energy := false

	if props&PropForces != 0 {
		res.Forces = make([][3]float64, c.Len())
		coords := in.coords()
		for k := 0; k < len(coords); k += 2 {
			seeds := []seed{{part: autodiff.E1, kind: seedCoord, index: coords[k]}}
			if k+1 < len(coords) {
				seeds = append(seeds, seed{part: autodiff.E2, kind: seedCoord, index: coords[k+1]})
			}

			e, err := in.pass(seeds...)
			if err != nil {
				return nil, err
			}
			res.Energy, energy = e.Real, true

			c0 := coords[k]
			res.Forces[c0/3][c0%3] = -e.E1mag
			if k+1 < len(coords) {
				c1 := coords[k+1]
				res.Forces[c1/3][c1%3] = -e.E2mag
			}
		}
	}

	if props&PropStress != 0 {
		vol := c.Volume()
		if vol < 1e-12 {
			return nil, atoms.Domain("Stress", "stress requires a non singular cell")
		}

		for v := 0; v < 6; v += 2 {
			e, err := in.pass(
				seed{part: autodiff.E1, kind: seedStrain, index: v},
				seed{part: autodiff.E2, kind: seedStrain, index: v + 1},
			)
			if err != nil {
				return nil, err
			}
			res.Energy, energy = e.Real, true
			res.Stress[v] = e.E1mag / vol
			res.Stress[v+1] = e.E2mag / vol
		}
	}

	if !energy {
		e, err := in.pass()
		if err != nil {
			return nil, err
		}
		res.Energy = e.Real
	}

	return res, nil
}

type seedKind int

const (
	seedCoord seedKind = iota
	seedStrain
	seedParam
)

// seed marks one real input as carrying an infinitesimal part. index is the
// flat coordinate 3i+k or the Voigt component; name is the parameter.
type seed struct {
	part  autodiff.Part
	kind  seedKind
	index int
	name  string
}

// input is a validated configuration with its neighbor list. The list is
// shared by every pass since passes only differ by infinitesimal parts.
type input struct {
	model  Model
	cfg    *atoms.Config
	mask   []float64
	list   *neighbor.List
	params params.Params
}

func prepare(m Model, c *atoms.Config, mask []float64, p params.Params) (*input, error) {
	if mask == nil {
		mask = make([]float64, c.Len())
		for i := range mask {
			mask[i] = 1
		}
	}

	err := c.Validate(mask)
	if err != nil {
		return nil, err
	}

	cutoff, err := m.Cutoff(p, c.Species)
	if err != nil {
		return nil, err
	}

	list, err := neighbor.Build(c, mask, cutoff)
	if err != nil {
		return nil, err
	}

	return &input{model: m, cfg: c, mask: mask, list: list, params: p}, nil
}

// coords returns the flat coordinate indices of the real atoms.
func (in *input) coords() []int {
	var out []int
	for i := range in.cfg.Positions {
		if in.mask[i] == 0 {
			continue
		}
		out = append(out, 3*i, 3*i+1, 3*i+2)
	}
	return out
}

// pass evaluates the model once with the given seeds.
func (in *input) pass(seeds ...seed) (autodiff.Num, error) {
	c := in.cfg
	s := &System{
		Positions: make([]autodiff.Vec, c.Len()),
		Species:   c.Species,
		Mask:      in.mask,
		List:      in.list,
		Params:    make(map[string]autodiff.Num, len(in.params)),
	}

	for i, p := range c.Positions {
		s.Positions[i] = autodiff.ConstVec(p)
	}
	for k := 0; k < 3; k++ {
		s.Cell[k] = autodiff.ConstVec(c.Cell[k])
	}
	for name, v := range in.params {
		s.Params[name] = autodiff.Const(v)
	}

	var (
		eps    [3][3]autodiff.Num
		strain bool
	)

	for _, sd := range seeds {
		switch sd.kind {
		case seedCoord:
			i, k := sd.index/3, sd.index%3
			s.Positions[i][k] = autodiff.Seed(c.Positions[i][k], sd.part)
		case seedParam:
			v, err := in.params.Get(sd.name)
			if err != nil {
				return autodiff.Num{}, err
			}
			s.Params[sd.name] = autodiff.Seed(v, sd.part)
		case seedStrain:
			a, b := voigt[sd.index][0], voigt[sd.index][1]
			d := autodiff.Seed(0, sd.part)
			if a != b {
				// Symmetric strain: half in each off-diagonal entry.
				d.E1mag *= 0.5
				d.E2mag *= 0.5
			}
			eps[a][b] = d
			eps[b][a] = d
			strain = true
		}
	}

	if strain {
		for i := range s.Positions {
			s.Positions[i] = autodiff.Deform(&eps, s.Positions[i])
		}
		for k := 0; k < 3; k++ {
			s.Cell[k] = autodiff.Deform(&eps, s.Cell[k])
		}
	}

	e, err := in.model.Energy(s)
	if err != nil {
		return autodiff.Num{}, err
	}

	if !finite(e.Real) || !finite(e.E1mag) || !finite(e.E2mag) || !finite(e.E1E2mag) {
		return autodiff.Num{}, atoms.Domain(in.model.Name(), "non-finite energy %v", e)
	}
	return e, nil
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
