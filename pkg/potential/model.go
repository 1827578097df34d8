// Package potential evaluates interatomic potentials. A Model writes its total
// energy once, in hyperdual arithmetic. Forces, stress and parameter
// sensitivities are all read from the infinitesimal parts of that single
// expression, so they cannot drift away from the energy.
package potential

import (
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/autodiff"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/neighbor"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
)

// Model is an interatomic potential.
type Model interface {
	// Name is the identifier used in configuration files and databases.
	Name() string

	// Defaults returns a starting parameter set for the given species.
	Defaults(species []string) (params.Params, error)

	// Cutoff returns the neighbor list radius for p.
	Cutoff(p params.Params, species []string) (float64, error)

	// Energy returns the total energy of s.
	Energy(s *System) (autodiff.Num, error)
}

// System is the input of Model.Energy. Positions, cell and parameters may
// carry infinitesimal parts; the neighbor list was built on the real parts.
type System struct {
	Positions []autodiff.Vec
	Cell      [3]autodiff.Vec
	Species   []string

	// Mask is 1 for real atoms and 0 for padding. Never nil.
	Mask []float64

	List   *neighbor.List
	Params map[string]autodiff.Num
}

// Param returns the named parameter.
func (s *System) Param(name string) (autodiff.Num, error) {
	v, ok := s.Params[name]
	if !ok {
		_, err := params.Params{}.Get(name)
		return autodiff.Num{}, err
	}
	return v, nil
}

// Displacement returns the vector from atom p.I to the image of atom p.J.
func (s *System) Displacement(p neighbor.Pair) autodiff.Vec {
	d := autodiff.Sub(s.Positions[p.J], s.Positions[p.I])
	for k := 0; k < 3; k++ {
		if p.Shift[k] != 0 {
			d = autodiff.Add(d, autodiff.Scale(float64(p.Shift[k]), s.Cell[k]))
		}
	}
	return d
}

// Weight returns the mask product of a pair.
func (s *System) Weight(p neighbor.Pair) float64 {
	return s.Mask[p.I] * s.Mask[p.J]
}

// Symbols returns the distinct species of the real atoms.
func (s *System) Symbols() []string {
	kept := make([]string, 0, len(s.Species))
	for i, sp := range s.Species {
		if s.Mask[i] != 0 {
			kept = append(kept, sp)
		}
	}
	return (&atoms.Config{Species: kept}).Symbols()
}

// ByName returns the model registered under name: "lj", "emt" or "emt-asap".
func ByName(name string) (Model, bool) {
	switch name {
	case "lj", "LJ", "lennard-jones":
		return &LennardJones{}, true
	case "emt", "EMT":
		return &EMT{}, true
	case "emt-asap":
		return &EMT{ASAPCutoff: true}, true
	}
	return nil, false
}
