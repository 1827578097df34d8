package potential

import (
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/autodiff"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
)

// Sensitivity holds the derivatives of the energy, and optionally of the
// forces, with respect to a list of parameters.
type Sensitivity struct {
	Result

	Names []string

	// DEnergy[k] is ∂E/∂θ_k.
	DEnergy []float64

	// DForces[k][i] is ∂F_i/∂θ_k. Only set when forces were requested.
	DForces [][][3]float64
}

// Sensitivities returns the energy of c and its derivatives with respect to
// the parameters listed in names. With withForces, the forces and their
// parameter derivatives are computed too, from the mixed second derivatives
// ∂²E/∂x∂θ of the same energy expression.
func Sensitivities(m Model, c *atoms.Config, p params.Params, names []string, withForces bool) (*Sensitivity, error) {
	return sensitivities(m, c, nil, p, names, withForces)
}

func sensitivities(m Model, c *atoms.Config, mask []float64, p params.Params, names []string, withForces bool) (*Sensitivity, error) {
	_, err := p.Vector(names)
	if err != nil {
		return nil, err
	}

	in, err := prepare(m, c, mask, p)
	if err != nil {
		return nil, err
	}

	out := &Sensitivity{Names: names, DEnergy: make([]float64, len(names))}
	coords := in.coords()

	if !withForces || len(coords) == 0 || len(names) == 0 {
		var res *Result
		if withForces {
			res, err = evaluate(m, c, mask, p, PropForces)
		} else {
			res, err = evaluate(m, c, mask, p, PropEnergy)
		}
		if err != nil {
			return nil, err
		}
		out.Result = *res

		if withForces {
			out.DForces = make([][][3]float64, len(names))
		}

		for k := 0; k < len(names); k += 2 {
			seeds := []seed{{part: autodiff.E1, kind: seedParam, name: names[k]}}
			if k+1 < len(names) {
				seeds = append(seeds, seed{part: autodiff.E2, kind: seedParam, name: names[k+1]})
			}

			e, err := in.pass(seeds...)
			if err != nil {
				return nil, err
			}
			out.DEnergy[k] = e.E1mag
			if k+1 < len(names) {
				out.DEnergy[k+1] = e.E2mag
			}
			if withForces {
				out.DForces[k] = make([][3]float64, c.Len())
				if k+1 < len(names) {
					out.DForces[k+1] = make([][3]float64, c.Len())
				}
			}
		}
		return out, nil
	}

	out.Forces = make([][3]float64, c.Len())
	out.DForces = make([][][3]float64, len(names))
	for k := range names {
		out.DForces[k] = make([][3]float64, c.Len())
	}

	for _, x := range coords {
		i, a := x/3, x%3
		for k, name := range names {
			e, err := in.pass(
				seed{part: autodiff.E1, kind: seedCoord, index: x},
				seed{part: autodiff.E2, kind: seedParam, name: name},
			)
			if err != nil {
				return nil, err
			}

			out.Energy = e.Real
			out.Forces[i][a] = -e.E1mag
			out.DEnergy[k] = e.E2mag
			out.DForces[k][i][a] = -e.E1E2mag
		}
	}

	return out, nil
}
