package potential

import (
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/autodiff"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"gonum.org/v1/gonum/num/hyperdual"
)

// LennardJones is the pair potential 4ε[(σ/r)¹² − (σ/r)⁶]. Parameters are
// "epsilon", "sigma" and the optional cutoff "rc" (3σ when absent). Species
// are ignored.
type LennardJones struct {
	// Shift subtracts the pair energy at rc so that it vanishes at the cutoff.
	Shift bool
}

// Name implements Model.
func (lj *LennardJones) Name() string {
	return "lj"
}

// Defaults implements Model. The values are the usual argon parameters.
func (lj *LennardJones) Defaults([]string) (params.Params, error) {
	return params.Params{"epsilon": 0.0103, "sigma": 3.4}, nil
}

// Cutoff implements Model.
func (lj *LennardJones) Cutoff(p params.Params, _ []string) (float64, error) {
	if rc, ok := p["rc"]; ok {
		return rc, nil
	}
	sigma, err := p.Get("sigma")
	if err != nil {
		return 0, err
	}
	return 3 * sigma, nil
}

// Energy implements Model.
func (lj *LennardJones) Energy(s *System) (autodiff.Num, error) {
	eps, err := s.Param("epsilon")
	if err != nil {
		return autodiff.Num{}, err
	}
	sigma, err := s.Param("sigma")
	if err != nil {
		return autodiff.Num{}, err
	}

	var e0 autodiff.Num
	if lj.Shift {
		rc, ok := s.Params["rc"]
		if !ok {
			rc = hyperdual.Scale(3, sigma)
		}
		e0 = ljPair(eps, sigma, rc)
	}

	e := autodiff.Const(0)
	for _, p := range s.List.Pairs {
		w := s.Weight(p)
		if w == 0 {
			continue
		}

		r := autodiff.Norm(s.Displacement(p))
		v := ljPair(eps, sigma, r)
		if lj.Shift {
			v = hyperdual.Sub(v, e0)
		}

		// Each pair is listed twice.
		e = hyperdual.Add(e, hyperdual.Scale(0.5*w, v))
	}

	return e, nil
}

func ljPair(eps, sigma, r autodiff.Num) autodiff.Num {
	sr6 := hyperdual.PowReal(hyperdual.Mul(sigma, hyperdual.Inv(r)), 6)
	sr12 := hyperdual.Mul(sr6, sr6)
	return hyperdual.Scale(4, hyperdual.Mul(eps, hyperdual.Sub(sr12, sr6)))
}
