package potential

import (
	"errors"
	"fmt"
	"math"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/autodiff"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"gonum.org/v1/gonum/num/hyperdual"
)

// ErrUnknownSpecies is returned when no default EMT parameters exist for an
// element.
var ErrUnknownSpecies = errors.New("potential: unknown species")

const (
	bohr = 0.5291772105638411

	// beta is (16π/3)^(1/3)/√2 with the historical rounding.
	beta = 1.809
)

// emtFields are the per element parameter suffixes, "Cu.E0" etc.
var emtFields = [...]string{"E0", "s0", "V0", "eta2", "kappa", "lambda", "n0"}

// emtTable holds E0 (eV), s0 (bohr), V0 (eV), eta2, kappa, lambda (1/bohr)
// and n0 (1/bohr³).
var emtTable = map[string][7]float64{
	"Al": {-3.28, 3.00, 1.493, 1.240, 2.000, 1.169, 0.00700},
	"Cu": {-3.51, 2.67, 2.476, 1.652, 2.740, 1.906, 0.00910},
	"Ag": {-2.96, 3.01, 2.132, 1.652, 2.790, 1.892, 0.00547},
	"Au": {-3.80, 3.00, 2.321, 1.674, 2.873, 2.182, 0.00703},
	"Ni": {-4.44, 2.60, 3.673, 1.669, 2.757, 1.948, 0.01030},
	"Pd": {-3.90, 2.87, 2.773, 1.818, 3.107, 2.155, 0.00688},
	"Pt": {-5.85, 2.90, 4.067, 1.812, 3.145, 2.192, 0.00802},
	"H":  {-3.21, 1.31, 0.132, 2.652, 2.790, 3.892, 0.00547},
	"C":  {-3.50, 1.81, 0.332, 1.652, 2.790, 1.892, 0.01322},
	"N":  {-5.10, 1.88, 0.132, 1.652, 2.790, 1.892, 0.01222},
	"O":  {-4.60, 1.95, 0.332, 1.652, 2.790, 1.892, 0.00850},
}

// tableS0 is the largest s0 of emtTable in Å. The default EMT cutoff is
// derived from it whatever the species present.
var tableS0 = func() float64 {
	var s0 float64
	for _, v := range emtTable {
		s0 = math.Max(s0, v[1])
	}
	return s0 * bohr
}()

// EMT is the effective medium theory potential for fcc metals. Parameters are
// named "<element>.<field>" with fields E0, s0, V0, eta2, kappa, lambda and
// n0, lengths in Å. Every atom embeds in the density of its neighbours; the
// neighbour contributions are keyed by the species pair.
type EMT struct {
	// ASAPCutoff takes the cutoff from the largest s0 of the species present
	// instead of the whole parameter table. The cutoff then follows s0 during
	// a fit.
	ASAPCutoff bool
}

// Name implements Model.
func (m *EMT) Name() string {
	if m.ASAPCutoff {
		return "emt-asap"
	}
	return "emt"
}

// Defaults implements Model.
func (m *EMT) Defaults(species []string) (params.Params, error) {
	p := make(params.Params)
	for _, sym := range (&atoms.Config{Species: species}).Symbols() {
		v, ok := emtTable[sym]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSpecies, sym)
		}
		p[sym+".E0"] = v[0]
		p[sym+".s0"] = v[1] * bohr
		p[sym+".V0"] = v[2]
		p[sym+".eta2"] = v[3] / bohr
		p[sym+".kappa"] = v[4] / bohr
		p[sym+".lambda"] = v[5] / bohr
		p[sym+".n0"] = v[6] / (bohr * bohr * bohr)
	}
	return p, nil
}

// Cutoff implements Model. It is the smooth cutoff radius plus a 0.5 Å skin.
func (m *EMT) Cutoff(p params.Params, species []string) (float64, error) {
	syms := (&atoms.Config{Species: species}).Symbols()
	if len(syms) == 0 {
		return 0, &atoms.ShapeMismatchError{What: "species", Want: 1, Got: 0}
	}

	s0 := tableS0
	if m.ASAPCutoff {
		s0 = 0
		for _, sym := range syms {
			v, err := p.Get(sym + ".s0")
			if err != nil {
				return 0, err
			}
			s0 = math.Max(s0, v)
		}
	}
	return beta*s0*0.5*(math.Sqrt(3)+2) + 0.5, nil
}

type emtElement struct {
	e0, s0, v0, eta2, kappa, lambda, n0 autodiff.Num
	gamma1, gamma2                      autodiff.Num
}

// Energy implements Model.
func (m *EMT) Energy(s *System) (autodiff.Num, error) {
	if len(s.Species) != len(s.Positions) {
		return autodiff.Num{}, &atoms.ShapeMismatchError{What: "species", Want: len(s.Positions), Got: len(s.Species)}
	}

	syms := s.Symbols()
	if len(syms) == 0 {
		return autodiff.Const(0), nil
	}

	elems := make(map[string]*emtElement, len(syms))
	s0max := autodiff.Const(tableS0)
	if m.ASAPCutoff {
		s0max = autodiff.Const(0)
	}
	for _, sym := range syms {
		var f [7]autodiff.Num
		for k, name := range emtFields {
			v, err := s.Param(sym + "." + name)
			if err != nil {
				return autodiff.Num{}, err
			}
			f[k] = v
		}
		elems[sym] = &emtElement{e0: f[0], s0: f[1], v0: f[2], eta2: f[3], kappa: f[4], lambda: f[5], n0: f[6]}
		if m.ASAPCutoff && f[1].Real > s0max.Real {
			s0max = f[1]
		}
	}

	// Smooth Fermi cutoff between the third and fourth fcc shells.
	rc := hyperdual.Scale(beta*0.5*(math.Sqrt(3)+2), s0max)
	acut := hyperdual.Scale(math.Log(9999), hyperdual.Inv(hyperdual.Scale(4/(math.Sqrt(3)+2)-1, rc)))
	theta := func(r autodiff.Num) autodiff.Num {
		x := hyperdual.Exp(hyperdual.Mul(acut, hyperdual.Sub(r, rc)))
		return hyperdual.Inv(hyperdual.Add(autodiff.Const(1), x))
	}

	// Normalisation over the first three shells of the ideal fcc lattice.
	for _, e := range elems {
		bs0 := hyperdual.Scale(beta, e.s0)
		for i, n := range [3]float64{12, 6, 24} {
			r := hyperdual.Scale(math.Sqrt(float64(i+1)), bs0)
			w := hyperdual.Scale(n/12, theta(r))
			dr := hyperdual.Sub(r, bs0)
			e.gamma1 = hyperdual.Add(e.gamma1, hyperdual.Mul(w, hyperdual.Exp(neg(hyperdual.Mul(e.eta2, dr)))))
			e.gamma2 = hyperdual.Add(e.gamma2, hyperdual.Mul(w, hyperdual.Exp(neg(hyperdual.Scale(1/beta, hyperdual.Mul(e.kappa, dr))))))
		}
	}

	energy := autodiff.Const(0)
	sigma1 := make([]autodiff.Num, len(s.Positions))

	for _, p := range s.List.Pairs {
		w := s.Weight(p)
		if w == 0 {
			continue
		}

		a, b := elems[s.Species[p.I]], elems[s.Species[p.J]]
		r := autodiff.Norm(s.Displacement(p))
		th := theta(r)
		ksi := hyperdual.Mul(b.n0, hyperdual.Inv(a.n0))

		// Density of b seen by a.
		dens := hyperdual.Exp(neg(hyperdual.Mul(b.eta2, hyperdual.Sub(r, hyperdual.Scale(beta, b.s0)))))
		dens = hyperdual.Mul(hyperdual.Mul(dens, ksi), hyperdual.Mul(th, hyperdual.Inv(a.gamma1)))
		sigma1[p.I] = hyperdual.Add(sigma1[p.I], hyperdual.Scale(w, dens))

		// Pair repulsion, half per ordered pair.
		rep := hyperdual.Exp(neg(hyperdual.Mul(b.kappa, hyperdual.Sub(hyperdual.Scale(1/beta, r), b.s0))))
		rep = hyperdual.Mul(hyperdual.Mul(a.v0, rep), hyperdual.Mul(ksi, hyperdual.Mul(th, hyperdual.Inv(a.gamma2))))
		energy = hyperdual.Sub(energy, hyperdual.Scale(0.5*w, rep))
	}

	for i := range s.Positions {
		if s.Mask[i] == 0 {
			continue
		}
		e := elems[s.Species[i]]

		// An isolated atom sits at the s → ∞ limit of the cohesive function.
		if !(sigma1[i].Real > 0) {
			energy = hyperdual.Sub(energy, hyperdual.Scale(s.Mask[i], e.e0))
			continue
		}

		ds := hyperdual.Log(hyperdual.Scale(1.0/12, sigma1[i]))
		ds = neg(hyperdual.Mul(ds, hyperdual.Inv(hyperdual.Scale(beta, e.eta2))))

		x := hyperdual.Mul(e.lambda, ds)
		y := hyperdual.Exp(neg(x))
		z := hyperdual.Scale(6, hyperdual.Mul(e.v0, hyperdual.Exp(neg(hyperdual.Mul(e.kappa, ds)))))

		coh := hyperdual.Sub(hyperdual.Mul(hyperdual.Add(autodiff.Const(1), x), y), autodiff.Const(1))
		energy = hyperdual.Add(energy, hyperdual.Scale(s.Mask[i], hyperdual.Add(hyperdual.Mul(e.e0, coh), z)))
	}

	return energy, nil
}

func neg(x autodiff.Num) autodiff.Num {
	return hyperdual.Scale(-1, x)
}
