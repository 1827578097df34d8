// Package fit trains potential parameters against reference energies and
// forces with the gonum optimizers. The gradient of the loss is obtained by
// automatic differentiation through the evaluator.
package fit

import (
	"fmt"
	"math"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"gonum.org/v1/gonum/floats"
)

// Sample is one reference calculation. Forces may be nil when only the
// energy is known.
type Sample struct {
	Config *atoms.Config
	Energy float64
	Forces [][3]float64
}

// Check returns a *atoms.ShapeMismatchError when the reference forces do not
// match the configuration.
func (s *Sample) Check() error {
	if s.Forces != nil && len(s.Forces) != s.Config.Len() {
		return &atoms.ShapeMismatchError{What: "reference forces", Want: s.Config.Len(), Got: len(s.Forces)}
	}
	return nil
}

// Loss is the error metric.
type Loss string

// Supported losses.
const (
	MSE Loss = "mse"
	MAE Loss = "mae"
)

// Objective defines the loss minimised by the Trainer:
//
//	L = EnergyWeight·mean(ℓ(ΔE)) + ForceWeight·mean(ℓ(ΔF))
//
// where ℓ is the square (MSE) or the absolute value (MAE), the energy mean
// runs over samples and the force mean over every force component.
type Objective struct {
	Loss         Loss
	EnergyWeight float64
	ForceWeight  float64

	// PerAtom divides energy residuals by the number of atoms.
	PerAtom bool
}

// DefaultObjective is an energy-only, per-atom MSE.
func DefaultObjective() Objective {
	return Objective{Loss: MSE, EnergyWeight: 1, PerAtom: true}
}

// Check validates o.
func (o Objective) Check() error {
	if o.Loss != MSE && o.Loss != MAE {
		return fmt.Errorf("unsupported loss %q", o.Loss)
	}
	if o.EnergyWeight < 0 || o.ForceWeight < 0 {
		return fmt.Errorf("weights cannot be negative")
	}
	if o.EnergyWeight == 0 && o.ForceWeight == 0 {
		return fmt.Errorf("at least one weight must be positive")
	}
	return nil
}

// term returns ℓ(r) and dℓ/dr.
func (o Objective) term(r float64) (float64, float64) {
	if o.Loss == MAE {
		switch {
		case r > 0:
			return r, 1
		case r < 0:
			return -r, -1
		}
		return 0, 0
	}
	return r * r, 2 * r
}

// problem evaluates the objective and its gradient on a dataset for the free
// parameters. The last point is cached because gonum asks for the value and
// the gradient at the same x separately.
type problem struct {
	model   potential.Model
	batch   *potential.Batch
	samples []Sample
	base    params.Params
	free    []string
	obj     Objective
	workers int

	lastX    []float64
	lastF    float64
	lastGrad []float64
	lastErr  error
}

func (pb *problem) eval(x []float64) (float64, []float64, error) {
	if pb.lastX != nil && floats.Equal(x, pb.lastX) {
		return pb.lastF, pb.lastGrad, pb.lastErr
	}

	f, grad, err := pb.compute(x)
	pb.lastX = append(pb.lastX[:0], x...)
	pb.lastF, pb.lastGrad, pb.lastErr = f, grad, err
	return f, grad, err
}

func (pb *problem) compute(x []float64) (float64, []float64, error) {
	p := pb.base.WithVector(pb.free, x)
	withForces := pb.obj.ForceWeight > 0

	sens, err := potential.SensitivitiesBatch(pb.model, pb.batch, p, pb.free, withForces, pb.workers)
	if err != nil {
		return math.NaN(), nil, err
	}

	var (
		eLoss, fLoss float64
		nE, nF       int
		eGrad        = make([]float64, len(pb.free))
		fGrad        = make([]float64, len(pb.free))
	)

	for m, s := range sens {
		sample := pb.samples[m]
		n := pb.batch.Counts[m]

		scale := 1.0
		if pb.obj.PerAtom && n > 0 {
			scale = 1 / float64(n)
		}

		v, d := pb.obj.term((s.Energy - sample.Energy) * scale)
		eLoss += v
		nE++
		for k := range pb.free {
			eGrad[k] += d * s.DEnergy[k] * scale
		}

		if !withForces || sample.Forces == nil {
			continue
		}

		for i := 0; i < n; i++ {
			for a := 0; a < 3; a++ {
				v, d := pb.obj.term(s.Forces[i][a] - sample.Forces[i][a])
				fLoss += v
				nF++
				for k := range pb.free {
					fGrad[k] += d * s.DForces[k][i][a]
				}
			}
		}
	}

	loss := 0.0
	grad := make([]float64, len(pb.free))
	if nE > 0 && pb.obj.EnergyWeight > 0 {
		w := pb.obj.EnergyWeight / float64(nE)
		loss += w * eLoss
		floats.AddScaled(grad, w, eGrad)
	}
	if nF > 0 {
		w := pb.obj.ForceWeight / float64(nF)
		loss += w * fLoss
		floats.AddScaled(grad, w, fGrad)
	}

	return loss, grad, nil
}
