package fit

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"gonum.org/v1/gonum/optimize"
)

// Method is the optimisation algorithm.
type Method string

// Supported methods.
const (
	LBFGS      Method = "lbfgs"
	BFGS       Method = "bfgs"
	CG         Method = "cg"
	GD         Method = "gd"
	NelderMead Method = "neldermead"
)

func (m Method) optimizer() (optimize.Method, error) {
	switch m {
	case LBFGS, "":
		return &optimize.LBFGS{}, nil
	case BFGS:
		return &optimize.BFGS{}, nil
	case CG:
		return &optimize.CG{}, nil
	case GD:
		return &optimize.GradientDescent{}, nil
	case NelderMead:
		return &optimize.NelderMead{}, nil
	}
	return nil, fmt.Errorf("unsupported method %q", m)
}

// ErrNoSamples is returned when Fit is called without data.
var ErrNoSamples = errors.New("fit: no samples")

// Trainer owns the parameters during a fit. The evaluator it drives is
// stateless: every loss evaluation passes the current parameters explicitly.
type Trainer struct {
	Model potential.Model

	// Free lists the parameters being optimised. Nil means all of them.
	Free []string

	Objective Objective
	Method    Method

	// MaxIter bounds the number of major iterations (0: no bound).
	MaxIter int

	// Target stops the fit as soon as the loss is at or below it.
	Target float64

	// Workers bounds the number of configurations evaluated concurrently.
	Workers int

	// Logger receives one line per iteration. Nil disables logging.
	Logger *log.Logger
}

// Result is the outcome of a fit. A fit that stops above the target is not
// an error: Converged is false and Status tells why it stopped.
type Result struct {
	Params      params.Params
	Initial     float64
	Loss        float64
	Iterations  int
	Evaluations int
	Converged   bool
	Status      string
}

// Fit minimises the objective over samples starting from initial. The
// returned parameters contain every entry of initial, with the free ones
// replaced by their fitted values.
func (t *Trainer) Fit(samples []Sample, initial params.Params) (*Result, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	err := t.Objective.Check()
	if err != nil {
		return nil, fmt.Errorf("Objective: %w", err)
	}

	method, err := t.Method.optimizer()
	if err != nil {
		return nil, err
	}

	free := t.Free
	if free == nil {
		free = initial.Names()
	}
	x0, err := initial.Vector(free)
	if err != nil {
		return nil, err
	}

	cfgs := make([]*atoms.Config, len(samples))
	for i := range samples {
		err = samples[i].Check()
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		cfgs[i] = samples[i].Config
	}

	pb := &problem{
		model:   t.Model,
		batch:   potential.NewBatch(cfgs),
		samples: samples,
		base:    initial.Clone(),
		free:    free,
		obj:     t.Objective,
		workers: t.Workers,
	}

	f0, _, err := pb.eval(x0)
	if err != nil {
		return nil, fmt.Errorf("initial loss: %w", err)
	}
	t.logf("> Initial loss %.6g", f0)

	res := &Result{Params: initial.Clone(), Initial: f0, Loss: f0, Status: optimize.NotTerminated.String()}
	if f0 <= t.Target || len(free) == 0 {
		res.Converged = f0 <= t.Target
		return res, nil
	}

	prob := optimize.Problem{
		Func: func(x []float64) float64 {
			f, _, err := pb.eval(x)
			if err != nil {
				// Outside the domain of the potential: reject the step.
				return math.Inf(1)
			}
			return f
		},
		Grad: func(grad, x []float64) {
			_, g, err := pb.eval(x)
			for k := range grad {
				grad[k] = 0
				if err == nil {
					grad[k] = g[k]
				}
			}
		},
	}

	settings := &optimize.Settings{
		MajorIterations: t.MaxIter,
		Converger: &targetConverger{
			target: t.Target,
			inner:  &optimize.FunctionConverge{Absolute: 1e-15, Relative: 1e-10, Iterations: 20},
		},
	}
	if t.Logger != nil {
		settings.Recorder = &logRecorder{logger: t.Logger}
	}

	out, err := optimize.Minimize(prob, x0, settings, method)
	if out == nil {
		return nil, fmt.Errorf("Minimize: %w", err)
	}
	if err != nil {
		t.logf("> Optimizer stopped: %v", err)
	}

	res.Loss = out.F
	res.Iterations = out.Stats.MajorIterations
	res.Evaluations = out.Stats.FuncEvaluations
	res.Status = out.Status.String()
	if out.F <= f0 {
		res.Params = initial.WithVector(free, out.X)
	} else {
		res.Loss = f0
	}
	res.Converged = res.Loss <= t.Target

	return res, nil
}

func (t *Trainer) logf(format string, args ...interface{}) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
	}
}

// targetConverger stops once the loss reaches the target and otherwise
// defers to inner.
type targetConverger struct {
	target float64
	inner  optimize.Converger
}

func (c *targetConverger) Init(dim int) {
	c.inner.Init(dim)
}

func (c *targetConverger) Converged(loc *optimize.Location) optimize.Status {
	if loc.F <= c.target {
		return optimize.Success
	}
	return c.inner.Converged(loc)
}

type logRecorder struct {
	logger *log.Logger
}

func (r *logRecorder) Init() error {
	return nil
}

func (r *logRecorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	if op&optimize.MajorIteration == 0 {
		return nil
	}
	r.logger.Printf("> Iteration %d loss %.6g", stats.MajorIterations, loc.F)
	return nil
}
