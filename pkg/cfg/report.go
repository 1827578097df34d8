package cfg

import (
	"bufio"
	"fmt"
	"os"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/fit"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/report"
)

// report evaluates samples with p and writes the parity files.
func (c *Cfg) report(m potential.Model, samples []fit.Sample, p params.Params) error {
	pred, err := predict(m, samples, p, c.Workers)
	if err != nil {
		return err
	}
	return c.write(samples, pred)
}

// write writes Report_energy.dat, Report_forces.dat (when reference forces
// are known) and Report_summary.txt with the statistics and the histograms
// of the errors.
func (c *Cfg) write(samples []fit.Sample, pred []*potential.Result) error {
	energy := &report.Parity{Label: "energy per atom"}
	forces := &report.Parity{Label: "force components"}

	for i, s := range samples {
		n := float64(s.Config.Len())
		if n == 0 {
			continue
		}
		energy.Add(s.Energy/n, pred[i].Energy/n)

		if s.Forces == nil {
			continue
		}
		for a := range s.Forces {
			for k := 0; k < 3; k++ {
				forces.Add(s.Forces[a][k], pred[i].Forces[a][k])
			}
		}
	}

	parities := []*report.Parity{energy}
	names := []string{"energy"}
	if forces.Len() > 0 {
		parities = append(parities, forces)
		names = append(names, "forces")
	}

	f, err := os.Create(c.Report + "_summary.txt")
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	for i, p := range parities {
		err = p.WriteFile(fmt.Sprint(c.Report, "_", names[i], ".dat"))
		if err != nil {
			return err
		}

		res, err := p.Residuals()
		if err != nil {
			return err
		}
		s, err := report.Summarize(res)
		if err != nil {
			return err
		}
		h, err := report.NewHistogram(res, c.Bins)
		if err != nil {
			return err
		}

		fmt.Fprintf(w, "# %s: %v\n", p.Label, s)
		err = h.Render(w, 40)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
	}

	err = w.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
