package cfg

import (
	"bufio"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/fit"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/potential"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/refdb"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/traj"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/traj/extxyz"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/traj/lammpstrj"

	"github.com/pelletier/go-toml"
	"gopkg.in/yaml.v3"
)

// Type is the type of the trajectory
type Type string

// Here are the accepted types. Extxyz is an extended XYZ file and Lammpstrj
// is a Lammps Trajectory file.
var (
	TExtxyz    Type = "extxyz"
	TLammpstrj Type = "lammpstrj"
)

// Cfg is a structure containing the parameters specified in the configuration
// file. YAML and TOML files use the same keys. It can be instanced through the New method or by "hand". If it is
// instanced by hand, please use the Check method to check if the Cfg meets the
// requirements.
type Cfg struct {
	// DB is the SQLite reference database
	DB string `yaml:"db" toml:"db"`

	// Traj is the file containing the configurations. When it is empty the
	// configurations are read from DB
	Traj string `yaml:"traj" toml:"traj"`

	// Type is the type of trajectory (extxyz or lammpstrj)
	Type Type `yaml:"type" toml:"type"`

	// Types are the species of the Lammps atom types 1, 2, ...
	Types []string `yaml:"types" toml:"types"`

	// Energies is a file with one reference energy per configuration. It is
	// required for trajectories without energies (lammpstrj)
	Energies string `yaml:"energies" toml:"energies"`

	// Structure is the name of the structure. It labels the calculations
	// ingested and filters those read from DB
	Structure string `yaml:"structure" toml:"structure"`

	// Limit is the maximum number of calculations read from DB (0 for all)
	Limit int `yaml:"limit" toml:"limit"`

	// Model is the potential (lj, emt or emt-asap)
	Model string `yaml:"model" toml:"model"`

	// Shift shifts the Lennard-Jones pair energy to zero at the cutoff
	Shift bool `yaml:"shift" toml:"shift"`

	// Params is a parameter file. It overwrites the model defaults
	Params string `yaml:"params" toml:"params"`

	// Initial overwrites the defaults and Params. In TOML, names containing
	// a dot must be quoted: "Cu.E0" = -3.5
	Initial map[string]float64 `yaml:"initial" toml:"initial"`

	// Free are the parameters optimised. Empty means all of them
	Free []string `yaml:"free" toml:"free"`

	// Loss is mse or mae
	Loss string `yaml:"loss" toml:"loss"`

	// EnergyWeight and ForceWeight weight the energy and force terms of the
	// loss
	EnergyWeight float64 `yaml:"energyWeight" toml:"energyWeight"`
	ForceWeight  float64 `yaml:"forceWeight" toml:"forceWeight"`

	// PerAtom divides the energy residuals by the number of atoms
	PerAtom bool `yaml:"perAtom" toml:"perAtom"`

	// Method is the optimizer (lbfgs, bfgs, cg, gd, neldermead)
	Method string `yaml:"method" toml:"method"`

	// MaxIter is the maximum number of iterations (0 for no limit)
	MaxIter int `yaml:"maxIter" toml:"maxIter"`

	// Target stops the fit once the loss is lower or equal to it
	Target float64 `yaml:"target" toml:"target"`

	// Workers is the number of configurations evaluated concurrently
	Workers int `yaml:"workers" toml:"workers"`

	// Out is the output file: fitted parameters (fit) or predictions
	// (evaluate)
	Out string `yaml:"out" toml:"out"`

	// Report is the prefix of the parity files. Nothing is written when it
	// is empty
	Report string `yaml:"report" toml:"report"`

	// Bins is the number of bins of the error histogram
	Bins int `yaml:"bins" toml:"bins"`
}

// New opens and decodes the specified configuration file. The file must be
// a YAML file, or a TOML file if its extension is .toml. This method
// automatically calls the Check method to check the integrity of Cfg.
func New(path string) (*Cfg, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var c Cfg
	r := bufio.NewReader(f)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.NewDecoder(r).Decode(&c)
	} else {
		err = yaml.NewDecoder(r).Decode(&c)
	}
	if err != nil {
		return nil, err
	}

	err = c.Check()
	if err != nil {
		return nil, fmt.Errorf("Check: %w", err)
	}

	return &c, nil
}

// Check checks if Cfg is correct. It returns an error if a field doesn't meet
// the requirements. Empty fields are replaced by their default values.
func (c *Cfg) Check() error {
	if c.DB == "" && c.Traj == "" {
		return fmt.Errorf("DB or Traj must be specified")
	}

	if c.Traj != "" {
		if c.Type == "" {
			c.Type = TExtxyz
			if strings.Contains(filepath.Base(c.Traj), "lammpstrj") {
				c.Type = TLammpstrj
			}
		}
		if c.Type != TExtxyz && c.Type != TLammpstrj {
			return fmt.Errorf("unsupported type %q", c.Type)
		}
	}

	if c.Model == "" {
		c.Model = "lj"
	}
	if _, ok := potential.ByName(c.Model); !ok {
		return fmt.Errorf("unsupported model %q", c.Model)
	}

	if c.Loss == "" {
		c.Loss = string(fit.MSE)
	}
	if c.EnergyWeight == 0 && c.ForceWeight == 0 {
		c.EnergyWeight = 1
	}
	err := c.objective().Check()
	if err != nil {
		return err
	}

	if c.Limit < 0 || c.MaxIter < 0 || c.Workers < 0 {
		return fmt.Errorf("Limit, MaxIter and Workers cannot be lower than 0")
	}

	if c.Bins < 0 {
		return fmt.Errorf("Bins cannot be lower than 0")
	}
	if c.Bins == 0 {
		c.Bins = 20
	}

	return nil
}

func (c *Cfg) objective() fit.Objective {
	return fit.Objective{
		Loss:         fit.Loss(c.Loss),
		EnergyWeight: c.EnergyWeight,
		ForceWeight:  c.ForceWeight,
		PerAtom:      c.PerAtom,
	}
}

// model returns the potential.
func (c *Cfg) model() potential.Model {
	m, _ := potential.ByName(c.Model)
	if lj, ok := m.(*potential.LennardJones); ok {
		lj.Shift = c.Shift
	}
	return m
}

// format returns the trajectory format.
func (c *Cfg) format() traj.Format {
	if c.Type == TLammpstrj {
		return lammpstrj.Format{Types: c.Types}
	}
	return extxyz.Format{}
}

// frames reads the trajectory and attaches the energies of the Energies file.
func (c *Cfg) frames() ([]traj.Frame, error) {
	frames, err := traj.ReadFile(c.Traj, c.format())
	if err != nil {
		return nil, err
	}

	if c.Energies != "" {
		e, err := readEnergies(c.Energies)
		if err != nil {
			return nil, fmt.Errorf("readEnergies: %w", err)
		}
		if len(e) != len(frames) {
			return nil, &atoms.ShapeMismatchError{What: "energies", Want: len(frames), Got: len(e)}
		}
		for i := range frames {
			frames[i].Energy = e[i]
			frames[i].HasEnergy = true
		}
	}

	return frames, nil
}

// readEnergies reads one energy per non empty line. Lines starting with #
// are ignored.
func readEnergies(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var (
		e    []float64
		line int
	)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line++
		l := strings.TrimSpace(sc.Text())
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		fields := strings.Fields(l)
		v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		e = append(e, v)
	}
	return e, sc.Err()
}

// Ingest stores the configurations of Traj into DB. It returns the number of
// calculations inserted.
func (c *Cfg) Ingest() (int, error) {
	if c.DB == "" || c.Traj == "" {
		return 0, fmt.Errorf("DB and Traj are required")
	}

	frames, err := c.frames()
	if err != nil {
		return 0, err
	}

	db, err := refdb.Open(c.DB)
	if err != nil {
		return 0, fmt.Errorf("Open: %w", err)
	}
	defer db.Close()

	structure := c.Structure
	if structure == "" {
		structure = strings.TrimSuffix(filepath.Base(c.Traj), filepath.Ext(c.Traj))
	}

	for i, fr := range frames {
		if !fr.HasEnergy {
			return i, fmt.Errorf("frame %d has no energy", i)
		}
		_, err = db.Insert(&refdb.Calculation{
			Structure: structure,
			Energy:    fr.Energy,
			Species:   fr.Config.Species,
			Cell:      fr.Config.Cell,
			PBC:       fr.Config.PBC,
			Positions: fr.Config.Positions,
			Forces:    fr.Forces,
		})
		if err != nil {
			return i, fmt.Errorf("frame %d: %w", i, err)
		}
	}

	return len(frames), nil
}

// Samples returns the reference calculations, read from Traj when it is
// specified and from DB otherwise.
func (c *Cfg) Samples() ([]fit.Sample, error) {
	if c.Traj != "" {
		frames, err := c.frames()
		if err != nil {
			return nil, err
		}
		s := make([]fit.Sample, len(frames))
		for i, fr := range frames {
			if !fr.HasEnergy {
				return nil, fmt.Errorf("frame %d has no energy", i)
			}
			s[i] = fit.Sample{Config: fr.Config, Energy: fr.Energy, Forces: fr.Forces}
		}
		return s, nil
	}

	db, err := refdb.Open(c.DB)
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	defer db.Close()

	calcs, err := db.Select(refdb.Filter{Structure: c.Structure, Limit: c.Limit})
	if err != nil {
		return nil, fmt.Errorf("Select: %w", err)
	}
	s := make([]fit.Sample, len(calcs))
	for i, calc := range calcs {
		s[i] = fit.Sample{Config: calc.Config(), Energy: calc.Energy, Forces: calc.Forces}
	}
	return s, nil
}

// initial returns the model defaults for the species of samples, overwritten
// by Params and Initial.
func (c *Cfg) initial(m potential.Model, samples []fit.Sample) (params.Params, error) {
	var species []string
	for _, s := range samples {
		species = append(species, s.Config.Species...)
	}

	p, err := m.Defaults(species)
	if err != nil {
		return nil, fmt.Errorf("Defaults: %w", err)
	}

	if c.Params != "" {
		file, err := params.Load(c.Params)
		if err != nil {
			return nil, fmt.Errorf("Load: %w", err)
		}
		p = p.Merge(file)
	}

	return p.Merge(c.Initial), nil
}

// Fit fits the parameters of Model on the reference calculations, writes
// them into Out and records the run into DB. logger may be nil.
func (c *Cfg) Fit(logger *log.Logger) (*fit.Result, error) {
	samples, err := c.Samples()
	if err != nil {
		return nil, err
	}

	m := c.model()
	p0, err := c.initial(m, samples)
	if err != nil {
		return nil, err
	}

	t := &fit.Trainer{
		Model:     m,
		Free:      c.Free,
		Objective: c.objective(),
		Method:    fit.Method(c.Method),
		MaxIter:   c.MaxIter,
		Target:    c.Target,
		Workers:   c.Workers,
		Logger:    logger,
	}
	res, err := t.Fit(samples, p0)
	if err != nil {
		return nil, fmt.Errorf("Fit: %w", err)
	}

	if c.Out != "" {
		err = res.Params.Save(c.Out)
		if err != nil {
			return res, fmt.Errorf("Save: %w", err)
		}
	}

	if c.DB != "" {
		db, err := refdb.Open(c.DB)
		if err != nil {
			return res, fmt.Errorf("Open: %w", err)
		}
		_, err = db.SaveFit(&refdb.FitRecord{
			Model:      m.Name(),
			Params:     res.Params,
			Loss:       res.Loss,
			Converged:  res.Converged,
			Status:     res.Status,
			Iterations: res.Iterations,
		})
		db.Close()
		if err != nil {
			return res, fmt.Errorf("SaveFit: %w", err)
		}
	}

	if c.Report != "" {
		err = c.report(m, samples, res.Params)
		if err != nil {
			return res, fmt.Errorf("report: %w", err)
		}
	}

	return res, nil
}

// fitted returns the parameters to evaluate: Params, else the latest fit of
// Model stored in DB, else the defaults. Initial overwrites them.
func (c *Cfg) fitted(m potential.Model, samples []fit.Sample) (params.Params, error) {
	if c.Params == "" && c.DB != "" {
		db, err := refdb.Open(c.DB)
		if err != nil {
			return nil, fmt.Errorf("Open: %w", err)
		}
		defer db.Close()

		rec, err := db.LatestFit(m.Name())
		if err == nil {
			return rec.Params.Merge(c.Initial), nil
		}
		if !errors.Is(err, refdb.ErrNotFound) {
			return nil, fmt.Errorf("LatestFit: %w", err)
		}
	}
	return c.initial(m, samples)
}

// Evaluate predicts the energies and forces of the reference calculations,
// writes them into Out with the format of Type (extxyz by default) and
// writes the parity report. It returns the predictions.
func (c *Cfg) Evaluate() ([]*potential.Result, error) {
	samples, err := c.Samples()
	if err != nil {
		return nil, err
	}

	m := c.model()
	p, err := c.fitted(m, samples)
	if err != nil {
		return nil, err
	}

	pred, err := predict(m, samples, p, c.Workers)
	if err != nil {
		return nil, err
	}

	if c.Out != "" {
		frames := make([]traj.Frame, len(samples))
		for i, s := range samples {
			frames[i] = traj.Frame{
				Config:    s.Config,
				Energy:    pred[i].Energy,
				HasEnergy: true,
				Forces:    pred[i].Forces,
				Info:      map[string]string{"model": m.Name()},
			}
		}

		err = traj.WriteFile(c.Out, c.format(), frames)
		if err != nil {
			return pred, fmt.Errorf("WriteFile: %w", err)
		}
	}

	if c.Report != "" {
		err = c.write(samples, pred)
		if err != nil {
			return pred, fmt.Errorf("report: %w", err)
		}
	}

	return pred, nil
}

// predict evaluates the energies and forces of samples concurrently.
func predict(m potential.Model, samples []fit.Sample, p params.Params, workers int) ([]*potential.Result, error) {
	cfgs := make([]*atoms.Config, len(samples))
	for i := range samples {
		cfgs[i] = samples[i].Config
	}

	pred := make([]*potential.Result, len(samples))
	err := potential.Parallel(len(samples), workers, func(i int) error {
		r, err := potential.Evaluate(m, cfgs[i], p, potential.PropEnergy|potential.PropForces)
		if err != nil {
			return fmt.Errorf("configuration %d: %w", i, err)
		}
		pred[i] = r
		return nil
	})
	return pred, err
}
