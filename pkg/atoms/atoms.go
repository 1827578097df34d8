// Package atoms holds the atomic configuration evaluated by the potentials:
// positions, periodic cell and species, together with the cell geometry
// helpers and the error types shared by the other packages.
package atoms

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// singular is the smallest |det(cell)| accepted for a periodic cell.
const singular = 1e-12

// Config is an atomic configuration. Cell rows are the lattice vectors a1, a2
// and a3. Species may be nil for models that ignore it (Lennard-Jones). A
// Config must not be modified while it is being evaluated.
type Config struct {
	Positions [][3]float64
	Cell      [3][3]float64
	PBC       [3]bool
	Species   []string
}

// Len returns the number of atoms.
func (c *Config) Len() int {
	return len(c.Positions)
}

// Periodic reports whether at least one axis is periodic.
func (c *Config) Periodic() bool {
	return c.PBC[0] || c.PBC[1] || c.PBC[2]
}

// Matrix returns the cell as a 3x3 gonum matrix (rows are lattice vectors).
func (c *Config) Matrix() *mat.Dense {
	data := make([]float64, 0, 9)
	for k := 0; k < 3; k++ {
		data = append(data, c.Cell[k][:]...)
	}
	return mat.NewDense(3, 3, data)
}

// Volume returns the absolute value of the cell determinant.
func (c *Config) Volume() float64 {
	return math.Abs(mat.Det(c.Matrix()))
}

// Inverse returns the inverse of the cell matrix, so that fractional
// coordinates are f = r · Inverse.
func (c *Config) Inverse() ([3][3]float64, error) {
	var out [3][3]float64

	m := c.Matrix()
	if math.Abs(mat.Det(m)) < singular {
		return out, Domain("Inverse", "singular cell matrix")
	}

	var inv mat.Dense
	err := inv.Inverse(m)
	if err != nil {
		return out, Domain("Inverse", "cannot invert cell: %v", err)
	}

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = inv.At(i, j)
		}
	}
	return out, nil
}

// Validate checks the shapes of the configuration and of an optional mask
// (nil means every atom is real). It also rejects non-finite coordinates and
// a singular cell when an axis is periodic.
func (c *Config) Validate(mask []float64) error {
	n := c.Len()
	if c.Species != nil && len(c.Species) != n {
		return &ShapeMismatchError{What: "species", Want: n, Got: len(c.Species)}
	}
	if mask != nil && len(mask) != n {
		return &ShapeMismatchError{What: "mask", Want: n, Got: len(mask)}
	}

	for i, p := range c.Positions {
		for k := 0; k < 3; k++ {
			if math.IsNaN(p[k]) || math.IsInf(p[k], 0) {
				return Domain("Validate", "non-finite coordinate for atom %d", i)
			}
		}
	}

	if c.Periodic() && c.Volume() < singular {
		return Domain("Validate", "singular cell matrix with periodic boundaries")
	}

	return nil
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := &Config{Cell: c.Cell, PBC: c.PBC}
	out.Positions = make([][3]float64, len(c.Positions))
	copy(out.Positions, c.Positions)
	if c.Species != nil {
		out.Species = make([]string, len(c.Species))
		copy(out.Species, c.Species)
	}
	return out
}

// Translate returns a copy of c with every atom moved by v.
func (c *Config) Translate(v [3]float64) *Config {
	out := c.Clone()
	for i := range out.Positions {
		for k := 0; k < 3; k++ {
			out.Positions[i][k] += v[k]
		}
	}
	return out
}

// Strain returns a copy of c where positions and lattice vectors are mapped
// by (I+eps).
func (c *Config) Strain(eps [3][3]float64) *Config {
	out := c.Clone()
	for i, p := range c.Positions {
		out.Positions[i] = deform(eps, p)
	}
	for k := 0; k < 3; k++ {
		out.Cell[k] = deform(eps, c.Cell[k])
	}
	return out
}

// Symbols returns the distinct species sorted alphabetically.
func (c *Config) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Species {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func deform(eps [3][3]float64, v [3]float64) [3]float64 {
	var out [3]float64
	for a := 0; a < 3; a++ {
		out[a] = v[a]
		for b := 0; b < 3; b++ {
			out[a] += eps[a][b] * v[b]
		}
	}
	return out
}
