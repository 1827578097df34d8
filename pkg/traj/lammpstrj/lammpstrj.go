// Package lammpstrj reads and writes LAMMPS dump files (lammpstrj). Reading
// detects the position columns (x y z, xu yu zu or xs ys zs), the species
// columns (element or type) and optional force columns (fx fy fz). Orthogonal
// and triclinic boxes are supported. An optional ITEM: ENERGY after the
// timestep carries the energy of the frame.
package lammpstrj

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/traj"
)

// Format implements traj.Format. Types maps the numeric LAMMPS atom types
// (1, 2, ...) to species when the dump has no element column. With no Types
// the type itself is used as species.
type Format struct {
	Types []string
}

// columns is the position of the fields of interest in an ATOMS line.
type columns struct {
	tot     int
	id      int
	species int
	typ     bool
	pos     [3]int
	scaled  bool
	forces  [3]int
	hasF    bool
}

// box is the simulation box of one configuration.
type box struct {
	lo   [3]float64
	cell [3][3]float64
	pbc  [3]bool
}

// reader counts lines to report meaningful errors.
type reader struct {
	r    *bufio.Reader
	line int
}

// readLine reads ONE line without its line feed. io.EOF is only returned
// when nothing is left.
func (r *reader) readLine() (string, error) {
	l, err := r.r.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) || l == "" {
			return "", err
		}
	}
	r.line++
	return strings.TrimRight(l, "\r\n"), nil
}

// item reads a line and checks it starts with "ITEM: name".
func (r *reader) item(name string) (string, error) {
	l, err := r.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("line %d: expected ITEM: %s: %w", r.line+1, name, io.ErrUnexpectedEOF)
		}
		return "", err
	}
	l = strings.TrimSpace(l)
	if !strings.HasPrefix(l, "ITEM: "+name) {
		return "", fmt.Errorf("line %d: expected ITEM: %s, got %q", r.line, name, l)
	}
	return strings.TrimSpace(strings.TrimPrefix(l, "ITEM: "+name)), nil
}

// value reads a line and returns its fields.
func (r *reader) value() ([]string, error) {
	l, err := r.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return strings.Fields(l), nil
}

// Read implements traj.Format.
func (f Format) Read(rd io.Reader) ([]traj.Frame, error) {
	r := &reader{r: bufio.NewReader(rd)}

	var frames []traj.Frame
	for {
		// Skip blank lines between configurations
		b, err := r.r.Peek(1)
		for err == nil && (b[0] == '\n' || b[0] == '\r' || b[0] == ' ') {
			r.r.ReadByte()
			if b[0] == '\n' {
				r.line++
			}
			b, err = r.r.Peek(1)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return frames, nil
			}
			return nil, err
		}

		fr, err := f.frame(r)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", len(frames), err)
		}
		frames = append(frames, fr)
	}
}

// frame reads one configuration.
func (f Format) frame(r *reader) (traj.Frame, error) {
	var fr traj.Frame

	if _, err := r.item("TIMESTEP"); err != nil {
		return fr, err
	}
	v, err := r.value()
	if err != nil {
		return fr, fmt.Errorf("timestep: %w", err)
	}
	if len(v) != 1 {
		return fr, fmt.Errorf("line %d: unable to get the timestep", r.line)
	}
	fr.Info = map[string]string{"timestep": v[0]}

	next, err := r.item("")
	if err != nil {
		return fr, err
	}
	if next == "ENERGY" {
		v, err = r.value()
		if err != nil {
			return fr, fmt.Errorf("energy: %w", err)
		}
		if len(v) != 1 {
			return fr, fmt.Errorf("line %d: unable to get the energy", r.line)
		}
		fr.Energy, err = strconv.ParseFloat(v[0], 64)
		if err != nil {
			return fr, fmt.Errorf("line %d: %w", r.line, err)
		}
		fr.HasEnergy = true

		next, err = r.item("")
		if err != nil {
			return fr, err
		}
	}
	if next != "NUMBER OF ATOMS" {
		return fr, fmt.Errorf("line %d: expected ITEM: NUMBER OF ATOMS, got ITEM: %s", r.line, next)
	}
	v, err = r.value()
	if err != nil {
		return fr, fmt.Errorf("number of atoms: %w", err)
	}
	var n int
	if len(v) == 1 {
		n, err = strconv.Atoi(v[0])
	}
	if len(v) != 1 || err != nil || n < 0 {
		return fr, fmt.Errorf("line %d: unable to get the number of atoms", r.line)
	}

	bx, err := header(r)
	if err != nil {
		return fr, fmt.Errorf("header: %w", err)
	}

	rest, err := r.item("ATOMS")
	if err != nil {
		return fr, err
	}
	cols, err := detect(strings.Fields(rest))
	if err != nil {
		return fr, fmt.Errorf("line %d: %w", r.line, err)
	}

	type atom struct {
		id      int
		species string
		pos     [3]float64
		force   [3]float64
	}
	at := make([]atom, n)

	for a := 0; a < n; a++ {
		fields, err := r.value()
		if err != nil {
			return fr, fmt.Errorf("atom %d: %w", a, err)
		}
		if len(fields) != cols.tot {
			return fr, fmt.Errorf("line %d: number of columns don't match", r.line)
		}

		at[a].id = a
		if cols.id >= 0 {
			at[a].id, err = strconv.Atoi(fields[cols.id])
			if err != nil {
				return fr, fmt.Errorf("line %d: %w", r.line, err)
			}
		}

		if cols.species >= 0 {
			at[a].species, err = f.species(fields[cols.species], cols.typ)
			if err != nil {
				return fr, fmt.Errorf("line %d: %w", r.line, err)
			}
		}

		for k := 0; k < 3; k++ {
			at[a].pos[k], err = strconv.ParseFloat(fields[cols.pos[k]], 64)
			if err != nil {
				return fr, fmt.Errorf("line %d: %w", r.line, err)
			}
			if cols.hasF {
				at[a].force[k], err = strconv.ParseFloat(fields[cols.forces[k]], 64)
				if err != nil {
					return fr, fmt.Errorf("line %d: %w", r.line, err)
				}
			}
		}

		// Scaled coordinates are fractions of the lattice vectors
		if cols.scaled {
			s := at[a].pos
			for k := 0; k < 3; k++ {
				at[a].pos[k] = bx.lo[k] + s[0]*bx.cell[0][k] + s[1]*bx.cell[1][k] + s[2]*bx.cell[2][k]
			}
		}
	}

	// LAMMPS does not sort the atoms
	sort.SliceStable(at, func(i, j int) bool { return at[i].id < at[j].id })

	c := &atoms.Config{
		Positions: make([][3]float64, n),
		Cell:      bx.cell,
		PBC:       bx.pbc,
	}
	if cols.species >= 0 {
		c.Species = make([]string, n)
	}
	if cols.hasF {
		fr.Forces = make([][3]float64, n)
	}
	for a := range at {
		c.Positions[a] = at[a].pos
		if c.Species != nil {
			c.Species[a] = at[a].species
		}
		if fr.Forces != nil {
			fr.Forces[a] = at[a].force
		}
	}
	fr.Config = c

	return fr, nil
}

// species converts a type or an element column.
func (f Format) species(s string, typ bool) (string, error) {
	if !typ || f.Types == nil {
		return s, nil
	}
	t, err := strconv.Atoi(s)
	if err != nil {
		return "", fmt.Errorf("invalid atom type %q", s)
	}
	if t < 1 || t > len(f.Types) {
		return "", fmt.Errorf("atom type %d has no species (%d types given)", t, len(f.Types))
	}
	return f.Types[t-1], nil
}

// header reads the BOX BOUNDS item. A triclinic box is given by its bounding
// box and the tilt factors xy xz yz.
func header(r *reader) (box, error) {
	var bx box

	rest, err := r.item("BOX BOUNDS")
	if err != nil {
		return bx, err
	}

	flags := strings.Fields(rest)
	triclinic := len(flags) >= 3 && flags[0] == "xy"
	if triclinic {
		flags = flags[3:]
	}
	for k := 0; k < 3; k++ {
		bx.pbc[k] = true
		if k < len(flags) {
			bx.pbc[k] = flags[k] == "pp"
		}
	}

	var bounds [3][3]float64
	for k := 0; k < 3; k++ {
		fields, err := r.value()
		if err != nil {
			return bx, err
		}

		want := 2
		if triclinic {
			want = 3
		}
		if len(fields) != want {
			return bx, fmt.Errorf("line %d: unable to get the size of the box", r.line)
		}

		for i := range fields {
			bounds[k][i], err = strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return bx, fmt.Errorf("line %d: %w", r.line, err)
			}
		}
	}

	xy, xz, yz := bounds[0][2], bounds[1][2], bounds[2][2]
	xlo := bounds[0][0] - math.Min(math.Min(0, xy), math.Min(xz, xy+xz))
	xhi := bounds[0][1] - math.Max(math.Max(0, xy), math.Max(xz, xy+xz))
	ylo := bounds[1][0] - math.Min(0, yz)
	yhi := bounds[1][1] - math.Max(0, yz)
	zlo, zhi := bounds[2][0], bounds[2][1]

	bx.lo = [3]float64{xlo, ylo, zlo}
	bx.cell = [3][3]float64{
		{xhi - xlo, 0, 0},
		{xy, yhi - ylo, 0},
		{xz, yz, zhi - zlo},
	}
	return bx, nil
}

// detect returns the position of the columns of an ATOMS line.
func detect(fields []string) (columns, error) {
	c := columns{tot: len(fields), id: -1, species: -1}
	if len(fields) == 0 {
		return c, fmt.Errorf("not enough columns")
	}

	var found, scaled, unwrapped, wrapped, forces int
	pos := map[string][2]int{
		"x": {0, 0}, "y": {1, 0}, "z": {2, 0},
		"xu": {0, 1}, "yu": {1, 1}, "zu": {2, 1},
		"xs": {0, 2}, "ys": {1, 2}, "zs": {2, 2},
	}
	var cand [3][3]int

	for k, v := range fields {
		switch v {
		case "id":
			c.id = k
		case "element":
			c.species = k
			c.typ = false
		case "type":
			if c.species < 0 || c.typ {
				c.species = k
				c.typ = true
			}
		case "fx", "fy", "fz":
			c.forces[v[1]-'x'] = k
			forces++
		default:
			p, ok := pos[v]
			if !ok {
				continue
			}
			cand[p[1]][p[0]] = k
			switch p[1] {
			case 0:
				wrapped++
			case 1:
				unwrapped++
			case 2:
				scaled++
			}
		}
	}

	// Unwrapped coordinates are preferred, then wrapped, then scaled
	switch {
	case unwrapped == 3:
		c.pos = cand[1]
		found = 3
	case wrapped == 3:
		c.pos = cand[0]
		found = 3
	case scaled == 3:
		c.pos = cand[2]
		c.scaled = true
		found = 3
	}
	if found < 3 {
		return c, fmt.Errorf("cannot find the columns x y and z (or xu yu zu, xs ys zs)")
	}

	if forces == 3 {
		c.hasF = true
	} else if forces != 0 {
		return c, fmt.Errorf("cannot find the columns fx fy and fz")
	}

	return c, nil
}

// Write implements traj.Format. The cell must be in the LAMMPS form: a along
// x and b in the xy plane. Positions are written relative to the origin. A
// known energy is written as an ITEM: ENERGY between the timestep and the
// number of atoms, which Read understands.
func (f Format) Write(w io.Writer, frames []traj.Frame) error {
	for i, fr := range frames {
		c := fr.Config
		cell := c.Cell
		if cell[0][1] != 0 || cell[0][2] != 0 || cell[1][2] != 0 {
			return fmt.Errorf("frame %d: cell is not lower triangular", i)
		}
		if c.Species != nil && len(c.Species) != c.Len() {
			return fmt.Errorf("frame %d: %w", i, &atoms.ShapeMismatchError{What: "species", Want: c.Len(), Got: len(c.Species)})
		}
		if fr.Forces != nil && len(fr.Forces) != c.Len() {
			return fmt.Errorf("frame %d: %w", i, &atoms.ShapeMismatchError{What: "forces", Want: c.Len(), Got: len(fr.Forces)})
		}

		step, ok := fr.Info["timestep"]
		if !ok {
			step = strconv.Itoa(i)
		}

		var b []byte
		b = append(b, "ITEM: TIMESTEP\n"...)
		b = append(b, step...)
		if fr.HasEnergy {
			b = append(b, "\nITEM: ENERGY\n"...)
			b = strconv.AppendFloat(b, fr.Energy, 'g', -1, 64)
		}
		b = append(b, "\nITEM: NUMBER OF ATOMS\n"...)
		b = strconv.AppendInt(b, int64(c.Len()), 10)
		b = append(b, "\nITEM: BOX BOUNDS"...)

		xy, xz, yz := cell[1][0], cell[2][0], cell[2][1]
		triclinic := xy != 0 || xz != 0 || yz != 0
		if triclinic {
			b = append(b, " xy xz yz"...)
		}
		for k := 0; k < 3; k++ {
			if c.PBC[k] {
				b = append(b, " pp"...)
			} else {
				b = append(b, " ff"...)
			}
		}
		b = append(b, '\n')

		bounds := [3][2]float64{{0, cell[0][0]}, {0, cell[1][1]}, {0, cell[2][2]}}
		if triclinic {
			bounds[0][0] += math.Min(math.Min(0, xy), math.Min(xz, xy+xz))
			bounds[0][1] += math.Max(math.Max(0, xy), math.Max(xz, xy+xz))
			bounds[1][0] += math.Min(0, yz)
			bounds[1][1] += math.Max(0, yz)
		}
		tilt := [3]float64{xy, xz, yz}
		for k := 0; k < 3; k++ {
			b = strconv.AppendFloat(b, bounds[k][0], 'g', -1, 64)
			b = append(b, ' ')
			b = strconv.AppendFloat(b, bounds[k][1], 'g', -1, 64)
			if triclinic {
				b = append(b, ' ')
				b = strconv.AppendFloat(b, tilt[k], 'g', -1, 64)
			}
			b = append(b, '\n')
		}

		b = append(b, "ITEM: ATOMS id element x y z"...)
		if fr.Forces != nil {
			b = append(b, " fx fy fz"...)
		}
		b = append(b, '\n')

		for a, p := range c.Positions {
			b = strconv.AppendInt(b, int64(a+1), 10)
			b = append(b, ' ')
			if c.Species != nil {
				b = append(b, c.Species[a]...)
			} else {
				b = append(b, 'X')
			}
			for k := 0; k < 3; k++ {
				b = append(b, ' ')
				b = strconv.AppendFloat(b, p[k], 'g', -1, 64)
			}
			if fr.Forces != nil {
				for k := 0; k < 3; k++ {
					b = append(b, ' ')
					b = strconv.AppendFloat(b, fr.Forces[a][k], 'g', -1, 64)
				}
			}
			b = append(b, '\n')
		}

		if _, err := w.Write(b); err != nil {
			return err
		}
	}
	return nil
}
