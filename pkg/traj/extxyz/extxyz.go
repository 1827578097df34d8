// Package extxyz reads and writes extended XYZ files: a count line, a
// comment line of key=value pairs (Lattice, Properties, energy, pbc, ...)
// and one line per atom whose columns are described by Properties.
package extxyz

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/traj"
)

const defaultProperties = "species:S:1:pos:R:3"

// Format implements traj.Format.
type Format struct{}

// property is one entry of the Properties key.
type property struct {
	name  string
	kind  byte
	count int
	col   int
}

// Read implements traj.Format.
func (Format) Read(r io.Reader) ([]traj.Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var (
		frames []traj.Frame
		line   int
	)

	for sc.Scan() {
		line++
		head := strings.TrimSpace(sc.Text())
		if head == "" {
			continue
		}

		n, err := strconv.Atoi(head)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("line %d: invalid atom count %q", line, head)
		}

		if !sc.Scan() {
			return nil, fmt.Errorf("line %d: missing comment line", line)
		}
		line++

		fr, props, err := comment(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		fr.Config.Positions = make([][3]float64, n)
		var species, pos, forces *property
		for i := range props {
			switch props[i].name {
			case "species":
				species = &props[i]
			case "pos":
				pos = &props[i]
			case "forces", "force":
				forces = &props[i]
			}
		}
		if pos == nil || pos.count != 3 {
			return nil, fmt.Errorf("line %d: Properties has no pos:R:3 column", line)
		}
		if species != nil {
			fr.Config.Species = make([]string, n)
		}
		if forces != nil {
			fr.Forces = make([][3]float64, n)
		}

		cols := 0
		for _, p := range props {
			cols += p.count
		}

		for a := 0; a < n; a++ {
			if !sc.Scan() {
				return nil, fmt.Errorf("line %d: expected %d atoms, got %d", line, n, a)
			}
			line++

			fields := strings.Fields(sc.Text())
			if len(fields) != cols {
				return nil, fmt.Errorf("line %d: number of columns don't match", line)
			}

			if species != nil {
				fr.Config.Species[a] = fields[species.col]
			}
			fr.Config.Positions[a], err = vector(fields, pos.col)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if forces != nil {
				fr.Forces[a], err = vector(fields, forces.col)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", line, err)
				}
			}
		}

		frames = append(frames, fr)
	}

	if err := sc.Err(); err != nil {
		return nil, err
	}
	return frames, nil
}

// Write implements traj.Format.
func (Format) Write(w io.Writer, frames []traj.Frame) error {
	for i, fr := range frames {
		c := fr.Config
		if c.Species != nil && len(c.Species) != c.Len() {
			return fmt.Errorf("frame %d: %w", i, &atoms.ShapeMismatchError{What: "species", Want: c.Len(), Got: len(c.Species)})
		}
		if fr.Forces != nil && len(fr.Forces) != c.Len() {
			return fmt.Errorf("frame %d: %w", i, &atoms.ShapeMismatchError{What: "forces", Want: c.Len(), Got: len(fr.Forces)})
		}

		var b []byte
		b = strconv.AppendInt(b, int64(c.Len()), 10)
		b = append(b, '\n')

		b = append(b, `Lattice="`...)
		for k := 0; k < 3; k++ {
			for a := 0; a < 3; a++ {
				if k+a > 0 {
					b = append(b, ' ')
				}
				b = strconv.AppendFloat(b, c.Cell[k][a], 'g', -1, 64)
			}
		}
		b = append(b, `" Properties=species:S:1:pos:R:3`...)
		if fr.Forces != nil {
			b = append(b, ":forces:R:3"...)
		}
		if fr.HasEnergy {
			b = append(b, " energy="...)
			b = strconv.AppendFloat(b, fr.Energy, 'g', -1, 64)
		}
		b = append(b, ` pbc="`...)
		for k := 0; k < 3; k++ {
			if k > 0 {
				b = append(b, ' ')
			}
			if c.PBC[k] {
				b = append(b, 'T')
			} else {
				b = append(b, 'F')
			}
		}
		b = append(b, '"')

		keys := make([]string, 0, len(fr.Info))
		for k := range fr.Info {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b = append(b, ' ')
			b = append(b, k...)
			b = append(b, '=')
			b = append(b, quote(fr.Info[k])...)
		}
		b = append(b, '\n')

		for a, p := range c.Positions {
			sp := "X"
			if c.Species != nil {
				sp = c.Species[a]
			}
			b = append(b, sp...)
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

// comment parses the comment line of a frame.
func comment(s string) (traj.Frame, []property, error) {
	fr := traj.Frame{Config: &atoms.Config{}, Info: map[string]string{}}
	kv, err := pairs(s)
	if err != nil {
		return fr, nil, err
	}

	propStr := defaultProperties
	pbcSet := false
	for _, p := range kv {
		key, val := p[0], p[1]
		switch strings.ToLower(key) {
		case "lattice":
			f := strings.Fields(val)
			if len(f) != 9 {
				return fr, nil, fmt.Errorf("Lattice needs 9 values, got %d", len(f))
			}
			for i, v := range f {
				x, err := strconv.ParseFloat(v, 64)
				if err != nil {
					return fr, nil, fmt.Errorf("Lattice: %w", err)
				}
				fr.Config.Cell[i/3][i%3] = x
			}
			if !pbcSet {
				fr.Config.PBC = [3]bool{true, true, true}
			}
		case "properties":
			propStr = val
		case "energy":
			x, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return fr, nil, fmt.Errorf("energy: %w", err)
			}
			fr.Energy, fr.HasEnergy = x, true
		case "pbc":
			f := strings.Fields(val)
			if len(f) != 3 {
				return fr, nil, fmt.Errorf("pbc needs 3 values, got %d", len(f))
			}
			for k, v := range f {
				fr.Config.PBC[k] = v == "T" || v == "True" || v == "true" || v == "1"
			}
			pbcSet = true
		default:
			fr.Info[key] = val
		}
	}

	props, err := properties(propStr)
	return fr, props, err
}

// properties parses "name:type:count:name:type:count...".
func properties(s string) ([]property, error) {
	f := strings.Split(s, ":")
	if len(f)%3 != 0 {
		return nil, fmt.Errorf("malformed Properties %q", s)
	}

	var (
		out []property
		col int
	)
	for i := 0; i < len(f); i += 3 {
		n, err := strconv.Atoi(f[i+2])
		if err != nil || n <= 0 || len(f[i+1]) != 1 {
			return nil, fmt.Errorf("malformed Properties %q", s)
		}
		out = append(out, property{name: f[i], kind: f[i+1][0], count: n, col: col})
		col += n
	}
	return out, nil
}

// pairs splits a comment line into key=value pairs. Values may be quoted
// with double quotes, in which \" and \\ stand for a quote and a backslash.
// A key without value is set to "T".
func pairs(s string) ([][2]string, error) {
	var out [][2]string
	i := 0
	for {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i >= len(s) {
			return out, nil
		}

		start := i
		for i < len(s) && s[i] != '=' && s[i] != ' ' && s[i] != '\t' {
			i++
		}
		key := s[start:i]

		if i >= len(s) || s[i] != '=' {
			out = append(out, [2]string{key, "T"})
			continue
		}
		i++

		var val string
		if i < len(s) && s[i] == '"' {
			// Backslash escapes \" and \\ inside quoted values
			var sb strings.Builder
			closed := false
			for i++; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
					sb.WriteByte(s[i])
					continue
				}
				if s[i] == '"' {
					closed = true
					i++
					break
				}
				sb.WriteByte(s[i])
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quote for %s", key)
			}
			val = sb.String()
		} else {
			start = i
			for i < len(s) && s[i] != ' ' && s[i] != '\t' {
				i++
			}
			val = s[start:i]
		}
		out = append(out, [2]string{key, val})
	}
}

func vector(fields []string, col int) ([3]float64, error) {
	var v [3]float64
	for k := 0; k < 3; k++ {
		x, err := strconv.ParseFloat(fields[col+k], 64)
		if err != nil {
			return v, err
		}
		v[k] = x
	}
	return v, nil
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t=\"\\") {
		r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
		return `"` + r.Replace(s) + `"`
	}
	return s
}
