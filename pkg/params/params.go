// Package params holds the named scalar parameters of a potential and their
// text persistence.
package params

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrMissing is returned when a parameter is required but absent.
var ErrMissing = errors.New("params: missing parameter")

// Params maps a parameter name to its value, e.g. {"epsilon": 0.0103,
// "sigma": 3.4}. It is owned by the training loop and must not change while
// an evaluation is running.
type Params map[string]float64

// Names returns the parameter names sorted alphabetically.
func (p Params) Names() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the value of name or an error wrapping ErrMissing.
func (p Params) Get(name string) (float64, error) {
	v, ok := p[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	return v, nil
}

// Clone returns a copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Merge returns a copy of p overwritten by the values of o.
func (p Params) Merge(o Params) Params {
	out := p.Clone()
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Vector returns the values of names in order.
func (p Params) Vector(names []string) ([]float64, error) {
	out := make([]float64, len(names))
	for i, n := range names {
		v, err := p.Get(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// WithVector returns a copy of p where names take the values of x.
func (p Params) WithVector(names []string, x []float64) Params {
	out := p.Clone()
	for i, n := range names {
		out[n] = x[i]
	}
	return out
}

// Encode writes p as a YAML mapping. Floats are written with the shortest
// representation that parses back to the same value.
func (p Params) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	err := enc.Encode(map[string]float64(p))
	if err != nil {
		return err
	}
	return enc.Close()
}

// Decode reads a YAML mapping written by Encode.
func Decode(r io.Reader) (Params, error) {
	var p Params
	dec := yaml.NewDecoder(r)
	err := dec.Decode(&p)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Params{}, nil
		}
		return nil, err
	}
	if p == nil {
		p = Params{}
	}
	return p, nil
}

// Save writes p into path.
func (p Params) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	err = p.Encode(w)
	if err != nil {
		f.Close()
		return fmt.Errorf("Encode: %w", err)
	}

	err = w.Flush()
	if err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Load reads the parameters stored in path.
func Load(path string) (Params, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p, err := Decode(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return p, nil
}
