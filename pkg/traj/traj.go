// Package traj reads and writes configurations together with their
// reference energies and forces. Each file format lives in a sub package and
// implements Format.
package traj

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
)

// Frame is one configuration of a trajectory.
type Frame struct {
	Config *atoms.Config

	// Energy is only meaningful when HasEnergy is set.
	Energy    float64
	HasEnergy bool

	// Forces may be nil.
	Forces [][3]float64

	// Info holds the remaining per frame metadata.
	Info map[string]string
}

// Format is a trajectory file format.
type Format interface {
	Read(r io.Reader) ([]Frame, error)
	Write(w io.Writer, frames []Frame) error
}

// ReadFile reads every frame of path.
func ReadFile(path string, f Format) ([]Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	frames, err := f.Read(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return frames, nil
}

// WriteFile writes frames into path.
func WriteFile(path string, f Format, frames []Frame) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(file)
	err = f.Write(w, frames)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
