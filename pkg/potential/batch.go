package potential

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/params"
)

// Batch is a set of configurations padded to the same number of atoms.
// Mask[m][i] is 1 for a real atom and 0 for padding. Padded atoms are placed
// at the origin and take the species of the first atom; they are removed
// from every pair term through the mask, never through their coordinates.
type Batch struct {
	Configs []*atoms.Config
	Mask    [][]float64
	Counts  []int
}

// NewBatch pads cfgs to the largest atom count.
func NewBatch(cfgs []*atoms.Config) *Batch {
	var size int
	for _, c := range cfgs {
		if c.Len() > size {
			size = c.Len()
		}
	}

	b := &Batch{
		Configs: make([]*atoms.Config, len(cfgs)),
		Mask:    make([][]float64, len(cfgs)),
		Counts:  make([]int, len(cfgs)),
	}

	for m, c := range cfgs {
		n := c.Len()
		pc := &atoms.Config{Cell: c.Cell, PBC: c.PBC}
		pc.Positions = make([][3]float64, size)
		copy(pc.Positions, c.Positions)

		if c.Species != nil {
			pc.Species = make([]string, size)
			copy(pc.Species, c.Species)
			for i := n; i < size && n > 0; i++ {
				pc.Species[i] = c.Species[0]
			}
		}

		mask := make([]float64, size)
		for i := 0; i < n; i++ {
			mask[i] = 1
		}

		b.Configs[m] = pc
		b.Mask[m] = mask
		b.Counts[m] = n
	}

	return b
}

// Len returns the number of configurations.
func (b *Batch) Len() int {
	return len(b.Configs)
}

// EvaluateBatch evaluates every configuration of b with the same parameters
// on at most workers goroutines (GOMAXPROCS when workers <= 0). Forces of
// padded atoms are zero.
func EvaluateBatch(m Model, b *Batch, p params.Params, props Property, workers int) ([]*Result, error) {
	out := make([]*Result, b.Len())
	err := Parallel(b.Len(), workers, func(i int) error {
		r, err := evaluate(m, b.Configs[i], b.Mask[i], p, props)
		if err != nil {
			return fmt.Errorf("configuration %d: %w", i, err)
		}
		out[i] = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SensitivitiesBatch is the batched form of Sensitivities.
func SensitivitiesBatch(m Model, b *Batch, p params.Params, names []string, withForces bool, workers int) ([]*Sensitivity, error) {
	out := make([]*Sensitivity, b.Len())
	err := Parallel(b.Len(), workers, func(i int) error {
		s, err := sensitivities(m, b.Configs[i], b.Mask[i], p, names, withForces)
		if err != nil {
			return fmt.Errorf("configuration %d: %w", i, err)
		}
		out[i] = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Parallel calls fn for every index in [0, n) on at most workers goroutines
// and returns the first error. Indices are handed out one at a time so that
// configurations of very different sizes balance across workers.
func Parallel(n, workers int, fn func(i int) error) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)

	jobs := make(chan int)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				err := fn(i)
				if err != nil {
					mu.Lock()
					if first == nil {
						first = err
					}
					mu.Unlock()
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return first
}
