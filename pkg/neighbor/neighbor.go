// Package neighbor builds the pair distance set of a configuration: every
// ordered pair of atoms, including periodic images, closer than a cutoff.
package neighbor

import (
	"math"

	"github.com/Senhongl/differentiable-atomistic-potentials/pkg/atoms"
)

// MinDistance is the smallest pair distance accepted. Closer pairs are
// treated as coincident atoms.
const MinDistance = 1e-8

// Pair is an ordered pair. The displacement from I to the image of J is
// r_J - r_I + Shift[0]·a1 + Shift[1]·a2 + Shift[2]·a3.
type Pair struct {
	I, J  int
	Shift [3]int
}

// List is the pair distance set of one configuration. It lists both i→j and
// j→i, so a sum over the list counts every interaction twice. Self images
// (I == J with a non zero shift) are included for periodic cells.
type List struct {
	Cutoff float64
	Pairs  []Pair

	// Dist holds the real distance of each pair.
	Dist []float64
}

// Build enumerates the pairs of c within cutoff. Atoms with a zero mask
// entry are left out entirely; mask may be nil.
func Build(c *atoms.Config, mask []float64, cutoff float64) (*List, error) {
	if !(cutoff > 0) || math.IsInf(cutoff, 0) {
		return nil, atoms.Domain("neighbor.Build", "cutoff must be positive and finite, got %g", cutoff)
	}

	err := c.Validate(mask)
	if err != nil {
		return nil, err
	}

	var (
		inv   [3][3]float64
		reach [3]int
	)

	if c.Periodic() {
		inv, err = c.Inverse()
		if err != nil {
			return nil, err
		}

		// Number of images needed along each periodic axis: the cutoff
		// divided by the spacing between lattice planes.
		vol := c.Volume()
		for k := 0; k < 3; k++ {
			if !c.PBC[k] {
				continue
			}
			area := norm(cross(c.Cell[(k+1)%3], c.Cell[(k+2)%3]))
			reach[k] = int(math.Ceil(cutoff * area / vol))
		}
	}

	l := &List{Cutoff: cutoff}
	n := c.Len()
	keep := func(i int) bool { return mask == nil || mask[i] != 0 }

	for i := 0; i < n; i++ {
		if !keep(i) {
			continue
		}

		for j := 0; j < n; j++ {
			if !keep(j) {
				continue
			}

			d := sub(c.Positions[j], c.Positions[i])

			// Minimum image in fractional coordinates, then scan around it.
			var base [3]int
			if c.Periodic() {
				for k := 0; k < 3; k++ {
					if !c.PBC[k] {
						continue
					}
					f := d[0]*inv[0][k] + d[1]*inv[1][k] + d[2]*inv[2][k]
					base[k] = -int(math.Round(f))
				}
			}

			for s0 := base[0] - reach[0]; s0 <= base[0]+reach[0]; s0++ {
				for s1 := base[1] - reach[1]; s1 <= base[1]+reach[1]; s1++ {
					for s2 := base[2] - reach[2]; s2 <= base[2]+reach[2]; s2++ {
						if i == j && s0 == 0 && s1 == 0 && s2 == 0 {
							continue
						}

						shift := [3]int{s0, s1, s2}
						r := norm(Displacement(c, i, j, shift))
						if r > cutoff {
							continue
						}
						if r < MinDistance {
							return nil, atoms.Domain("neighbor.Build", "atoms %d and %d coincide (r=%g)", i, j, r)
						}

						l.Pairs = append(l.Pairs, Pair{I: i, J: j, Shift: shift})
						l.Dist = append(l.Dist, r)
					}
				}
			}
		}
	}

	return l, nil
}

// Displacement returns the real displacement vector of the pair (i, j, shift).
func Displacement(c *atoms.Config, i, j int, shift [3]int) [3]float64 {
	d := sub(c.Positions[j], c.Positions[i])
	for k := 0; k < 3; k++ {
		if shift[k] == 0 {
			continue
		}
		for a := 0; a < 3; a++ {
			d[a] += float64(shift[k]) * c.Cell[k][a]
		}
	}
	return d
}

// Neighbors returns, for each atom, the indices into l.Pairs of the pairs
// it is the first member of.
func (l *List) Neighbors(n int) [][]int {
	out := make([][]int, n)
	for p, pair := range l.Pairs {
		out[pair.I] = append(out[pair.I], p)
	}
	return out
}

func sub(a, b [3]float64) [3]float64 {
	return [3]float64{a[0] - b[0], a[1] - b[1], a[2] - b[2]}
}

func cross(a, b [3]float64) [3]float64 {
	return [3]float64{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}
