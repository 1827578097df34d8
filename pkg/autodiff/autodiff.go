// Package autodiff provides the small vector algebra used by the energy
// expressions on top of gonum hyperdual numbers.
//
// A hyperdual number x + a·e1 + b·e2 + c·e1e2 carries two independent first
// derivatives (a, b) and their mixed second derivative (c). Seeding one input
// with e1 and another with e2 and evaluating an expression once yields
// ∂f/∂u, ∂f/∂v and ∂²f/∂u∂v exactly, without any hand-written gradient.
package autodiff

import (
	"gonum.org/v1/gonum/num/hyperdual"
)

// Num is the scalar every energy expression is written in.
type Num = hyperdual.Number

// Vec is a 3-vector of hyperdual numbers.
type Vec [3]Num

// Part selects which infinitesimal part a seed sets.
type Part int

// Infinitesimal parts.
const (
	None Part = iota
	E1
	E2
)

// Const returns x without infinitesimal parts.
func Const(x float64) Num {
	return Num{Real: x}
}

// Seed returns x with the given infinitesimal part set to one.
func Seed(x float64, p Part) Num {
	n := Num{Real: x}
	switch p {
	case E1:
		n.E1mag = 1
	case E2:
		n.E2mag = 1
	}
	return n
}

// ConstVec lifts v.
func ConstVec(v [3]float64) Vec {
	return Vec{Const(v[0]), Const(v[1]), Const(v[2])}
}

// Add returns a+b.
func Add(a, b Vec) Vec {
	return Vec{hyperdual.Add(a[0], b[0]), hyperdual.Add(a[1], b[1]), hyperdual.Add(a[2], b[2])}
}

// Sub returns a-b.
func Sub(a, b Vec) Vec {
	return Vec{hyperdual.Sub(a[0], b[0]), hyperdual.Sub(a[1], b[1]), hyperdual.Sub(a[2], b[2])}
}

// Scale returns f·v for a real f.
func Scale(f float64, v Vec) Vec {
	return Vec{hyperdual.Scale(f, v[0]), hyperdual.Scale(f, v[1]), hyperdual.Scale(f, v[2])}
}

// Dot returns a·b.
func Dot(a, b Vec) Num {
	s := hyperdual.Mul(a[0], b[0])
	s = hyperdual.Add(s, hyperdual.Mul(a[1], b[1]))
	return hyperdual.Add(s, hyperdual.Mul(a[2], b[2]))
}

// Norm returns |v|. It is not differentiable at v = 0.
func Norm(v Vec) Num {
	return hyperdual.Sqrt(Dot(v, v))
}

// Deform returns (I+eps)·v.
func Deform(eps *[3][3]Num, v Vec) Vec {
	var out Vec
	for a := 0; a < 3; a++ {
		out[a] = v[a]
		for b := 0; b < 3; b++ {
			out[a] = hyperdual.Add(out[a], hyperdual.Mul(eps[a][b], v[b]))
		}
	}
	return out
}

// Real returns the real parts of v.
func Real(v Vec) [3]float64 {
	return [3]float64{v[0].Real, v[1].Real, v[2].Real}
}
