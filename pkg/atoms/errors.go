package atoms

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrNumericalDomain is returned when an input lies outside the domain
	// where the energy is defined (coincident atoms, non-positive cutoff,
	// singular cell, non-finite result).
	ErrNumericalDomain = errors.New("atoms: numerical domain error")

	// ErrShapeMismatch is returned when the lengths of related arrays differ.
	ErrShapeMismatch = errors.New("atoms: shape mismatch")
)

// NumericalDomainError describes a degenerate geometry or value. It is fatal
// for the evaluation that produced it.
type NumericalDomainError struct {
	Op     string
	Reason string
}

func (e *NumericalDomainError) Error() string {
	return fmt.Sprintf("%s: numerical domain error: %s", e.Op, e.Reason)
}

// Is makes errors.Is(err, ErrNumericalDomain) true.
func (e *NumericalDomainError) Is(target error) bool {
	return target == ErrNumericalDomain
}

// ShapeMismatchError is returned when an array does not have the expected
// length, e.g. species or mask not matching the number of positions.
type ShapeMismatchError struct {
	What string
	Want int
	Got  int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch: %s has length %d, want %d", e.What, e.Got, e.Want)
}

// Is makes errors.Is(err, ErrShapeMismatch) true.
func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// Domain returns a *NumericalDomainError.
func Domain(op, format string, args ...interface{}) error {
	return &NumericalDomainError{Op: op, Reason: fmt.Sprintf(format, args...)}
}
