// Package esmterr collects the error taxonomy described in spec.md §7:
// recoverable NotFound conditions are returned as sentinel errors (stdlib
// errors.Is-compatible, matching the teacher's own errors.New idiom in
// rStarTree.go - that part of the teacher's style needed no replacement),
// while DimensionUnsupported and InvariantBreach are fatal preconditions that
// panic rather than propagate, mirroring the teacher's CheckErr/log.Fatalf
// pattern for "indicates a bug, not a recoverable condition".
package esmterr

import "errors"

// ErrNotFound is returned by delete/update operations referencing an unknown
// key. It never mutates the tree.
var ErrNotFound = errors.New("esmt: not found")

// DimensionUnsupported is a fatal precondition violation: the Hilbert
// indexer was invoked with a dimensionality other than 2.
type DimensionUnsupported struct {
	Dim int
}

func (e *DimensionUnsupported) Error() string {
	return "esmt: dimension unsupported by hilbert indexer"
}

// InvariantBreach signals an internal assertion failure: a bug, not a
// recoverable condition. Breach panics with this type so callers that do
// want to observe it (tests, the partition manager's per-partition recover)
// can type-assert the recovered value.
type InvariantBreach struct {
	Msg string
}

func (e *InvariantBreach) Error() string {
	return "esmt: invariant breach: " + e.Msg
}

// Breach panics with an InvariantBreach carrying msg.
func Breach(msg string) {
	panic(&InvariantBreach{Msg: msg})
}

// UnsupportedDimension panics with a DimensionUnsupported carrying dim.
func UnsupportedDimension(dim int) {
	panic(&DimensionUnsupported{Dim: dim})
}
