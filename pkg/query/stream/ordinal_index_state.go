// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stream

import "fmt"

// OrdinalIndexState classifies how strongly the keys of a partitioned stream
// are known to reflect the logical order of its elements. States are ordered
// from best to worst.
type OrdinalIndexState uint8

const (
	// Indexable keys are the dense positions 0..n-1 of the elements.
	Indexable OrdinalIndexState = iota
	// Correct keys are not dense but order the elements correctly.
	Correct
	// Increasing keys only increase within each partition. They do not
	// relate elements of different partitions, so an order-preserving merge
	// is not possible.
	Increasing
	// Shuffled keys carry no ordering information.
	Shuffled
)

// String implements fmt.Stringer.
func (s OrdinalIndexState) String() string {
	switch s {
	case Indexable:
		return "indexable"
	case Correct:
		return "correct"
	case Increasing:
		return "increasing"
	case Shuffled:
		return "shuffled"
	default:
		return fmt.Sprintf("OrdinalIndexState(%d)", uint8(s))
	}
}

// IsWorseThan returns whether s provides weaker guarantees than other.
func (s OrdinalIndexState) IsWorseThan(other OrdinalIndexState) bool {
	return s > other
}

// Worse returns the weaker of two states. Operators combining streams use it
// to derive the state of their output.
func Worse(a, b OrdinalIndexState) OrdinalIndexState {
	if a.IsWorseThan(b) {
		return a
	}
	return b
}

// SupportsOrderPreservingMerge returns whether merging partitions by key is
// meaningful for a stream in this state.
func (s OrdinalIndexState) SupportsOrderPreservingMerge() bool {
	return !s.IsWorseThan(Correct)
}
