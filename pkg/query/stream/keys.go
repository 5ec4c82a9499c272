// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stream

import (
	"cmp"

	"github.com/cockroachdb/redact"
)

// KeyComparer is a total order over keys. It returns a negative number if
// a < b, zero if a == b and a positive number if a > b. It must be
// transitive and antisymmetric; an inconsistent comparer silently corrupts
// merge output.
type KeyComparer[K any] func(a, b K) int

// Reverse returns a comparer ordering keys in the opposite direction, as used
// by descending sorts.
func Reverse[K any](c KeyComparer[K]) KeyComparer[K] {
	return func(a, b K) int { return c(b, a) }
}

// Ordinal is the position of an element in the logical order of the input.
type Ordinal int64

// CompareOrdinals is the KeyComparer for Ordinal keys.
func CompareOrdinals(a, b Ordinal) int {
	return cmp.Compare(a, b)
}

// PairKey is a composite key produced by operators nesting one ordering
// inside another, e.g. the element index within the group of an outer
// element. Pairs order lexicographically.
type PairKey struct {
	Major, Minor Ordinal
}

// ComparePairKeys is the KeyComparer for PairKey keys.
func ComparePairKeys(a, b PairKey) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}
	return cmp.Compare(a.Minor, b.Minor)
}

// SafeFormat implements redact.SafeFormatter.
func (p PairKey) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("(%d,%d)", p.Major, p.Minor)
}

// String implements fmt.Stringer.
func (p PairKey) String() string {
	return redact.StringWithoutMarkers(p)
}

// KeyedValue is an element of a partition together with its ordering key.
type KeyedValue[T, K any] struct {
	Key   K
	Value T
}
