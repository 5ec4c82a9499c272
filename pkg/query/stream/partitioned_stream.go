// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package stream defines the data-flow unit handed from a partitioning stage
// to the merge layer: a fixed set of locally ordered partitions plus the
// information needed to reconcile them into one order.
package stream

import (
	"context"

	"github.com/cockroachdb/errors"
)

// PartitionedStream is a fixed set of partitions, a comparer over their keys
// and the ordinal index state describing what the keys guarantee. Global
// order is defined by comparing keys across partitions, never by partition
// index. A PartitionedStream is immutable once constructed.
type PartitionedStream[T, K any] struct {
	partitions []Partition[T, K]
	cmp        KeyComparer[K]
	state      OrdinalIndexState
}

// NewPartitionedStream returns a stream over partitions. The slice is copied.
func NewPartitionedStream[T, K any](
	partitions []Partition[T, K], cmp KeyComparer[K], state OrdinalIndexState,
) *PartitionedStream[T, K] {
	if cmp == nil {
		panic(errors.AssertionFailedf("partitioned stream requires a key comparer"))
	}
	if len(partitions) == 0 {
		panic(errors.AssertionFailedf("partitioned stream requires at least one partition"))
	}
	return &PartitionedStream[T, K]{
		partitions: append([]Partition[T, K](nil), partitions...),
		cmp:        cmp,
		state:      state,
	}
}

// FromKeyedSlices builds a stream with one SlicePartition per slice.
func FromKeyedSlices[T, K any](
	cmp KeyComparer[K], state OrdinalIndexState, slices ...[]KeyedValue[T, K],
) *PartitionedStream[T, K] {
	parts := make([]Partition[T, K], len(slices))
	for i, s := range slices {
		parts[i] = NewSlicePartition(s)
	}
	return NewPartitionedStream(parts, cmp, state)
}

// PartitionCount returns the number of partitions.
func (s *PartitionedStream[T, K]) PartitionCount() int {
	return len(s.partitions)
}

// Partition returns the i-th partition.
func (s *PartitionedStream[T, K]) Partition(i int) Partition[T, K] {
	return s.partitions[i]
}

// KeyComparer returns the comparer over the stream's keys.
func (s *PartitionedStream[T, K]) KeyComparer() KeyComparer[K] {
	return s.cmp
}

// Compare orders two keys of the stream.
func (s *PartitionedStream[T, K]) Compare(a, b K) int {
	return s.cmp(a, b)
}

// OrdinalIndexState returns what the stream's keys guarantee.
func (s *PartitionedStream[T, K]) OrdinalIndexState() OrdinalIndexState {
	return s.state
}

// Any is a PartitionedStream whose key type has been erased. Every
// *PartitionedStream[T, K] implements it, which lets a stage that does not
// know K hand the stream to one that does.
type Any[T any] interface {
	PartitionCount() int
	OrdinalIndexState() OrdinalIndexState
	// Accept dispatches the stream, with its key type restored, to r.
	Accept(r Recipient[T])
}

// Recipient receives a partitioned stream whose key type is known only to
// the sender. Go methods cannot introduce type parameters, so the common key
// types get their own method and every other key type arrives boxed.
type Recipient[T any] interface {
	ReceiveOrdinal(s *PartitionedStream[T, Ordinal])
	ReceivePairKey(s *PartitionedStream[T, PairKey])
	ReceiveAny(s *PartitionedStream[T, any])
}

var _ Any[int] = (*PartitionedStream[int, Ordinal])(nil)

// Accept is part of the Any interface.
func (s *PartitionedStream[T, K]) Accept(r Recipient[T]) {
	switch ts := any(s).(type) {
	case *PartitionedStream[T, Ordinal]:
		r.ReceiveOrdinal(ts)
	case *PartitionedStream[T, PairKey]:
		r.ReceivePairKey(ts)
	case *PartitionedStream[T, any]:
		r.ReceiveAny(ts)
	default:
		r.ReceiveAny(s.boxed())
	}
}

// boxed converts the stream to one with interface keys. The comparer
// unboxes, so only keys produced by this stream may be compared.
func (s *PartitionedStream[T, K]) boxed() *PartitionedStream[T, any] {
	parts := make([]Partition[T, any], len(s.partitions))
	for i, p := range s.partitions {
		parts[i] = boxedPartition[T, K]{p: p}
	}
	cmp := s.cmp
	return &PartitionedStream[T, any]{
		partitions: parts,
		cmp:        func(a, b any) int { return cmp(a.(K), b.(K)) },
		state:      s.state,
	}
}

type boxedPartition[T, K any] struct {
	p Partition[T, K]
}

func (b boxedPartition[T, K]) Next(ctx context.Context) (key any, value T, ok bool, err error) {
	k, v, ok, err := b.p.Next(ctx)
	if !ok || err != nil {
		return nil, v, ok, err
	}
	return k, v, true, nil
}
