// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package stream

import "context"

// Partition is one of the ordered channels of a PartitionedStream. Next
// returns the next element and its key, or ok=false once the partition is
// exhausted. Keys must be non-decreasing; this is a precondition, not a
// checked property, outside of invariants builds.
//
// A Partition is owned by exactly one goroutine at a time.
type Partition[T, K any] interface {
	Next(ctx context.Context) (key K, value T, ok bool, err error)
}

// SlicePartition is a Partition over pre-materialized elements.
type SlicePartition[T, K any] struct {
	elems []KeyedValue[T, K]
	pos   int
}

var _ Partition[int, Ordinal] = (*SlicePartition[int, Ordinal])(nil)

// NewSlicePartition returns a Partition yielding elems in order.
func NewSlicePartition[T, K any](elems []KeyedValue[T, K]) *SlicePartition[T, K] {
	return &SlicePartition[T, K]{elems: elems}
}

// Next is part of the Partition interface.
func (p *SlicePartition[T, K]) Next(context.Context) (key K, value T, ok bool, err error) {
	if p.pos >= len(p.elems) {
		return key, value, false, nil
	}
	e := p.elems[p.pos]
	p.pos++
	return e.Key, e.Value, true, nil
}

// FuncPartition adapts a generator function to the Partition interface.
type FuncPartition[T, K any] func(ctx context.Context) (key K, value T, ok bool, err error)

// Next is part of the Partition interface.
func (f FuncPartition[T, K]) Next(ctx context.Context) (key K, value T, ok bool, err error) {
	return f(ctx)
}

// rangePartition walks values[start:end) yielding the index as the key.
type rangePartition[T any] struct {
	values     []T
	start, end int
}

func (p *rangePartition[T]) Next(context.Context) (key Ordinal, value T, ok bool, err error) {
	if p.start >= p.end {
		return 0, value, false, nil
	}
	i := p.start
	p.start++
	return Ordinal(i), p.values[i], true, nil
}

// stripedPartition yields every stride-th element starting at offset.
type stripedPartition[T any] struct {
	values []T
	next   int
	stride int
}

func (p *stripedPartition[T]) Next(context.Context) (key Ordinal, value T, ok bool, err error) {
	if p.next >= len(p.values) {
		return 0, value, false, nil
	}
	i := p.next
	p.next += p.stride
	return Ordinal(i), p.values[i], true, nil
}

// PartitionSlice range-partitions values into n contiguous chunks keyed by
// element index. Chunk sizes differ by at most one.
func PartitionSlice[T any](values []T, n int) *PartitionedStream[T, Ordinal] {
	if n < 1 {
		n = 1
	}
	parts := make([]Partition[T, Ordinal], n)
	size, extra := len(values)/n, len(values)%n
	start := 0
	for i := range parts {
		end := start + size
		if i < extra {
			end++
		}
		parts[i] = &rangePartition[T]{values: values, start: start, end: end}
		start = end
	}
	return NewPartitionedStream(parts, CompareOrdinals, Indexable)
}

// PartitionStriped distributes values round-robin over n partitions keyed by
// element index.
func PartitionStriped[T any](values []T, n int) *PartitionedStream[T, Ordinal] {
	if n < 1 {
		n = 1
	}
	parts := make([]Partition[T, Ordinal], n)
	for i := range parts {
		parts[i] = &stripedPartition[T]{values: values, next: i, stride: n}
	}
	return NewPartitionedStream(parts, CompareOrdinals, Indexable)
}
