// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"container/heap"

	"github.com/cockroachdb/parallelquery/pkg/query/stream"
)

// selector picks, among the partitions that still have elements, the one
// whose head key is smallest. Equal keys are broken by the lowest partition
// index, which makes merges of equal keys reproducible.
type selector[K any] interface {
	// push registers k as the head key of partition p. p must not currently
	// be registered.
	push(p int, k K)
	// pop removes and returns the partition with the smallest head key.
	pop() (p int, ok bool)
}

// newSelector scans linearly for small partition counts, which is the
// common case since partitions are bounded by the degree of parallelism,
// and switches to a heap above threshold.
func newSelector[K any](n, threshold int, cmp stream.KeyComparer[K]) selector[K] {
	if n > threshold {
		return &heapSelector[K]{entries: make([]headEntry[K], 0, n), cmp: cmp}
	}
	return &linearSelector[K]{keys: make([]K, n), live: make([]bool, n), cmp: cmp}
}

type linearSelector[K any] struct {
	keys []K
	live []bool
	cmp  stream.KeyComparer[K]
}

func (s *linearSelector[K]) push(p int, k K) {
	s.keys[p] = k
	s.live[p] = true
}

func (s *linearSelector[K]) pop() (int, bool) {
	best := -1
	for p, live := range s.live {
		if !live {
			continue
		}
		// Strictly less keeps the lowest index on ties.
		if best < 0 || s.cmp(s.keys[p], s.keys[best]) < 0 {
			best = p
		}
	}
	if best < 0 {
		return 0, false
	}
	s.live[best] = false
	return best, true
}

type headEntry[K any] struct {
	partition int
	key       K
}

type heapSelector[K any] struct {
	entries []headEntry[K]
	cmp     stream.KeyComparer[K]
}

var _ heap.Interface = (*heapSelector[int])(nil)

// Len is part of heap.Interface.
func (h *heapSelector[K]) Len() int {
	return len(h.entries)
}

// Less is part of heap.Interface.
func (h *heapSelector[K]) Less(i, j int) bool {
	if c := h.cmp(h.entries[i].key, h.entries[j].key); c != 0 {
		return c < 0
	}
	return h.entries[i].partition < h.entries[j].partition
}

// Swap is part of heap.Interface.
func (h *heapSelector[K]) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
}

// Push is part of heap.Interface.
func (h *heapSelector[K]) Push(x interface{}) {
	h.entries = append(h.entries, x.(headEntry[K]))
}

// Pop is part of heap.Interface.
func (h *heapSelector[K]) Pop() interface{} {
	n := len(h.entries)
	e := h.entries[n-1]
	h.entries = h.entries[:n-1]
	return e
}

func (h *heapSelector[K]) push(p int, k K) {
	heap.Push(h, headEntry[K]{partition: p, key: k})
}

func (h *heapSelector[K]) pop() (int, bool) {
	if len(h.entries) == 0 {
		return 0, false
	}
	return heap.Pop(h).(headEntry[K]).partition, true
}
