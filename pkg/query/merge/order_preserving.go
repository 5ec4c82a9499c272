// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
	"github.com/cockroachdb/parallelquery/pkg/util/buildutil"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
)

// OrderPreservingMergeHelper spools every partition to completion and then
// merges the spooled partitions by key into one array.
type OrderPreservingMergeHelper[T, K any] struct {
	stream   *stream.PartitionedStream[T, K]
	group    *taskgroup.QueryTaskGroupState
	settings querysettings.Settings
	spooled  [][]stream.KeyedValue[T, K]
	results  Shared[[]T]

	awaitOnce sync.Once
	err       error
}

var _ mergeHelper[int] = (*OrderPreservingMergeHelper[int, stream.Ordinal])(nil)

// NewOrderPreservingMergeHelper returns a helper for s. Nothing runs until
// Execute.
func NewOrderPreservingMergeHelper[T, K any](
	s *stream.PartitionedStream[T, K],
	group *taskgroup.QueryTaskGroupState,
	settings querysettings.Settings,
) *OrderPreservingMergeHelper[T, K] {
	return &OrderPreservingMergeHelper[T, K]{
		stream:   s,
		group:    group,
		settings: settings,
		spooled:  make([][]stream.KeyedValue[T, K], s.PartitionCount()),
	}
}

// Execute launches the spooling tasks and returns without waiting for them.
func (h *OrderPreservingMergeHelper[T, K]) Execute() {
	spoolStopAndGo(h.group, h.stream, h.settings.DegreeOfParallelism, h.spooled)
}

// Results returns the cell the merged array is published into.
func (h *OrderPreservingMergeHelper[T, K]) Results() *Shared[[]T] {
	return &h.results
}

// await waits for the spool, merges and publishes. The result is published
// only if every task succeeded and the caller did not cancel.
func (h *OrderPreservingMergeHelper[T, K]) await() error {
	h.awaitOnce.Do(func() {
		if err := h.group.Wait(); err != nil {
			h.err = err
			return
		}
		checker := h.group.CancellationState().ExternalChecker()
		merged, err := mergeSpooled(h.spooled, h.stream.KeyComparer(),
			h.settings.HeapSelectionThreshold, &checker)
		h.spooled = nil
		if err != nil {
			if errors.Is(err, cancelchecker.ErrCanceled) {
				h.group.Metrics().RecordCancellation()
				err = errors.Mark(err, taskgroup.ErrQueryCanceled)
			}
			h.err = err
			return
		}
		h.group.Metrics().RecordElements(len(merged))
		h.results.Set(merged)
	})
	return h.err
}

// GetResultsAsArray waits for the merge and returns its result.
func (h *OrderPreservingMergeHelper[T, K]) GetResultsAsArray() ([]T, error) {
	if err := h.await(); err != nil {
		return nil, err
	}
	v, _ := h.results.Get()
	return v, nil
}

// GetEnumerator waits for the merge and returns an enumerator over its
// result.
func (h *OrderPreservingMergeHelper[T, K]) GetEnumerator() Enumerator[T] {
	v, err := h.GetResultsAsArray()
	if err != nil {
		return newErrEnumerator[T](err)
	}
	return newSliceEnumerator(v)
}

// Close waits for the spool.
func (h *OrderPreservingMergeHelper[T, K]) Close() error {
	return h.await()
}

// mergeSpooled k-way merges locally ordered partitions. Each step selects
// the partition with the smallest head key, lowest partition first on ties,
// emits its head and advances it.
func mergeSpooled[T, K any](
	parts [][]stream.KeyedValue[T, K],
	cmp stream.KeyComparer[K],
	heapThreshold int,
	checker *cancelchecker.Checker,
) ([]T, error) {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]T, 0, total)
	cursors := make([]int, len(parts))
	sel := newSelector[K](len(parts), heapThreshold, cmp)
	for p, part := range parts {
		if len(part) > 0 {
			sel.push(p, part[0].Key)
		}
	}
	var last K
	for i := uint64(0); ; i++ {
		if err := checker.Check(i); err != nil {
			return nil, err
		}
		p, ok := sel.pop()
		if !ok {
			break
		}
		e := parts[p][cursors[p]]
		if buildutil.Invariants && len(out) > 0 && cmp(last, e.Key) > 0 {
			return nil, errors.AssertionFailedf("merge emitted key %v after %v", e.Key, last)
		}
		last = e.Key
		out = append(out, e.Value)
		cursors[p]++
		if cursors[p] < len(parts[p]) {
			sel.push(p, parts[p][cursors[p]].Key)
		}
	}
	return out, nil
}
