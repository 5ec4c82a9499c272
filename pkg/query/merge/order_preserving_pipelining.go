// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
	"github.com/cockroachdb/parallelquery/pkg/util/buildutil"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
)

// errConsumerClosed is the cancellation cause recorded when the consumer
// closes a pipelined merge before it is exhausted.
var errConsumerClosed = errors.New("merge closed by consumer")

// OrderPreservingPipeliningMergeHelper merges partitions by key while their
// producers are still running. Each producer fills a bounded channel; the
// enumerator performs one selection step per Next, so a consumer that stops
// early leaves the remaining elements unproduced.
type OrderPreservingPipeliningMergeHelper[T, K any] struct {
	stream   *stream.PartitionedStream[T, K]
	group    *taskgroup.QueryTaskGroupState
	settings querysettings.Settings
	pipeline *pipeline[T, K]
	results  Shared[[]T]

	handedOut syncutil.AtomicBool
}

var _ mergeHelper[int] = (*OrderPreservingPipeliningMergeHelper[int, stream.Ordinal])(nil)

// NewOrderPreservingPipeliningMergeHelper returns a helper for s. Nothing
// runs until Execute.
func NewOrderPreservingPipeliningMergeHelper[T, K any](
	s *stream.PartitionedStream[T, K],
	group *taskgroup.QueryTaskGroupState,
	settings querysettings.Settings,
) *OrderPreservingPipeliningMergeHelper[T, K] {
	return &OrderPreservingPipeliningMergeHelper[T, K]{stream: s, group: group, settings: settings}
}

// Execute starts the producers.
func (h *OrderPreservingPipeliningMergeHelper[T, K]) Execute() {
	h.pipeline = startPipelinedProducers(h.group, h.stream, h.settings.EffectiveBufferSize())
}

// GetEnumerator returns the merge's only enumerator. Later calls return an
// enumerator failing with an assertion error.
func (h *OrderPreservingPipeliningMergeHelper[T, K]) GetEnumerator() Enumerator[T] {
	if !h.handedOut.CompareAndSwap(false, true) {
		return newErrEnumerator[T](errors.AssertionFailedf("merge enumerator requested twice"))
	}
	n := h.stream.PartitionCount()
	return &orderedPipeliningEnumerator[T, K]{
		h:       h,
		sel:     newSelector[K](n, h.settings.HeapSelectionThreshold, h.stream.KeyComparer()),
		heads:   make([]stream.KeyedValue[T, K], n),
		last:    -1,
		checker: h.group.CancellationState().Checker(),
	}
}

// GetResultsAsArray drains the enumerator and publishes the result.
func (h *OrderPreservingPipeliningMergeHelper[T, K]) GetResultsAsArray() ([]T, error) {
	return collectAndPublish(h.GetEnumerator(), &h.results)
}

// Results returns the cell GetResultsAsArray publishes into.
func (h *OrderPreservingPipeliningMergeHelper[T, K]) Results() *Shared[[]T] {
	return &h.results
}

// Close stops producers that are still running and waits for them. It
// reports faults but not the cancellation it causes.
func (h *OrderPreservingPipeliningMergeHelper[T, K]) Close() error {
	h.group.CancellationState().Cancel(errConsumerClosed)
	return h.group.Wait()
}

type orderedPipeliningEnumerator[T, K any] struct {
	h       *OrderPreservingPipeliningMergeHelper[T, K]
	sel     selector[K]
	heads   []stream.KeyedValue[T, K]
	checker cancelchecker.Checker
	// last is the partition whose head was emitted by the previous Next and
	// must be refilled, or -1 before the first Next.
	last    int
	count   uint64
	started bool
	done    bool
	emitted int
	cur     T
	lastKey K
	err     error
}

func (e *orderedPipeliningEnumerator[T, K]) Next() bool {
	if e.done {
		return false
	}
	if err := e.checker.Check(e.count); err != nil {
		return e.abort()
	}
	e.count++
	if !e.started {
		e.started = true
		for p := range e.heads {
			if !e.receive(p) {
				return false
			}
		}
	} else if e.last >= 0 {
		if !e.receive(e.last) {
			return false
		}
	}
	p, ok := e.sel.pop()
	if !ok {
		e.finish()
		return false
	}
	head := e.heads[p]
	if buildutil.Invariants && e.emitted > 0 && e.h.stream.Compare(e.lastKey, head.Key) > 0 {
		e.err = errors.AssertionFailedf("merge emitted key %v after %v", head.Key, e.lastKey)
		e.done = true
		return false
	}
	e.cur, e.lastKey, e.last = head.Value, head.Key, p
	e.emitted++
	return true
}

// receive refills the head of partition p. It returns false if the merge
// ended because the query failed or was canceled.
func (e *orderedPipeliningEnumerator[T, K]) receive(p int) bool {
	select {
	case kv, ok := <-e.h.pipeline.chans[p]:
		if ok {
			e.heads[p] = kv
			e.sel.push(p, kv.Key)
			return true
		}
		if e.h.pipeline.finished[p].Get() {
			return true
		}
		return e.abort()
	case <-e.h.group.Context().Done():
		return e.abort()
	}
}

// finish completes a fully drained merge.
func (e *orderedPipeliningEnumerator[T, K]) finish() {
	e.done = true
	e.err = e.h.group.Wait()
	e.h.group.Metrics().RecordElements(e.emitted)
}

// abort ends a merge whose producers were stopped, reporting the group's
// error. It always returns false.
func (e *orderedPipeliningEnumerator[T, K]) abort() bool {
	e.done = true
	e.err = e.h.group.Wait()
	if e.err == nil {
		e.err = errors.Wrap(cancelchecker.ErrCanceled, "merge aborted")
	}
	return false
}

func (e *orderedPipeliningEnumerator[T, K]) Current() T {
	return e.cur
}

func (e *orderedPipeliningEnumerator[T, K]) Err() error {
	return e.err
}

func (e *orderedPipeliningEnumerator[T, K]) Close() error {
	if !e.done {
		e.done = true
		e.h.group.Metrics().RecordElements(e.emitted)
	}
	return e.h.Close()
}

// collectAndPublish drains e into an array and publishes it into results if
// the merge completed.
func collectAndPublish[T any](e Enumerator[T], results *Shared[[]T]) ([]T, error) {
	out, err := Collect(e)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	results.Set(out)
	return out, nil
}
