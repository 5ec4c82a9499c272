// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
	"github.com/cockroachdb/parallelquery/pkg/util/timeutil"
)

// UnorderedMergeHelper combines partitions without regard to key order.
// Pipelined, producers share one bounded channel and elements are delivered
// in arrival order. Stop-and-go, the spooled partitions are concatenated in
// partition order.
type UnorderedMergeHelper[T, K any] struct {
	stream    *stream.PartitionedStream[T, K]
	group     *taskgroup.QueryTaskGroupState
	settings  querysettings.Settings
	pipelined bool
	results   Shared[[]T]

	// Pipelined.
	out       chan T
	handedOut syncutil.AtomicBool

	// Stop-and-go.
	spooled   [][]stream.KeyedValue[T, K]
	awaitOnce sync.Once
	err       error
}

var _ mergeHelper[int] = (*UnorderedMergeHelper[int, stream.Ordinal])(nil)

// NewUnorderedMergeHelper returns a helper for s. Nothing runs until
// Execute.
func NewUnorderedMergeHelper[T, K any](
	s *stream.PartitionedStream[T, K],
	group *taskgroup.QueryTaskGroupState,
	settings querysettings.Settings,
) *UnorderedMergeHelper[T, K] {
	return &UnorderedMergeHelper[T, K]{
		stream:    s,
		group:     group,
		settings:  settings,
		pipelined: settings.Pipelined(),
	}
}

// Execute launches the producing tasks.
func (h *UnorderedMergeHelper[T, K]) Execute() {
	dop := h.settings.DegreeOfParallelism
	if !h.pipelined {
		h.spooled = make([][]stream.KeyedValue[T, K], h.stream.PartitionCount())
		spoolStopAndGo(h.group, h.stream, dop, h.spooled)
		return
	}

	h.out = make(chan T, h.settings.EffectiveBufferSize())
	metrics := h.group.Metrics()
	runPartitions(h.group, h.stream.PartitionCount(), dop, func(
		ctx context.Context, checker *cancelchecker.Checker, p int,
	) error {
		start := timeutil.Now()
		part := h.stream.Partition(p)
		for i := uint64(0); ; i++ {
			if err := checker.Check(i); err != nil {
				return err
			}
			_, v, ok, err := part.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				metrics.RecordPartitionSpooled(timeutil.Since(start))
				return nil
			}
			select {
			case h.out <- v:
			case <-ctx.Done():
				return checker.CheckNow()
			}
		}
	})
	go func() {
		_ = h.group.Wait()
		close(h.out)
	}()
}

func (h *UnorderedMergeHelper[T, K]) await() error {
	h.awaitOnce.Do(func() {
		if err := h.group.Wait(); err != nil {
			h.err = err
			return
		}
		total := 0
		for _, part := range h.spooled {
			total += len(part)
		}
		out := make([]T, 0, total)
		checker := h.group.CancellationState().ExternalChecker()
		for _, part := range h.spooled {
			if err := checker.CheckNow(); err != nil {
				h.group.Metrics().RecordCancellation()
				h.err = errors.Mark(err, taskgroup.ErrQueryCanceled)
				return
			}
			for _, kv := range part {
				out = append(out, kv.Value)
			}
		}
		h.spooled = nil
		h.group.Metrics().RecordElements(len(out))
		h.results.Set(out)
	})
	return h.err
}

// GetEnumerator returns an enumerator over the merged elements. A pipelined
// merge has only one enumerator; later calls return an enumerator failing
// with an assertion error.
func (h *UnorderedMergeHelper[T, K]) GetEnumerator() Enumerator[T] {
	if !h.pipelined {
		v, err := h.GetResultsAsArray()
		if err != nil {
			return newErrEnumerator[T](err)
		}
		return newSliceEnumerator(v)
	}
	if !h.handedOut.CompareAndSwap(false, true) {
		return newErrEnumerator[T](errors.AssertionFailedf("merge enumerator requested twice"))
	}
	return &unorderedPipeliningEnumerator[T, K]{h: h, checker: h.group.CancellationState().Checker()}
}

// GetResultsAsArray returns every merged element.
func (h *UnorderedMergeHelper[T, K]) GetResultsAsArray() ([]T, error) {
	if h.pipelined {
		return collectAndPublish(h.GetEnumerator(), &h.results)
	}
	if err := h.await(); err != nil {
		return nil, err
	}
	v, _ := h.results.Get()
	return v, nil
}

// Results returns the cell the merged array is published into.
func (h *UnorderedMergeHelper[T, K]) Results() *Shared[[]T] {
	return &h.results
}

// Close waits for the producers, stopping them first if the merge is
// pipelined.
func (h *UnorderedMergeHelper[T, K]) Close() error {
	if !h.pipelined {
		return h.await()
	}
	h.group.CancellationState().Cancel(errConsumerClosed)
	return h.group.Wait()
}

type unorderedPipeliningEnumerator[T, K any] struct {
	h       *UnorderedMergeHelper[T, K]
	checker cancelchecker.Checker
	count   uint64
	emitted int
	done    bool
	cur     T
	err     error
}

func (e *unorderedPipeliningEnumerator[T, K]) Next() bool {
	if e.done {
		return false
	}
	if err := e.checker.Check(e.count); err != nil {
		return e.abort()
	}
	e.count++
	v, ok := <-e.h.out
	if !ok {
		// The channel closes once every producer has returned.
		e.done = true
		e.err = e.h.group.Wait()
		e.h.group.Metrics().RecordElements(e.emitted)
		return false
	}
	if e.h.group.CancellationState().Canceled() {
		return e.abort()
	}
	e.cur = v
	e.emitted++
	return true
}

func (e *unorderedPipeliningEnumerator[T, K]) abort() bool {
	e.done = true
	e.err = e.h.group.Wait()
	if e.err == nil {
		e.err = errors.Wrap(cancelchecker.ErrCanceled, "merge aborted")
	}
	return false
}

func (e *unorderedPipeliningEnumerator[T, K]) Current() T {
	return e.cur
}

func (e *unorderedPipeliningEnumerator[T, K]) Err() error {
	return e.err
}

func (e *unorderedPipeliningEnumerator[T, K]) Close() error {
	if !e.done {
		e.done = true
		e.h.group.Metrics().RecordElements(e.emitted)
	}
	return e.h.Close()
}
