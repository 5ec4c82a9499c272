// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package merge combines the partitions of a PartitionedStream into the
// single result handed to the consumer. Depending on the query it preserves
// key order or not, materializes everything before the first element is
// returned or streams elements while partitions are still being produced,
// and may merely drain partitions for their side effects.
package merge

import (
	"context"

	"github.com/cockroachdb/parallelquery/pkg/query/querymetrics"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
	"github.com/cockroachdb/parallelquery/pkg/util/log"
	"github.com/cockroachdb/redact"
)

// mergeHelper is one merge algorithm bound to a stream.
type mergeHelper[T any] interface {
	Execute()
	GetEnumerator() Enumerator[T]
	GetResultsAsArray() ([]T, error)
	Close() error
}

// Options describe what the consumer needs from a merge.
type Options[T any] struct {
	// ForEffect drains partitions without producing output, calling Action
	// on every element.
	ForEffect bool
	Action    func(T)
	// PreserveOrder requests output ordered by key. It is honored only for
	// streams whose OrdinalIndexState supports it.
	PreserveOrder bool
	// Scheduler runs stop-and-go spooling tasks; nil runs each on its own
	// goroutine. Pipelined producers always run on their own goroutines.
	Scheduler taskgroup.Scheduler
	// Metrics may be nil.
	Metrics *querymetrics.Metrics
}

// Executor gives the consumer access to the result of a running merge.
type Executor[T any] interface {
	QueryID() taskgroup.QueryID
	// GetEnumerator returns an enumerator over the merged elements. A
	// pipelined merge supports only one call.
	GetEnumerator() Enumerator[T]
	// GetResultsAsArray waits for and returns every merged element. It
	// consumes the enumerator of a pipelined merge.
	GetResultsAsArray() ([]T, error)
	// Close releases the merge, stopping pipelined producers that are still
	// running, and returns the outcome of the query's tasks.
	Close() error
}

// MergeExecutor runs the merge algorithm selected for one stream.
type MergeExecutor[T, K any] struct {
	group  *taskgroup.QueryTaskGroupState
	helper mergeHelper[T]
	kind   string
}

var _ Executor[int] = (*MergeExecutor[int, stream.Ordinal])(nil)

// Execute validates settings, selects a merge algorithm for s and starts it.
// It returns once the producing tasks have been launched.
func Execute[T, K any](
	ctx context.Context,
	s *stream.PartitionedStream[T, K],
	settings querysettings.Settings,
	opts Options[T],
) (*MergeExecutor[T, K], error) {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	preserveOrder := opts.PreserveOrder
	if preserveOrder && !s.OrdinalIndexState().SupportsOrderPreservingMerge() {
		log.Warningf(ctx, "order-preserving merge requested with ordinal index state %s; merging unordered",
			redact.Safe(s.OrdinalIndexState()))
		preserveOrder = false
	}

	scheduler := opts.Scheduler
	if settings.Pipelined() && !opts.ForEffect {
		scheduler = taskgroup.GoScheduler{}
	}
	group := taskgroup.New(ctx, scheduler, settings.PollMask, opts.Metrics)

	e := &MergeExecutor[T, K]{group: group}
	switch {
	case opts.ForEffect:
		e.kind = querymetrics.KindForAll
		e.helper = NewForAllMergeHelper(s, group, settings, opts.Action)
	case preserveOrder && settings.Pipelined():
		e.kind = querymetrics.KindOrderedPipelined
		e.helper = NewOrderPreservingPipeliningMergeHelper(s, group, settings)
	case preserveOrder:
		e.kind = querymetrics.KindOrdered
		e.helper = NewOrderPreservingMergeHelper(s, group, settings)
	case settings.Pipelined():
		e.kind = querymetrics.KindUnorderedPipelined
		e.helper = NewUnorderedMergeHelper(s, group, settings)
	default:
		e.kind = querymetrics.KindUnordered
		e.helper = NewUnorderedMergeHelper(s, group, settings)
	}

	opts.Metrics.RecordQuery(e.kind)
	log.VEventf(group.Context(), 1, "executing %s merge of %d partitions (dop=%d, %s)",
		redact.Safe(e.kind), s.PartitionCount(), settings.DegreeOfParallelism,
		redact.Safe(settings.MergeOptions))
	e.helper.Execute()
	return e, nil
}

// QueryID is part of the Executor interface.
func (e *MergeExecutor[T, K]) QueryID() taskgroup.QueryID {
	return e.group.QueryID()
}

// Kind names the selected merge algorithm.
func (e *MergeExecutor[T, K]) Kind() string {
	return e.kind
}

// GetEnumerator is part of the Executor interface.
func (e *MergeExecutor[T, K]) GetEnumerator() Enumerator[T] {
	return e.helper.GetEnumerator()
}

// GetResultsAsArray is part of the Executor interface.
func (e *MergeExecutor[T, K]) GetResultsAsArray() ([]T, error) {
	return e.helper.GetResultsAsArray()
}

// Close is part of the Executor interface.
func (e *MergeExecutor[T, K]) Close() error {
	return e.helper.Close()
}

// Results returns the cell holding the materialized result, or nil for
// merges that never publish one.
func (e *MergeExecutor[T, K]) Results() *Shared[[]T] {
	if p, ok := e.helper.(interface{ Results() *Shared[[]T] }); ok {
		return p.Results()
	}
	return nil
}
