// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
)

// ForAllMergeHelper drains every partition for its side effects. Nothing is
// merged or published.
type ForAllMergeHelper[T, K any] struct {
	stream   *stream.PartitionedStream[T, K]
	group    *taskgroup.QueryTaskGroupState
	settings querysettings.Settings
	action   func(T)
}

var _ mergeHelper[int] = (*ForAllMergeHelper[int, stream.Ordinal])(nil)

// NewForAllMergeHelper returns a helper calling action, which may be nil, on
// every element. action runs concurrently on the producing tasks.
func NewForAllMergeHelper[T, K any](
	s *stream.PartitionedStream[T, K],
	group *taskgroup.QueryTaskGroupState,
	settings querysettings.Settings,
	action func(T),
) *ForAllMergeHelper[T, K] {
	return &ForAllMergeHelper[T, K]{stream: s, group: group, settings: settings, action: action}
}

// Execute launches the draining tasks.
func (h *ForAllMergeHelper[T, K]) Execute() {
	spoolForAll(h.group, h.stream, h.settings.DegreeOfParallelism, h.action)
}

// GetEnumerator waits for the tasks and returns an empty enumerator
// carrying their outcome.
func (h *ForAllMergeHelper[T, K]) GetEnumerator() Enumerator[T] {
	if err := h.group.Wait(); err != nil {
		return newErrEnumerator[T](err)
	}
	return newSliceEnumerator[T](nil)
}

// GetResultsAsArray waits for the tasks and returns their outcome.
func (h *ForAllMergeHelper[T, K]) GetResultsAsArray() ([]T, error) {
	return nil, h.group.Wait()
}

// Close waits for the tasks.
func (h *ForAllMergeHelper[T, K]) Close() error {
	return h.group.Wait()
}
