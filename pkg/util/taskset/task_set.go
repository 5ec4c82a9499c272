// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package taskset hands out the partitions of a query to a bounded number of
// workers.
package taskset

import "github.com/cockroachdb/parallelquery/pkg/util/syncutil"

// TaskID identifies a unit of work, typically a partition index.
type TaskID int64

// TaskIDDone is a special task id that indicates there is no more work.
const TaskIDDone = TaskID(-1)

// IsDone returns whether t is TaskIDDone.
func (t TaskID) IsDone() bool {
	return t == TaskIDDone
}

// taskSpan is the half-open range [start, end) of unclaimed tasks.
type taskSpan struct {
	start, end TaskID
}

func (s taskSpan) size() int64 {
	return int64(s.end - s.start)
}

// split divides the span in two, the right half receiving the extra task if
// the size is odd.
func (s taskSpan) split() (left, right taskSpan) {
	mid := s.start + TaskID(s.size()/2)
	return taskSpan{start: s.start, end: mid}, taskSpan{start: mid, end: s.end}
}

// TaskSet manages a collection of tasks that can be claimed by workers. It
// implements an algorithm similar to work stealing. When a worker finishes
// task n it claims task n+1 if it is available. If it is not, it splits the
// largest span of available tasks and claims from the right side of the
// split. Workers therefore mostly walk contiguous runs of partitions.
//
// TaskSet is safe for concurrent use.
type TaskSet struct {
	mu struct {
		syncutil.Mutex
		unassigned []taskSpan
	}
}

// MakeTaskSet returns a TaskSet holding tasks [0, taskCount).
func MakeTaskSet(taskCount int64) *TaskSet {
	t := &TaskSet{}
	if taskCount > 0 {
		t.mu.unassigned = []taskSpan{{start: 0, end: TaskID(taskCount)}}
	}
	return t
}

// ClaimFirst should be called when a worker claims its first task. It returns
// the task to process, or TaskIDDone.
//
// ClaimFirst is distinct from ClaimNext because ClaimFirst will always split
// the largest span in the unassigned set, whereas ClaimNext will assign from
// the same span until it is exhausted.
func (t *TaskSet) ClaimFirst() TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimFirstLocked()
}

// ClaimNext should be called when a worker has completed lastTask. It returns
// the next task to process, or TaskIDDone.
func (t *TaskSet) ClaimNext(lastTask TaskID) TaskID {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := lastTask + 1
	for i, span := range t.mu.unassigned {
		if span.start != next {
			continue
		}
		span.start++
		if span.size() == 0 {
			t.removeSpanLocked(i)
		} else {
			t.mu.unassigned[i] = span
		}
		return next
	}
	// The span that lastTask belonged to is exhausted; claim from elsewhere.
	return t.claimFirstLocked()
}

// Remaining returns the number of unclaimed tasks.
func (t *TaskSet) Remaining() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, s := range t.mu.unassigned {
		n += s.size()
	}
	return n
}

func (t *TaskSet) claimFirstLocked() TaskID {
	t.mu.AssertHeld()
	if len(t.mu.unassigned) == 0 {
		return TaskIDDone
	}

	largest := 0
	for i := range t.mu.unassigned {
		if t.mu.unassigned[largest].size() < t.mu.unassigned[i].size() {
			largest = i
		}
	}

	largestSpan := t.mu.unassigned[largest]
	if largestSpan.size() == 1 {
		t.removeSpanLocked(largest)
		return largestSpan.start
	}

	left, right := largestSpan.split()
	t.mu.unassigned[largest] = left

	task := right.start
	right.start++
	if right.size() != 0 {
		t.insertSpanLocked(right, largest+1)
	}
	return task
}

func (t *TaskSet) insertSpanLocked(span taskSpan, index int) {
	t.mu.unassigned = append(t.mu.unassigned, taskSpan{})
	copy(t.mu.unassigned[index+1:], t.mu.unassigned[index:])
	t.mu.unassigned[index] = span
}

func (t *TaskSet) removeSpanLocked(index int) {
	t.mu.unassigned = append(t.mu.unassigned[:index], t.mu.unassigned[index+1:]...)
}
