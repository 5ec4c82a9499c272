// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package taskgroup

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/marusama/semaphore"
)

// ErrSchedulerFailure marks errors returned when a task could not be
// scheduled. Such failures are not retried.
var ErrSchedulerFailure = errors.New("task scheduler failure")

// Scheduler runs units of work asynchronously. Schedule returns an error
// only if task will never run.
type Scheduler interface {
	Schedule(ctx context.Context, task func()) error
}

// GoScheduler runs every task on its own goroutine.
type GoScheduler struct{}

var _ Scheduler = GoScheduler{}

// Schedule is part of the Scheduler interface.
func (GoScheduler) Schedule(_ context.Context, task func()) error {
	go task()
	return nil
}

// BoundedScheduler limits the number of tasks running at once. Schedule
// blocks until a slot is free, so it may be shared between queries to bound
// their combined parallelism.
type BoundedScheduler struct {
	sem semaphore.Semaphore
}

var _ Scheduler = (*BoundedScheduler)(nil)

// NewBoundedScheduler returns a scheduler running at most limit tasks.
func NewBoundedScheduler(limit int) *BoundedScheduler {
	if limit < 1 {
		limit = 1
	}
	return &BoundedScheduler{sem: semaphore.New(limit)}
}

// Schedule is part of the Scheduler interface.
func (s *BoundedScheduler) Schedule(ctx context.Context, task func()) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquiring scheduler slot")
	}
	go func() {
		defer s.sem.Release(1)
		task()
	}()
	return nil
}

// Running returns the number of tasks currently holding a slot.
func (s *BoundedScheduler) Running() int {
	return s.sem.GetCount()
}

// Limit returns the maximum number of concurrently running tasks.
func (s *BoundedScheduler) Limit() int {
	return s.sem.GetLimit()
}
