// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package taskgroup tracks the tasks spawned for one query execution: their
// shared cancellation, the faults they raise and the outcome reported to the
// caller once they have all returned.
package taskgroup

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/parallelquery/pkg/query/querymetrics"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
	"github.com/cockroachdb/parallelquery/pkg/util/log"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
	"github.com/cockroachdb/parallelquery/pkg/util/timeutil"
	"github.com/cockroachdb/redact"
)

// QueryID identifies one query execution within the process.
type QueryID int64

// SafeValue implements redact.SafeValue.
func (QueryID) SafeValue() {}

var lastQueryID int64

func nextQueryID() QueryID {
	return QueryID(atomic.AddInt64(&lastQueryID, 1))
}

// ErrQueryCanceled marks the error returned by Wait when the caller's
// context was canceled. Such errors also satisfy
// errors.Is(err, context.Canceled) or errors.Is(err, context.DeadlineExceeded).
var ErrQueryCanceled = errors.New("query canceled")

// TaskFunc is the body of a task. It must poll checker while it works and
// return the checker's error when it trips.
type TaskFunc func(ctx context.Context, checker *cancelchecker.Checker) error

type taskFault struct {
	task int
	err  error
}

// QueryTaskGroupState is shared by all tasks of one query execution.
type QueryTaskGroupState struct {
	id          QueryID
	ctx         context.Context
	cancelState *CancellationState
	scheduler   Scheduler
	metrics     *querymetrics.Metrics
	started     time.Time

	wg sync.WaitGroup

	mu struct {
		syncutil.Mutex
		faults []taskFault
	}

	waitOnce sync.Once
	waitErr  error
}

var faultLogEvery = log.Every(time.Second)

// New returns the state for a new query. A nil scheduler runs tasks on their
// own goroutines; metrics may be nil.
func New(
	ctx context.Context, scheduler Scheduler, pollMask uint64, metrics *querymetrics.Metrics,
) *QueryTaskGroupState {
	if scheduler == nil {
		scheduler = GoScheduler{}
	}
	g := &QueryTaskGroupState{
		id:        nextQueryID(),
		scheduler: scheduler,
		metrics:   metrics,
		started:   timeutil.Now(),
	}
	g.cancelState = NewCancellationState(ctx, pollMask)
	g.ctx = logtags.AddTag(g.cancelState.Context(), "q", g.id)
	return g
}

// QueryID returns the query's identifier.
func (g *QueryTaskGroupState) QueryID() QueryID {
	return g.id
}

// Context returns the query's context, tagged with its ID and canceled
// along with the query.
func (g *QueryTaskGroupState) Context() context.Context {
	return g.ctx
}

// CancellationState returns the query's cancellation.
func (g *QueryTaskGroupState) CancellationState() *CancellationState {
	return g.cancelState
}

// Metrics returns the metrics the group records into, possibly nil.
func (g *QueryTaskGroupState) Metrics() *querymetrics.Metrics {
	return g.metrics
}

// Go schedules fn as task number task. Task numbers order the faults in the
// aggregate returned by Wait. If the scheduler refuses the task, the refusal
// is recorded as the task's fault and returned.
func (g *QueryTaskGroupState) Go(task int, name redact.SafeString, fn TaskFunc) error {
	g.wg.Add(1)
	err := g.scheduler.Schedule(g.ctx, func() {
		defer g.wg.Done()
		g.run(task, name, fn)
	})
	if err == nil {
		return nil
	}
	g.wg.Done()
	if g.cancelState.Canceled() {
		// The scheduler gave up because the query is already being torn down.
		return nil
	}
	err = errors.Mark(errors.Wrapf(err, "scheduling %s", name), ErrSchedulerFailure)
	g.recordFault(task, err)
	return err
}

func (g *QueryTaskGroupState) run(task int, name redact.SafeString, fn TaskFunc) {
	ctx := logtags.AddTag(g.ctx, "t", task)
	checker := g.cancelState.Checker()
	defer func() {
		if r := recover(); r != nil {
			var err error
			if e, ok := r.(error); ok {
				err = errors.NewAssertionErrorWithWrappedErrf(e, "%s panicked", name)
			} else {
				err = errors.AssertionFailedf("%s panicked: %v", name, r)
			}
			g.recordFault(task, err)
		}
	}()
	if err := fn(ctx, &checker); err != nil {
		if g.isCancellation(err) {
			log.VEventf(ctx, 2, "%s unwound after cancellation", name)
			return
		}
		g.recordFault(task, errors.Wrapf(err, "%s", name))
	}
}

// isCancellation returns whether err is a task unwinding in response to
// query cancellation rather than a fault of its own.
func (g *QueryTaskGroupState) isCancellation(err error) bool {
	if errors.Is(err, cancelchecker.ErrCanceled) {
		return true
	}
	return g.cancelState.Canceled() &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func (g *QueryTaskGroupState) recordFault(task int, err error) {
	g.mu.Lock()
	g.mu.faults = append(g.mu.faults, taskFault{task: task, err: err})
	g.mu.Unlock()

	g.metrics.RecordFault()
	if ok, suppressed := faultLogEvery.ShouldLogSuppressed(); ok {
		if suppressed > 0 {
			log.Warningf(g.ctx, "task %d failed (%d similar messages suppressed): %v", task, suppressed, err)
		} else {
			log.Warningf(g.ctx, "task %d failed: %v", task, err)
		}
	}
	g.cancelState.Cancel(err)
}

// Wait blocks until every scheduled task has returned and reports the
// query's outcome:
//   - if any task faulted, an *AggregateError with every fault ordered by
//     task number;
//   - otherwise, if the caller's context was canceled, an error marked with
//     ErrQueryCanceled;
//   - otherwise nil, including when the query was canceled internally
//     without a fault.
//
// Wait may be called more than once and always returns the same result. No
// task may be added once Wait has been called.
func (g *QueryTaskGroupState) Wait() error {
	g.waitOnce.Do(func() {
		g.wg.Wait()
		g.waitErr = g.outcome()
		g.cancelState.release()
		if g.waitErr != nil {
			log.VEventf(g.ctx, 1, "query finished after %s: %v", timeutil.Since(g.started), g.waitErr)
		} else {
			log.VEventf(g.ctx, 1, "query finished after %s", timeutil.Since(g.started))
		}
	})
	return g.waitErr
}

func (g *QueryTaskGroupState) outcome() error {
	g.mu.Lock()
	faults := append([]taskFault(nil), g.mu.faults...)
	g.mu.Unlock()

	if len(faults) > 0 {
		sort.SliceStable(faults, func(i, j int) bool { return faults[i].task < faults[j].task })
		errs := make([]error, len(faults))
		for i, f := range faults {
			errs[i] = f.err
		}
		return NewAggregateError(errs...)
	}
	if g.cancelState.ExternallyCanceled() {
		g.metrics.RecordCancellation()
		return errors.Mark(errors.Wrap(g.cancelState.ExternalErr(), "query canceled"), ErrQueryCanceled)
	}
	return nil
}

// Faulted returns whether any task has faulted so far.
func (g *QueryTaskGroupState) Faulted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.mu.faults) > 0
}
