// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
	"github.com/cockroachdb/parallelquery/pkg/util/buildutil"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
	"github.com/cockroachdb/parallelquery/pkg/util/taskset"
	"github.com/cockroachdb/parallelquery/pkg/util/timeutil"
	"github.com/cockroachdb/redact"
)

// partitionFunc processes partition p on behalf of a task.
type partitionFunc func(ctx context.Context, checker *cancelchecker.Checker, p int) error

func partitionTaskName(p int) redact.SafeString {
	return redact.SafeString(fmt.Sprintf("partition %d", p))
}

// runPartitions schedules fn over every partition of a stream with n
// partitions. When n does not exceed dop each partition gets its own task,
// numbered by partition. Otherwise dop workers claim partitions from a
// taskset until none remain.
func runPartitions(group *taskgroup.QueryTaskGroupState, n, dop int, fn partitionFunc) {
	if n <= dop {
		for p := 0; p < n; p++ {
			p := p
			if err := group.Go(p, partitionTaskName(p), func(
				ctx context.Context, checker *cancelchecker.Checker,
			) error {
				return fn(ctx, checker, p)
			}); err != nil {
				return
			}
		}
		return
	}

	tasks := taskset.MakeTaskSet(int64(n))
	for w := 0; w < dop; w++ {
		name := redact.SafeString(fmt.Sprintf("worker %d", w))
		if err := group.Go(w, name, func(ctx context.Context, checker *cancelchecker.Checker) error {
			for t := tasks.ClaimFirst(); !t.IsDone(); t = tasks.ClaimNext(t) {
				if err := fn(ctx, checker, int(t)); err != nil {
					return errors.Wrapf(err, "%s", partitionTaskName(int(t)))
				}
			}
			return nil
		}); err != nil {
			return
		}
	}
}

// keyOrderCheck verifies, in invariants builds, that a partition's keys do
// not decrease.
type keyOrderCheck[K any] struct {
	cmp  stream.KeyComparer[K]
	last K
	seen bool
}

func (c *keyOrderCheck[K]) next(p int, k K) error {
	if !buildutil.Invariants {
		return nil
	}
	if c.seen && c.cmp(c.last, k) > 0 {
		return errors.AssertionFailedf("partition %d: key %v follows larger key %v", p, k, c.last)
	}
	c.last, c.seen = k, true
	return nil
}

// spoolStopAndGo drains every partition into dst[p] in parallel. dst must
// have one slot per partition; each task writes only its own slot.
func spoolStopAndGo[T, K any](
	group *taskgroup.QueryTaskGroupState,
	s *stream.PartitionedStream[T, K],
	dop int,
	dst [][]stream.KeyedValue[T, K],
) {
	metrics := group.Metrics()
	runPartitions(group, s.PartitionCount(), dop, func(
		ctx context.Context, checker *cancelchecker.Checker, p int,
	) error {
		start := timeutil.Now()
		part := s.Partition(p)
		order := keyOrderCheck[K]{cmp: s.KeyComparer()}
		var out []stream.KeyedValue[T, K]
		for i := uint64(0); ; i++ {
			if err := checker.Check(i); err != nil {
				return err
			}
			k, v, ok, err := part.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := order.next(p, k); err != nil {
				return err
			}
			out = append(out, stream.KeyedValue[T, K]{Key: k, Value: v})
		}
		dst[p] = out
		metrics.RecordPartitionSpooled(timeutil.Since(start))
		return nil
	})
}

// spoolForAll drains every partition for effect, calling action on each
// element from the producing task.
func spoolForAll[T, K any](
	group *taskgroup.QueryTaskGroupState, s *stream.PartitionedStream[T, K], dop int, action func(T),
) {
	metrics := group.Metrics()
	runPartitions(group, s.PartitionCount(), dop, func(
		ctx context.Context, checker *cancelchecker.Checker, p int,
	) error {
		start := timeutil.Now()
		part := s.Partition(p)
		var n int
		for i := uint64(0); ; i++ {
			if err := checker.Check(i); err != nil {
				return err
			}
			_, v, ok, err := part.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if action != nil {
				action(v)
			}
			n++
		}
		metrics.RecordElements(n)
		metrics.RecordPartitionSpooled(timeutil.Since(start))
		return nil
	})
}

// pipeline carries elements from per-partition producer tasks to a
// consumer. A producer closes its channel when it returns; finished[p] is
// set beforehand only if the partition was exhausted, so that the consumer
// can tell a drained partition from an aborted one.
type pipeline[T, K any] struct {
	chans    []chan stream.KeyedValue[T, K]
	finished []syncutil.AtomicBool
}

// startPipelinedProducers launches one producer task per partition. Every
// partition must make progress for an order-preserving consumer to select
// its next element, so partitions are never multiplexed onto fewer tasks.
func startPipelinedProducers[T, K any](
	group *taskgroup.QueryTaskGroupState, s *stream.PartitionedStream[T, K], bufSize int,
) *pipeline[T, K] {
	n := s.PartitionCount()
	pl := &pipeline[T, K]{
		chans:    make([]chan stream.KeyedValue[T, K], n),
		finished: make([]syncutil.AtomicBool, n),
	}
	for p := range pl.chans {
		pl.chans[p] = make(chan stream.KeyedValue[T, K], bufSize)
	}
	metrics := group.Metrics()
	for p := 0; p < n; p++ {
		p := p
		ch := pl.chans[p]
		if err := group.Go(p, partitionTaskName(p), func(
			ctx context.Context, checker *cancelchecker.Checker,
		) error {
			defer close(ch)
			start := timeutil.Now()
			part := s.Partition(p)
			order := keyOrderCheck[K]{cmp: s.KeyComparer()}
			for i := uint64(0); ; i++ {
				if err := checker.Check(i); err != nil {
					return err
				}
				k, v, ok, err := part.Next(ctx)
				if err != nil {
					return err
				}
				if !ok {
					pl.finished[p].Set(true)
					metrics.RecordPartitionSpooled(timeutil.Since(start))
					return nil
				}
				if err := order.next(p, k); err != nil {
					return err
				}
				select {
				case ch <- stream.KeyedValue[T, K]{Key: k, Value: v}:
				case <-ctx.Done():
					return checker.CheckNow()
				}
			}
		}); err != nil {
			// Producers that were never scheduled leave their channel open;
			// close the rest so the consumer observes the failure.
			for q := p; q < n; q++ {
				close(pl.chans[q])
			}
			break
		}
	}
	return pl
}
