// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/querymetrics"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/query/taskgroup"
	"github.com/cockroachdb/parallelquery/pkg/testutils"
	"github.com/cockroachdb/parallelquery/pkg/util"
	"github.com/cockroachdb/parallelquery/pkg/util/buildutil"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
	"github.com/cockroachdb/parallelquery/pkg/util/leaktest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type kv = stream.KeyedValue[string, stream.Ordinal]

var allMergeOptions = []querysettings.MergeOptions{
	querysettings.FullyBuffered, querysettings.AutoBuffered, querysettings.NotBuffered,
}

func testSettings(opts querysettings.MergeOptions) querysettings.Settings {
	return querysettings.Settings{DegreeOfParallelism: 4, MergeOptions: opts, PipelineBufferSize: 4}
}

// countingPartition counts the elements pulled from its inner partition.
type countingPartition[T, K any] struct {
	inner  stream.Partition[T, K]
	pulled atomic.Int64
}

func (p *countingPartition[T, K]) Next(ctx context.Context) (K, T, bool, error) {
	k, v, ok, err := p.inner.Next(ctx)
	if ok {
		p.pulled.Add(1)
	}
	return k, v, ok, err
}

// generatedPartition lazily yields n ordinals starting at start.
func generatedPartition(start, n int) stream.Partition[int, stream.Ordinal] {
	i := 0
	return stream.FuncPartition[int, stream.Ordinal](func(context.Context) (stream.Ordinal, int, bool, error) {
		if i >= n {
			return 0, 0, false, nil
		}
		v := start + i
		i++
		return stream.Ordinal(v), v, true, nil
	})
}

func TestMergeCompleteness(t *testing.T) {
	defer leaktest.AfterTest(t)()
	for _, mo := range allMergeOptions {
		t.Run(mo.String(), func(t *testing.T) {
			s := stream.FromKeyedSlices(stream.CompareOrdinals, stream.Correct,
				[]kv{{Key: 1, Value: "a"}, {Key: 3, Value: "c"}},
				[]kv{{Key: 2, Value: "b"}, {Key: 3, Value: "d"}},
			)
			e, err := Execute(context.Background(), s, testSettings(mo), Options[string]{PreserveOrder: true})
			require.NoError(t, err)
			out, err := Collect(e.GetEnumerator())
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c", "d"}, out)
			require.NoError(t, e.Close())
		})
	}
}

func TestMergeEmptyPartition(t *testing.T) {
	defer leaktest.AfterTest(t)()
	for _, mo := range allMergeOptions {
		t.Run(mo.String(), func(t *testing.T) {
			s := stream.FromKeyedSlices(stream.CompareOrdinals, stream.Correct,
				nil, []kv{{Key: 1, Value: "x"}})
			e, err := Execute(context.Background(), s, testSettings(mo), Options[string]{PreserveOrder: true})
			require.NoError(t, err)
			out, err := e.GetResultsAsArray()
			require.NoError(t, err)
			require.Equal(t, []string{"x"}, out)
			require.NoError(t, e.Close())
		})
	}
}

func TestMergeTieBreakIsDeterministic(t *testing.T) {
	defer leaktest.AfterTest(t)()
	for _, mo := range allMergeOptions {
		for _, threshold := range []int{1, 8} {
			for i := 0; i < 20; i++ {
				s := stream.FromKeyedSlices(stream.CompareOrdinals, stream.Correct,
					[]kv{{Key: 5, Value: "p0"}},
					[]kv{{Key: 5, Value: "p1"}},
					[]kv{{Key: 5, Value: "p2"}},
				)
				settings := testSettings(mo)
				settings.HeapSelectionThreshold = threshold
				e, err := Execute(context.Background(), s, settings, Options[string]{PreserveOrder: true})
				require.NoError(t, err)
				out, err := e.GetResultsAsArray()
				require.NoError(t, err)
				require.Equal(t, []string{"p0", "p1", "p2"}, out, "%s threshold=%d", mo, threshold)
				require.NoError(t, e.Close())
			}
		}
	}
}

func TestMergeIncreasingStreamFallsBackToUnordered(t *testing.T) {
	defer leaktest.AfterTest(t)()
	for _, mo := range allMergeOptions {
		t.Run(mo.String(), func(t *testing.T) {
			s := stream.FromKeyedSlices(stream.CompareOrdinals, stream.Increasing,
				[]kv{{Key: 3, Value: "c"}, {Key: 4, Value: "d"}},
				[]kv{{Key: 1, Value: "a"}, {Key: 2, Value: "b"}},
			)
			e, err := Execute(context.Background(), s, testSettings(mo), Options[string]{PreserveOrder: true})
			require.NoError(t, err)
			expKind := querymetrics.KindUnorderedPipelined
			if mo == querysettings.FullyBuffered {
				expKind = querymetrics.KindUnordered
			}
			require.Equal(t, expKind, e.Kind())
			out, err := e.GetResultsAsArray()
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"a", "b", "c", "d"}, out)
			require.NoError(t, e.Close())
		})
	}
}

func TestTake(t *testing.T) {
	for _, tc := range []struct {
		k   int
		exp []int
	}{
		{-1, []int{}},
		{0, []int{}},
		{2, []int{1, 2}},
		{5, []int{1, 2, 3}},
	} {
		got, err := Take[int](newSliceEnumerator([]int{1, 2, 3}), tc.k)
		require.NoError(t, err)
		require.Equal(t, tc.exp, got, "k=%d", tc.k)
	}

	boom := errors.New("boom")
	_, err := Take[int](newErrEnumerator[int](boom), -1)
	require.True(t, errors.Is(err, boom))
}

func TestMergeCancellationPublishesNothing(t *testing.T) {
	defer leaktest.AfterTest(t)()
	total := 1 << 20
	if util.RaceEnabled {
		total = 1 << 16
	}
	const cancelAt = 1000
	for _, mo := range allMergeOptions {
		t.Run(mo.String(), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			gen := generatedPartition(0, total)
			var pulled0 int64
			first := stream.FuncPartition[int, stream.Ordinal](func(ctx context.Context) (stream.Ordinal, int, bool, error) {
				pulled0++
				if pulled0 == cancelAt {
					cancel()
				}
				return gen.Next(ctx)
			})
			parts := []stream.Partition[int, stream.Ordinal]{first}
			for p := 1; p < 4; p++ {
				parts = append(parts, generatedPartition(p*total, total))
			}
			s := stream.NewPartitionedStream(parts, stream.CompareOrdinals, stream.Correct)

			metrics := querymetrics.New()
			settings := testSettings(mo)
			settings.PollMask = 63
			e, err := Execute(ctx, s, settings, Options[int]{PreserveOrder: true, Metrics: metrics})
			require.NoError(t, err)

			out, err := e.GetResultsAsArray()
			require.Nil(t, out)
			require.True(t, errors.Is(err, context.Canceled), "%v", err)
			require.False(t, e.Results().IsSet())
			_ = e.Close()

			// The producer of partition 0 observes the cancellation within one
			// poll interval. A pipelined producer may additionally be parked
			// on its channel, which it leaves as soon as the context is done.
			require.LessOrEqual(t, pulled0, int64(cancelAt+int(settings.PollMask)+1))
		})
	}
}

func TestMergeFaultAggregation(t *testing.T) {
	defer leaktest.AfterTest(t)()
	for _, mo := range allMergeOptions {
		for _, preserveOrder := range []bool{true, false} {
			errP0 := errors.New("partition 0 is corrupt")
			errP2 := errors.New("partition 2 is corrupt")
			var barrier sync.WaitGroup
			barrier.Add(2)
			failing := func(err error) stream.Partition[string, stream.Ordinal] {
				return stream.FuncPartition[string, stream.Ordinal](func(context.Context) (stream.Ordinal, string, bool, error) {
					barrier.Done()
					barrier.Wait()
					return 0, "", false, err
				})
			}
			parts := []stream.Partition[string, stream.Ordinal]{
				failing(errP0),
				stream.NewSlicePartition([]kv{{Key: 1, Value: "a"}}),
				failing(errP2),
				stream.NewSlicePartition([]kv{{Key: 2, Value: "b"}}),
			}
			s := stream.NewPartitionedStream(parts, stream.CompareOrdinals, stream.Correct)
			metrics := querymetrics.New()
			e, err := Execute(context.Background(), s, testSettings(mo),
				Options[string]{PreserveOrder: preserveOrder, Metrics: metrics})
			require.NoError(t, err)

			out, err := e.GetResultsAsArray()
			require.Nil(t, out)
			var agg *taskgroup.AggregateError
			require.True(t, errors.As(err, &agg), "%v", err)
			require.Len(t, agg.Errors(), 2, "%v", err)
			require.True(t, errors.Is(agg.Errors()[0], errP0))
			require.True(t, errors.Is(agg.Errors()[1], errP2))
			require.Equal(t, err, e.Close())
			require.False(t, e.Results().IsSet())
			require.Equal(t, 2.0, testutil.ToFloat64(metrics.Faults))
		}
	}
}

func TestMergeStreamingEarlyExit(t *testing.T) {
	defer leaktest.AfterTest(t)()
	const perPartition = 10000
	for _, mo := range []querysettings.MergeOptions{querysettings.AutoBuffered, querysettings.NotBuffered} {
		for _, preserveOrder := range []bool{true, false} {
			values := make([]int, 4*perPartition)
			for i := range values {
				values[i] = i
			}
			base := stream.PartitionSlice(values, 4)
			counters := make([]*countingPartition[int, stream.Ordinal], base.PartitionCount())
			parts := make([]stream.Partition[int, stream.Ordinal], base.PartitionCount())
			for i := range parts {
				counters[i] = &countingPartition[int, stream.Ordinal]{inner: base.Partition(i)}
				parts[i] = counters[i]
			}
			s := stream.NewPartitionedStream(parts, stream.CompareOrdinals, base.OrdinalIndexState())

			e, err := Execute(context.Background(), s, testSettings(mo), Options[int]{PreserveOrder: preserveOrder})
			require.NoError(t, err)
			got, err := Take(e.GetEnumerator(), 10)
			require.NoError(t, err)
			require.Len(t, got, 10)
			if preserveOrder {
				require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
			}
			require.NoError(t, e.Close())

			var pulled int64
			for i, c := range counters {
				n := c.pulled.Load()
				require.Less(t, n, int64(perPartition), "partition %d drained", i)
				pulled += n
			}
			// Each producer holds at most a full buffer, one element in flight
			// and one poll interval of work after the consumer leaves.
			require.Less(t, pulled, int64(4*(10+4+64+2)))
		}
	}
}

func TestMergeForAll(t *testing.T) {
	defer leaktest.AfterTest(t)()
	values := make([]int, 1000)
	for i := range values {
		values[i] = i
	}
	var sum atomic.Int64
	e, err := Execute(context.Background(), stream.PartitionStriped(values, 3), testSettings(querysettings.AutoBuffered),
		Options[int]{ForEffect: true, Action: func(v int) { sum.Add(int64(v)) }})
	require.NoError(t, err)
	out, err := e.GetResultsAsArray()
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, int64(999*1000/2), sum.Load())
	require.Nil(t, e.Results())
	require.Equal(t, "for_all", e.Kind())
}

func TestMergeWithBoundedScheduler(t *testing.T) {
	defer leaktest.AfterTest(t)()
	values := make([]int, 500)
	for i := range values {
		values[i] = i
	}
	sched := taskgroup.NewBoundedScheduler(2)
	e, err := Execute(context.Background(), stream.PartitionStriped(values, 7), testSettings(querysettings.FullyBuffered),
		Options[int]{PreserveOrder: true, Scheduler: sched})
	require.NoError(t, err)
	out, err := e.GetResultsAsArray()
	require.NoError(t, err)
	require.Equal(t, values, out)
	published, ok := e.Results().Get()
	require.True(t, ok)
	require.Equal(t, values, published)
}

func TestPipelinedEnumeratorIsSingleUse(t *testing.T) {
	defer leaktest.AfterTest(t)()
	s := stream.PartitionSlice([]int{1, 2, 3}, 2)
	e, err := Execute(context.Background(), s, testSettings(querysettings.AutoBuffered), Options[int]{PreserveOrder: true})
	require.NoError(t, err)
	first := e.GetEnumerator()
	second := e.GetEnumerator()
	require.False(t, second.Next())
	require.True(t, errors.HasAssertionFailure(second.Err()))
	out, err := Collect(first)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, out)
}

func TestExecuteRejectsInvalidSettings(t *testing.T) {
	s := stream.PartitionSlice([]int{1}, 1)
	_, err := Execute(context.Background(), s, querysettings.Settings{DegreeOfParallelism: -1}, Options[int]{})
	require.True(t, testutils.IsError(err, "degree of parallelism -1 out of range"), "%v", err)
}

func TestPartitionedStreamMerger(t *testing.T) {
	defer leaktest.AfterTest(t)()
	ctx := context.Background()
	settings := testSettings(querysettings.FullyBuffered)

	t.Run("pair keys", func(t *testing.T) {
		s := stream.FromKeyedSlices(stream.ComparePairKeys, stream.Correct,
			[]stream.KeyedValue[string, stream.PairKey]{
				{Key: stream.PairKey{Major: 1, Minor: 0}, Value: "b"},
				{Key: stream.PairKey{Major: 2, Minor: 1}, Value: "e"},
			},
			[]stream.KeyedValue[string, stream.PairKey]{
				{Key: stream.PairKey{Major: 0, Minor: 9}, Value: "a"},
				{Key: stream.PairKey{Major: 1, Minor: 1}, Value: "c"},
				{Key: stream.PairKey{Major: 2, Minor: 0}, Value: "d"},
			},
		)
		e, err := Merge[string](ctx, s, settings, Options[string]{PreserveOrder: true})
		require.NoError(t, err)
		out, err := e.GetResultsAsArray()
		require.NoError(t, err)
		require.Equal(t, []string{"a", "b", "c", "d", "e"}, out)
		_, ok := e.(*MergeExecutor[string, stream.PairKey])
		require.True(t, ok)
	})

	t.Run("custom keys", func(t *testing.T) {
		type version struct{ major, minor int }
		cmp := func(a, b version) int {
			if a.major != b.major {
				return a.major - b.major
			}
			return a.minor - b.minor
		}
		s := stream.FromKeyedSlices(cmp, stream.Correct,
			[]stream.KeyedValue[string, version]{{Key: version{1, 2}, Value: "1.2"}, {Key: version{2, 0}, Value: "2.0"}},
			[]stream.KeyedValue[string, version]{{Key: version{1, 10}, Value: "1.10"}},
		)
		for _, mo := range allMergeOptions {
			e, err := Merge[string](ctx, s, testSettings(mo), Options[string]{PreserveOrder: true})
			require.NoError(t, err)
			out, err := e.GetResultsAsArray()
			require.NoError(t, err)
			require.Equal(t, []string{"1.2", "1.10", "2.0"}, out)
			require.NoError(t, e.Close())
			// Slice partitions are consumed by the merge; rebuild for the next
			// iteration.
			s = stream.FromKeyedSlices(cmp, stream.Correct,
				[]stream.KeyedValue[string, version]{{Key: version{1, 2}, Value: "1.2"}, {Key: version{2, 0}, Value: "2.0"}},
				[]stream.KeyedValue[string, version]{{Key: version{1, 10}, Value: "1.10"}},
			)
		}
	})

	t.Run("single receive", func(t *testing.T) {
		m := NewPartitionedStreamMerger(ctx, settings, Options[int]{PreserveOrder: true})
		_, err := m.Executor()
		require.True(t, errors.HasAssertionFailure(err))

		stream.PartitionSlice([]int{3, 4}, 2).Accept(m)
		e, err := m.Executor()
		require.NoError(t, err)

		second := stream.PartitionSlice([]int{9}, 1)
		if buildutil.Invariants {
			require.Panics(t, func() { second.Accept(m) })
		} else {
			second.Accept(m)
		}
		again, err := m.Executor()
		require.NoError(t, err)
		require.Equal(t, e.QueryID(), again.QueryID())
		out, err := e.GetResultsAsArray()
		require.NoError(t, err)
		require.Equal(t, []int{3, 4}, out)
	})

	t.Run("invalid settings", func(t *testing.T) {
		m := NewPartitionedStreamMerger(ctx, querysettings.Settings{PollMask: 5}, Options[int]{})
		stream.PartitionSlice([]int{1}, 1).Accept(m)
		_, err := m.Executor()
		require.True(t, testutils.IsError(err, "poll mask 5"), "%v", err)
	})
}

func TestMergeMetrics(t *testing.T) {
	defer leaktest.AfterTest(t)()
	metrics := querymetrics.New()
	values := []int{5, 6, 7, 8, 9}
	for _, mo := range allMergeOptions {
		e, err := Execute(context.Background(), stream.PartitionSlice(values, 2), testSettings(mo),
			Options[int]{PreserveOrder: true, Metrics: metrics})
		require.NoError(t, err)
		_, err = e.GetResultsAsArray()
		require.NoError(t, err)
		require.NoError(t, e.Close())
	}
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Queries.WithLabelValues(querymetrics.KindOrdered)))
	require.Equal(t, 2.0, testutil.ToFloat64(metrics.Queries.WithLabelValues(querymetrics.KindOrderedPipelined)))
	require.Equal(t, 15.0, testutil.ToFloat64(metrics.ElementsMerged))
	require.Equal(t, 6.0, testutil.ToFloat64(metrics.PartitionsSpooled))
}

func TestSharedSetOnce(t *testing.T) {
	var s Shared[[]int]
	_, ok := s.Get()
	require.False(t, ok)
	s.Set([]int{1})
	v, ok := s.Get()
	require.True(t, ok)
	require.Equal(t, []int{1}, v)
	require.Panics(t, func() { s.Set(nil) })
}

func TestCheckerErrorsAreCancellations(t *testing.T) {
	var flag cancelchecker.Flag
	flag.Trip()
	c := cancelchecker.NewChecker(context.Background(), &flag, 0)
	err := errors.Wrap(c.Check(0), "partition 3")
	require.True(t, errors.Is(err, cancelchecker.ErrCanceled))
}
