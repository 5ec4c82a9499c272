// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"context"
	"sort"
	"testing"

	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/util/leaktest"
	"github.com/cockroachdb/parallelquery/pkg/util/randutil"
	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// origin identifies an input element by partition and position.
type origin struct {
	Key       int
	Partition int
	Index     int
}

// expectedMerge returns every element ordered by key, then partition, then
// position: the only output an order-preserving merge may produce.
func expectedMerge(keys [][]int) []origin {
	var all []origin
	for p, part := range keys {
		for i, k := range part {
			all = append(all, origin{Key: k, Partition: p, Index: i})
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Key != all[j].Key {
			return all[i].Key < all[j].Key
		}
		return all[i].Partition < all[j].Partition
	})
	return all
}

func mergeKeys(keys [][]int, settings querysettings.Settings) ([]origin, error) {
	slices := make([][]stream.KeyedValue[origin, stream.Ordinal], len(keys))
	for p, part := range keys {
		for i, k := range part {
			slices[p] = append(slices[p], stream.KeyedValue[origin, stream.Ordinal]{
				Key:   stream.Ordinal(k),
				Value: origin{Key: k, Partition: p, Index: i},
			})
		}
	}
	s := stream.FromKeyedSlices(stream.CompareOrdinals, stream.Correct, slices...)
	e, err := Execute(context.Background(), s, settings, Options[origin]{PreserveOrder: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = e.Close() }()
	return e.GetResultsAsArray()
}

func TestMergeProperties(t *testing.T) {
	defer leaktest.AfterTest(t)()
	_, seed := randutil.NewTestRand(t)
	params := gopter.DefaultTestParameters()
	params.Rng.Seed(seed)
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	partitions := gen.SliceOf(gen.SliceOf(gen.IntRange(0, 16))).SuchThat(func(v [][]int) bool {
		return len(v) > 0
	})
	settingsFor := func(mo querysettings.MergeOptions, threshold, dop int) querysettings.Settings {
		return querysettings.Settings{
			DegreeOfParallelism:    dop,
			MergeOptions:           mo,
			PipelineBufferSize:     2,
			HeapSelectionThreshold: threshold,
		}
	}

	properties.Property("ordered, complete and stable", prop.ForAll(
		func(keys [][]int, mo querysettings.MergeOptions, threshold, dop int) bool {
			for _, part := range keys {
				sort.Ints(part)
			}
			got, err := mergeKeys(keys, settingsFor(mo, threshold, dop))
			if err != nil {
				t.Log(err)
				return false
			}
			want := expectedMerge(keys)
			if len(want) == 0 {
				return len(got) == 0
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Logf("unexpected merge (-want +got):\n%s", diff)
				return false
			}
			return true
		},
		partitions,
		gen.OneConstOf(querysettings.FullyBuffered, querysettings.AutoBuffered, querysettings.NotBuffered),
		gen.IntRange(1, 10),
		gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}
