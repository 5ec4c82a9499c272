// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package taskset

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTaskSetClaimsEveryTaskOnce(t *testing.T) {
	for _, count := range []int64{0, 1, 2, 7, 64, 1000} {
		ts := MakeTaskSet(count)
		var claimed []TaskID
		for task := ts.ClaimFirst(); !task.IsDone(); task = ts.ClaimNext(task) {
			claimed = append(claimed, task)
		}
		require.Len(t, claimed, int(count))
		sort.Slice(claimed, func(i, j int) bool { return claimed[i] < claimed[j] })
		for i, task := range claimed {
			require.Equal(t, TaskID(i), task)
		}
		require.Zero(t, ts.Remaining())
	}
}

func TestTaskSetFirstClaimsSplit(t *testing.T) {
	ts := MakeTaskSet(8)
	// The first worker takes the start of the right half, the second splits
	// the remaining largest span.
	require.Equal(t, TaskID(4), ts.ClaimFirst())
	require.Equal(t, TaskID(2), ts.ClaimFirst())
	require.Equal(t, TaskID(5), ts.ClaimNext(4))
	require.Equal(t, int64(5), ts.Remaining())
}

func TestTaskSetConcurrentWorkers(t *testing.T) {
	const tasks, workers = 500, 8
	ts := MakeTaskSet(tasks)
	seen := make([]int32, tasks)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := ts.ClaimFirst(); !task.IsDone(); task = ts.ClaimNext(task) {
				mu.Lock()
				seen[task]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	for i, n := range seen {
		require.Equal(t, int32(1), n, "task %d", i)
	}
}
