// Copyright 2017 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package util

import (
	"time"

	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
)

// EveryN rate limits a recurring event: at most one occurrence per N is
// processed, and the occurrences dropped in between are counted so that the
// next processed one can report them.
//
// The zero value processes every occurrence.
type EveryN struct {
	// N is the minimum duration between processed occurrences.
	N time.Duration

	mu struct {
		syncutil.Mutex
		lastProcessed time.Time
		suppressed    int
	}
}

// Every returns an EveryN processing one occurrence per n.
func Every(n time.Duration) EveryN {
	return EveryN{N: n}
}

// ShouldProcess returns whether an occurrence at now should be processed.
func (e *EveryN) ShouldProcess(now time.Time) bool {
	ok, _ := e.ShouldProcessSuppressed(now)
	return ok
}

// ShouldProcessSuppressed is like ShouldProcess, and also returns the number
// of occurrences dropped since the previous processed one when it returns
// true.
func (e *EveryN) ShouldProcessSuppressed(now time.Time) (ok bool, suppressed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.mu.lastProcessed.IsZero() && now.Sub(e.mu.lastProcessed) < e.N {
		e.mu.suppressed++
		return false, 0
	}
	e.mu.lastProcessed = now
	suppressed, e.mu.suppressed = e.mu.suppressed, 0
	return true, suppressed
}
