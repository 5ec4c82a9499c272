// Copyright 2017 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"time"

	"github.com/cockroachdb/parallelquery/pkg/util"
	"github.com/cockroachdb/parallelquery/pkg/util/timeutil"
)

// EveryN rate limits a log message that may be emitted by many goroutines
// at once, such as the faults of every task of a failing query.
type EveryN struct {
	util.EveryN
}

// Every returns an EveryN allowing one message per n.
func Every(n time.Duration) EveryN {
	return EveryN{EveryN: util.Every(n)}
}

// ShouldLog returns whether the message should be logged now.
func (e *EveryN) ShouldLog() bool {
	ok, _ := e.ShouldLogSuppressed()
	return ok
}

// ShouldLogSuppressed is like ShouldLog, and also returns how many messages
// were dropped since the last one logged.
func (e *EveryN) ShouldLogSuppressed() (ok bool, suppressed int) {
	if V(2) {
		return true, 0
	}
	return e.ShouldProcessSuppressed(timeutil.Now())
}
