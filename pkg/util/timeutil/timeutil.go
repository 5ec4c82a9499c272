// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package timeutil

import "time"

// Now returns the current UTC time.
func Now() time.Time {
	return time.Now().UTC()
}

// Since returns the time elapsed since t. It is shorthand for
// Now().Sub(t), but more efficient.
func Since(t time.Time) time.Duration {
	return time.Since(t)
}
