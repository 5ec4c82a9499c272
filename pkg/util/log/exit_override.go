// Copyright 2019 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import "os"

// SetExitFunc allows setting a function that will be called to exit the
// process when a Fatal message is generated. The supplied function is
// called with the exit code.
//
// Use ResetExitFunc() to reset.
func SetExitFunc(f func(int)) {
	logging.mu.Lock()
	defer logging.mu.Unlock()

	logging.mu.exitOverride.f = f
}

// ResetExitFunc undoes any prior call to SetExitFunc.
func ResetExitFunc() {
	logging.mu.Lock()
	defer logging.mu.Unlock()

	logging.mu.exitOverride.f = nil
}

// exitLocked is called after a FATAL entry has been written.
func (l *loggingT) exitLocked() {
	l.mu.AssertHeld()

	if f := l.mu.exitOverride.f; f != nil {
		f(2)
		return
	}
	if s, ok := l.mu.out.(interface{ Sync() error }); ok {
		_ = s.Sync()
	}
	os.Exit(2)
}
