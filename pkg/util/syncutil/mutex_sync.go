// Copyright 2016 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package syncutil

import (
	"sync"
	"sync/atomic"
)

// A Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// AssertHeld may panic if the mutex is not locked (but it is not required to
// do so). Functions which require that their callers hold a particular lock
// may use this to enforce this requirement more directly than relying on the
// race detector.
//
// Note that we do not require the lock to be held by any particular thread,
// just that some thread holds the lock.
func (m *Mutex) AssertHeld() {
	if m.TryLock() {
		m.Unlock()
		panic("mutex is not held")
	}
}

// An RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld may panic if the mutex is not locked for writing (but it is not
// required to do so).
func (rw *RWMutex) AssertHeld() {
	if rw.TryLock() {
		rw.Unlock()
		panic("mutex is not write locked")
	}
}

// AtomicBool mimics an atomic boolean. The zero value is false.
type AtomicBool uint32

// Set atomically sets the boolean.
func (b *AtomicBool) Set(v bool) {
	s := uint32(0)
	if v {
		s = 1
	}
	atomic.StoreUint32((*uint32)(b), s)
}

// Get atomically gets the boolean.
func (b *AtomicBool) Get() bool {
	return atomic.LoadUint32((*uint32)(b)) != 0
}

// Swap atomically swaps the value and returns the previous one.
func (b *AtomicBool) Swap(v bool) bool {
	wanted := uint32(0)
	if v {
		wanted = 1
	}
	return atomic.SwapUint32((*uint32)(b), wanted) != 0
}

// CompareAndSwap atomically sets the boolean to new if it currently equals
// old, and reports whether the swap happened.
func (b *AtomicBool) CompareAndSwap(old, new bool) bool {
	o, n := uint32(0), uint32(0)
	if old {
		o = 1
	}
	if new {
		n = 1
	}
	return atomic.CompareAndSwapUint32((*uint32)(b), o, n)
}
