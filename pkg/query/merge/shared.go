// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
)

// Shared is a write-once cell. It holds the materialized result of a merge
// and is set only after every producer has completed successfully.
type Shared[V any] struct {
	mu struct {
		syncutil.Mutex
		set   bool
		value V
	}
}

// Set stores v. It panics if the cell was already set.
func (s *Shared[V]) Set(v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.set {
		panic(errors.AssertionFailedf("shared result set twice"))
	}
	s.mu.set = true
	s.mu.value = v
}

// Get returns the stored value and whether it was set.
func (s *Shared[V]) Get() (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.value, s.mu.set
}

// IsSet returns whether Set has been called.
func (s *Shared[V]) IsSet() bool {
	_, ok := s.Get()
	return ok
}
