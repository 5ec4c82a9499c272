// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package cancelchecker implements cooperative, polled cancellation for
// tight per-element loops.
package cancelchecker

import (
	"context"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
)

// DefaultPollMask makes Check consult the cancellation flag once every 64
// calls.
const DefaultPollMask = 63

// ErrCanceled is the marker of the errors returned by a Checker. Use
// errors.Is(err, cancelchecker.ErrCanceled) to distinguish cancellation
// unwinds from faults.
var ErrCanceled = errors.New("query execution canceled")

// Flag is a one-way cancellation switch shared by every loop of a query.
type Flag struct {
	tripped syncutil.AtomicBool
}

// Trip sets the flag. It returns true only for the call that actually
// tripped it.
func (f *Flag) Trip() bool {
	return f.tripped.CompareAndSwap(false, true)
}

// Tripped returns whether Trip was called.
func (f *Flag) Tripped() bool {
	return f.tripped.Get()
}

// Checker is a helper for periodically checking for cancellation. It observes
// both an explicit Flag and an optional context. A Checker is not safe for
// concurrent use; each loop should own one.
type Checker struct {
	ctx  context.Context
	flag *Flag
	mask uint64
}

// NewChecker returns a Checker observing flag and ctx (either may be nil)
// which polls every mask+1 calls to Check. mask must be of the form 2^k-1.
func NewChecker(ctx context.Context, flag *Flag, mask uint64) Checker {
	return Checker{ctx: ctx, flag: flag, mask: mask}
}

// ValidateMask returns an error unless mask is of the form 2^k-1.
func ValidateMask(mask uint64) error {
	if bits.OnesCount64(mask+1) != 1 && mask != ^uint64(0) {
		return errors.Newf("poll mask %d is not of the form 2^k-1", mask)
	}
	return nil
}

// Check returns an error if the flag was tripped or the context is done, but
// only consults them when counter&mask == 0. Callers pass their element
// counter, so the latency of observing cancellation is bounded by mask+1
// elements.
func (c *Checker) Check(counter uint64) error {
	if counter&c.mask != 0 {
		return nil
	}
	return c.CheckNow()
}

// CheckNow consults the flag and the context unconditionally.
func (c *Checker) CheckNow() error {
	if c.flag != nil && c.flag.Tripped() {
		return ErrCanceled
	}
	if c.ctx != nil {
		if err := c.ctx.Err(); err != nil {
			return errors.Mark(errors.Wrap(err, "query execution canceled"), ErrCanceled)
		}
	}
	return nil
}
