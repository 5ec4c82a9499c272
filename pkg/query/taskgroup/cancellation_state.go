// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package taskgroup

import (
	"context"

	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
)

// CancellationState is the cancellation shared by every task of one query.
// It observes the caller's context and adds an internal signal used to stop
// sibling tasks after a fault or when the consumer abandons the results. It
// never cancels the caller's context.
type CancellationState struct {
	external context.Context
	merged   context.Context
	cancel   context.CancelCauseFunc
	flag     cancelchecker.Flag
	pollMask uint64
}

// NewCancellationState derives the query's cancellation from ctx.
func NewCancellationState(ctx context.Context, pollMask uint64) *CancellationState {
	merged, cancel := context.WithCancelCause(ctx)
	return &CancellationState{
		external: ctx,
		merged:   merged,
		cancel:   cancel,
		pollMask: pollMask,
	}
}

// Context is canceled when either the caller's context or the query is
// canceled.
func (c *CancellationState) Context() context.Context {
	return c.merged
}

// Cancel requests that all tasks of the query stop. Only the first call has
// an effect; it returns whether this call was that one.
func (c *CancellationState) Cancel(cause error) bool {
	if !c.flag.Trip() {
		return false
	}
	c.cancel(cause)
	return true
}

// Canceled returns whether the query was canceled, by Cancel or by the
// caller.
func (c *CancellationState) Canceled() bool {
	return c.flag.Tripped() || c.external.Err() != nil
}

// ExternallyCanceled returns whether the caller's context is done.
func (c *CancellationState) ExternallyCanceled() bool {
	return c.external.Err() != nil
}

// ExternalErr returns the caller's context error.
func (c *CancellationState) ExternalErr() error {
	return c.external.Err()
}

// Cause returns the error passed to the first Cancel, or the caller's
// context error.
func (c *CancellationState) Cause() error {
	return context.Cause(c.merged)
}

// Checker returns a cancellation checker for one task.
func (c *CancellationState) Checker() cancelchecker.Checker {
	return cancelchecker.NewChecker(c.merged, &c.flag, c.pollMask)
}

// ExternalChecker returns a checker observing only the caller's context. It
// remains usable after the group has finished.
func (c *CancellationState) ExternalChecker() cancelchecker.Checker {
	return cancelchecker.NewChecker(c.external, nil, c.pollMask)
}

// release frees the resources of the merged context. It must only be called
// once every task has returned.
func (c *CancellationState) release() {
	c.cancel(nil)
}
