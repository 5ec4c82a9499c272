// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/util/buildutil"
	"github.com/cockroachdb/parallelquery/pkg/util/log"
	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
)

// PartitionedStreamMerger receives a stream whose key type is known only to
// the partitioning stage and starts the merge for it. It accepts exactly one
// stream.
type PartitionedStreamMerger[T any] struct {
	ctx      context.Context
	settings querysettings.Settings
	opts     Options[T]

	received syncutil.AtomicBool
	executor Executor[T]
	err      error
}

var _ stream.Recipient[int] = (*PartitionedStreamMerger[int])(nil)

// NewPartitionedStreamMerger returns a merger that will run with the given
// settings and options.
func NewPartitionedStreamMerger[T any](
	ctx context.Context, settings querysettings.Settings, opts Options[T],
) *PartitionedStreamMerger[T] {
	return &PartitionedStreamMerger[T]{ctx: ctx, settings: settings, opts: opts}
}

// ReceiveOrdinal is part of the stream.Recipient interface.
func (m *PartitionedStreamMerger[T]) ReceiveOrdinal(s *stream.PartitionedStream[T, stream.Ordinal]) {
	receive(m, s)
}

// ReceivePairKey is part of the stream.Recipient interface.
func (m *PartitionedStreamMerger[T]) ReceivePairKey(s *stream.PartitionedStream[T, stream.PairKey]) {
	receive(m, s)
}

// ReceiveAny is part of the stream.Recipient interface.
func (m *PartitionedStreamMerger[T]) ReceiveAny(s *stream.PartitionedStream[T, any]) {
	receive(m, s)
}

func receive[T, K any](m *PartitionedStreamMerger[T], s *stream.PartitionedStream[T, K]) {
	if !m.received.CompareAndSwap(false, true) {
		err := errors.AssertionFailedf("partitioned stream merger received a second stream")
		if buildutil.Invariants {
			panic(err)
		}
		log.Warningf(m.ctx, "ignoring stream: %v", err)
		return
	}
	e, err := Execute(m.ctx, s, m.settings, m.opts)
	if err != nil {
		m.err = err
		return
	}
	m.executor = e
}

// Executor returns the executor started for the received stream.
func (m *PartitionedStreamMerger[T]) Executor() (Executor[T], error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.executor == nil {
		return nil, errors.AssertionFailedf("partitioned stream merger has not received a stream")
	}
	return m.executor, nil
}

// Merge starts merging s, whatever its key type.
func Merge[T any](
	ctx context.Context, s stream.Any[T], settings querysettings.Settings, opts Options[T],
) (Executor[T], error) {
	m := NewPartitionedStreamMerger(ctx, settings, opts)
	s.Accept(m)
	return m.Executor()
}
