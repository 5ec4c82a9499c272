// Copyright 2017 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package ctxgroup

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestErrorAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	g := WithContext(ctx)
	cancel()
	require.ErrorIs(t, g.Wait(), context.Canceled)
}

func TestFirstErrorCancelsSiblings(t *testing.T) {
	g := WithContext(context.Background())
	expected := errors.New("boom")
	g.GoCtx(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	g.Go(func() error { return expected })
	require.Equal(t, expected, g.Wait())
}

func TestZeroGroup(t *testing.T) {
	var g Group
	require.NoError(t, g.Wait())
}
