// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package querymetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.RecordQuery(KindOrdered)
	m.RecordElements(3)
	m.RecordPartitionSpooled(time.Second)
	m.RecordFault()
	m.RecordCancellation()
}

func TestMetrics(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	require.Error(t, m.Register(reg))

	m.RecordQuery(KindOrdered)
	m.RecordQuery(KindOrdered)
	m.RecordQuery(KindForAll)
	m.RecordElements(10)
	m.RecordElements(-1)
	m.RecordPartitionSpooled(2 * time.Millisecond)
	m.RecordFault()
	m.RecordCancellation()

	require.Equal(t, 2.0, testutil.ToFloat64(m.Queries.WithLabelValues(KindOrdered)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Queries.WithLabelValues(KindForAll)))
	require.Equal(t, 10.0, testutil.ToFloat64(m.ElementsMerged))
	require.Equal(t, 1.0, testutil.ToFloat64(m.PartitionsSpooled))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Faults))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Cancellations))

	var pb dto.Metric
	require.NoError(t, m.SpoolDuration.Write(&pb))
	require.Equal(t, uint64(1), pb.GetHistogram().GetSampleCount())
	require.InDelta(t, 0.002, pb.GetHistogram().GetSampleSum(), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(m.Queries))
}
