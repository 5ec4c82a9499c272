// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package querymetrics exposes counters describing merge executions.
package querymetrics

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "parallelquery"
	subsystem = "merge"
)

// Merge kinds, used as the "merge" label of the queries counter.
const (
	KindOrdered            = "ordered"
	KindOrderedPipelined   = "ordered_pipelined"
	KindUnordered          = "unordered"
	KindUnorderedPipelined = "unordered_pipelined"
	KindForAll             = "for_all"
)

// Metrics groups the merge layer's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Queries           *prometheus.CounterVec
	ElementsMerged    prometheus.Counter
	PartitionsSpooled prometheus.Counter
	Faults            prometheus.Counter
	Cancellations     prometheus.Counter
	SpoolDuration     prometheus.Histogram
}

// New returns unregistered metrics.
func New() *Metrics {
	return &Metrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queries_total",
			Help:      "Number of merge executions started, by merge kind.",
		}, []string{"merge"}),
		ElementsMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "elements_merged_total",
			Help:      "Number of elements produced by merges.",
		}),
		PartitionsSpooled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "partitions_spooled_total",
			Help:      "Number of partitions drained to completion.",
		}),
		Faults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "faults_total",
			Help:      "Number of task faults recorded by query task groups.",
		}),
		Cancellations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cancellations_total",
			Help:      "Number of queries that ended because their context was canceled.",
		}),
		SpoolDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "spool_duration_seconds",
			Help:      "Time taken to drain one partition.",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 12),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Queries, m.ElementsMerged, m.PartitionsSpooled, m.Faults, m.Cancellations, m.SpoolDuration,
	}
}

// Register registers every collector with r.
func (m *Metrics) Register(r prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := r.Register(c); err != nil {
			return errors.Wrap(err, "registering merge metrics")
		}
	}
	return nil
}

// RecordQuery counts the start of a merge of the given kind.
func (m *Metrics) RecordQuery(kind string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(kind).Inc()
}

// RecordElements counts n merged elements.
func (m *Metrics) RecordElements(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ElementsMerged.Add(float64(n))
}

// RecordPartitionSpooled counts a fully drained partition.
func (m *Metrics) RecordPartitionSpooled(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.PartitionsSpooled.Inc()
	m.SpoolDuration.Observe(elapsed.Seconds())
}

// RecordFault counts a task fault.
func (m *Metrics) RecordFault() {
	if m == nil {
		return
	}
	m.Faults.Inc()
}

// RecordCancellation counts an externally canceled query.
func (m *Metrics) RecordCancellation() {
	if m == nil {
		return
	}
	m.Cancellations.Inc()
}
