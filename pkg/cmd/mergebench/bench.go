// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/query/merge"
	"github.com/cockroachdb/parallelquery/pkg/query/querymetrics"
	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/query/stream"
	"github.com/cockroachdb/parallelquery/pkg/util/ctxgroup"
	"github.com/cockroachdb/parallelquery/pkg/util/log"
	"github.com/cockroachdb/parallelquery/pkg/util/randutil"
	"github.com/cockroachdb/parallelquery/pkg/util/timeutil"
	"github.com/dustin/go-humanize"
	"github.com/kr/pretty"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

type distribution string

const (
	distributionRange   distribution = "range"
	distributionStriped distribution = "striped"
	distributionRandom  distribution = "random"
)

func (d *distribution) String() string { return string(*d) }
func (d *distribution) Type() string   { return "distribution" }
func (d *distribution) Set(s string) error {
	switch v := distribution(s); v {
	case distributionRange, distributionStriped, distributionRandom:
		*d = v
		return nil
	}
	return errors.Newf("unknown distribution %q", s)
}

type config struct {
	settings      querysettings.Settings
	partitions    int
	rows          int
	runs          int
	seed          int64
	distribution  distribution
	ordered       bool
	showMetrics   bool
	verbose       bool
	progressEvery time.Duration
}

type runResult struct {
	run      int
	kind     string
	elements int64
	elapsed  time.Duration
	ordered  bool
}

// buildStream returns a stream of cfg.partitions partitions with cfg.rows
// rows each.
func buildStream(cfg config, seed int64) *stream.PartitionedStream[int64, stream.Ordinal] {
	switch cfg.distribution {
	case distributionStriped, distributionRange:
		values := make([]int64, cfg.partitions*cfg.rows)
		for i := range values {
			values[i] = int64(i)
		}
		if cfg.distribution == distributionStriped {
			return stream.PartitionStriped(values, cfg.partitions)
		}
		return stream.PartitionSlice(values, cfg.partitions)
	}

	// Random: every partition draws non-decreasing keys with random gaps, so
	// equal keys across partitions are common.
	parts := make([]stream.Partition[int64, stream.Ordinal], cfg.partitions)
	for p := range parts {
		rng := rand.New(rand.NewSource(seed + int64(p)))
		var key int64
		remaining := cfg.rows
		parts[p] = stream.FuncPartition[int64, stream.Ordinal](func(context.Context) (stream.Ordinal, int64, bool, error) {
			if remaining == 0 {
				return 0, 0, false, nil
			}
			remaining--
			key += rng.Int63n(int64(cfg.partitions) + 1)
			return stream.Ordinal(key), key, true, nil
		})
	}
	return stream.NewPartitionedStream(parts, stream.CompareOrdinals, stream.Correct)
}

// runOnce executes one merge and consumes its output, adding every consumed
// element to progress.
func runOnce(
	ctx context.Context,
	cfg config,
	seed int64,
	metrics *querymetrics.Metrics,
	progress *int64,
) (runResult, error) {
	s := buildStream(cfg, seed)
	start := timeutil.Now()
	e, err := merge.Merge[int64](ctx, s, cfg.settings, merge.Options[int64]{
		PreserveOrder: cfg.ordered,
		Metrics:       metrics,
	})
	if err != nil {
		return runResult{}, err
	}
	res := runResult{ordered: true}
	if me, ok := e.(*merge.MergeExecutor[int64, stream.Ordinal]); ok {
		res.kind = me.Kind()
	}
	en := e.GetEnumerator()
	var last int64
	for en.Next() {
		v := en.Current()
		if res.elements > 0 && v < last {
			res.ordered = false
		}
		last = v
		res.elements++
		atomic.AddInt64(progress, 1)
	}
	if err := en.Err(); err != nil {
		_ = e.Close()
		return runResult{}, err
	}
	if err := en.Close(); err != nil {
		return runResult{}, err
	}
	if err := e.Close(); err != nil {
		return runResult{}, err
	}
	res.elapsed = timeutil.Since(start)
	return res, nil
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	cfg.settings = cfg.settings.WithDefaults()
	if err := cfg.settings.Validate(); err != nil {
		return err
	}
	if cfg.partitions < 1 || cfg.rows < 0 || cfg.runs < 1 {
		return errors.Newf("invalid workload: %d partitions of %d rows, %d runs",
			cfg.partitions, cfg.rows, cfg.runs)
	}
	seed := cfg.seed
	if seed == 0 {
		seed = randutil.NewPseudoSeed()
	}
	if cfg.verbose {
		fmt.Fprintf(out, "config: %# v\nseed: %d\n", pretty.Formatter(cfg), seed)
	}

	metrics := querymetrics.New()
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}

	var progress int64
	var results []runResult
	done := make(chan struct{})
	g := ctxgroup.WithContext(ctx)
	g.GoCtx(func(ctx context.Context) error {
		defer close(done)
		for i := 0; i < cfg.runs; i++ {
			res, err := runOnce(ctx, cfg, seed, metrics, &progress)
			if err != nil {
				return errors.Wrapf(err, "run %d", i)
			}
			res.run = i
			results = append(results, res)
		}
		return nil
	})
	g.GoCtx(func(ctx context.Context) error {
		if cfg.progressEvery <= 0 {
			return nil
		}
		ticker := time.NewTicker(cfg.progressEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				log.Infof(ctx, "merged %s elements", humanize.Comma(atomic.LoadInt64(&progress)))
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	writeResults(out, results)
	if cfg.showMetrics {
		families, err := reg.Gather()
		if err != nil {
			return errors.Wrap(err, "gathering metrics")
		}
		writeMetrics(out, families)
	}
	return nil
}

func writeResults(out io.Writer, results []runResult) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"run", "merge", "elements", "elapsed", "rate", "ordered"})
	for _, r := range results {
		rate := float64(r.elements) / r.elapsed.Seconds()
		table.Append([]string{
			strconv.Itoa(r.run),
			r.kind,
			humanize.Comma(r.elements),
			r.elapsed.Round(time.Microsecond).String(),
			humanize.SIWithDigits(rate, 1, "elem/s"),
			strconv.FormatBool(r.ordered),
		})
	}
	table.Render()
}

func writeMetrics(out io.Writer, families []*dto.MetricFamily) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"metric", "labels", "value"})
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			var labels string
			for i, lp := range m.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += lp.GetName() + "=" + lp.GetValue()
			}
			var value string
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				value = humanize.Ftoa(m.GetCounter().GetValue())
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				value = fmt.Sprintf("count=%d sum=%.6f", h.GetSampleCount(), h.GetSampleSum())
			default:
				value = m.String()
			}
			table.Append([]string{mf.GetName(), labels, value})
		}
	}
	table.Render()
}
