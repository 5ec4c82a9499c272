// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// mergebench runs merges over synthetic partitioned streams and reports
// their throughput.
package main

import (
	"context"
	"os"
	"time"

	"github.com/cockroachdb/parallelquery/pkg/query/querysettings"
	"github.com/cockroachdb/parallelquery/pkg/util/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var cfg = config{
	settings:      querysettings.Defaults(),
	partitions:    8,
	rows:          100000,
	runs:          3,
	distribution:  distributionRange,
	ordered:       true,
	progressEvery: time.Second,
}

var rootFlags = pflag.NewFlagSet(`mergebench`, pflag.ExitOnError)
var settingsFile = rootFlags.String("settings", "", "YAML file with query settings; flags override it")
var logFormat = rootFlags.String("log-format", "crdb-v1", "log entry format: crdb-v1 or json")

func init() {
	rootFlags.IntVar(&cfg.partitions, "partitions", cfg.partitions, "number of partitions")
	rootFlags.IntVar(&cfg.rows, "rows", cfg.rows, "rows per partition")
	rootFlags.IntVar(&cfg.runs, "runs", cfg.runs, "number of merges to run")
	rootFlags.Int64Var(&cfg.seed, "seed", 0, "seed for the random distribution; 0 picks one")
	rootFlags.Var(&cfg.distribution, "distribution", "key distribution: range, striped or random")
	rootFlags.BoolVar(&cfg.ordered, "ordered", cfg.ordered, "preserve key order")
	rootFlags.BoolVar(&cfg.showMetrics, "metrics", false, "print the merge metrics after the runs")
	rootFlags.BoolVar(&cfg.verbose, "verbose", false, "print the effective configuration")
	rootFlags.DurationVar(&cfg.progressEvery, "progress", cfg.progressEvery, "progress log interval")
	cfg.settings.RegisterFlags(rootFlags)
	rootCmd.Flags().AddFlagSet(rootFlags)
}

var rootCmd = &cobra.Command{
	Use:   "mergebench",
	Short: "Benchmark parallel merges over synthetic partitioned streams",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := log.SetFormat(*logFormat); err != nil {
			return err
		}
		if *settingsFile != "" {
			loaded, err := querysettings.LoadFile(*settingsFile)
			if err != nil {
				return err
			}
			// Flags given on the command line take precedence over the file.
			overrides := cfg.settings
			cfg.settings = loaded
			rootFlags.Visit(func(f *pflag.Flag) {
				switch f.Name {
				case "dop":
					cfg.settings.DegreeOfParallelism = overrides.DegreeOfParallelism
				case "merge":
					cfg.settings.MergeOptions = overrides.MergeOptions
				case "buffer-size":
					cfg.settings.PipelineBufferSize = overrides.PipelineBufferSize
				case "poll-mask":
					cfg.settings.PollMask = overrides.PollMask
				case "heap-threshold":
					cfg.settings.HeapSelectionThreshold = overrides.HeapSelectionThreshold
				}
			})
		}
		return run(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		// Cobra has already printed the error message.
		os.Exit(1)
	}
}
