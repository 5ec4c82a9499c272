// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package querysettings holds the per-query knobs consulted by the merge
// engine. Settings can be built in code, loaded from YAML or bound to
// command-line flags.
package querysettings

import (
	"os"
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/parallelquery/pkg/util/cancelchecker"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// MaxSupportedDOP is the largest degree of parallelism a query may request.
const MaxSupportedDOP = 512

const (
	// DefaultPipelineBufferSize is the per-partition channel capacity used by
	// pipelined merges.
	DefaultPipelineBufferSize = 128
	// DefaultHeapSelectionThreshold is the partition count above which the
	// order-preserving merge selects the next element with a heap instead of
	// a linear scan.
	DefaultHeapSelectionThreshold = 8
)

// Settings configures one query.
type Settings struct {
	// DegreeOfParallelism bounds the number of concurrently running merge
	// tasks. Zero means runtime.GOMAXPROCS.
	DegreeOfParallelism int `yaml:"degree_of_parallelism"`
	// MergeOptions selects pipelined or stop-and-go delivery.
	MergeOptions MergeOptions `yaml:"merge_options"`
	// PipelineBufferSize is the capacity of each partition's channel in a
	// pipelined merge. Ignored when not pipelined, and forced to zero by
	// NotBuffered. Zero selects DefaultPipelineBufferSize; use NotBuffered for
	// unbuffered channels.
	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	// PollMask controls how often producers check for cancellation: every
	// element whose ordinal has no bits in common with the mask. Zero selects
	// cancelchecker.DefaultPollMask; 1 polls every other element.
	PollMask uint64 `yaml:"poll_mask"`
	// HeapSelectionThreshold; see DefaultHeapSelectionThreshold. Zero selects
	// the default; 1 uses the heap whenever there are two or more partitions.
	HeapSelectionThreshold int `yaml:"heap_selection_threshold"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		DegreeOfParallelism:    runtime.GOMAXPROCS(0),
		MergeOptions:           Default,
		PipelineBufferSize:     DefaultPipelineBufferSize,
		PollMask:               cancelchecker.DefaultPollMask,
		HeapSelectionThreshold: DefaultHeapSelectionThreshold,
	}
}

// WithDefaults fills zero fields from Defaults. Zero is never a usable value
// for the fields it fills, so an explicit zero also means "default".
func (s Settings) WithDefaults() Settings {
	d := Defaults()
	if s.DegreeOfParallelism == 0 {
		s.DegreeOfParallelism = d.DegreeOfParallelism
	}
	if s.PipelineBufferSize == 0 {
		s.PipelineBufferSize = d.PipelineBufferSize
	}
	if s.PollMask == 0 {
		s.PollMask = d.PollMask
	}
	if s.HeapSelectionThreshold == 0 {
		s.HeapSelectionThreshold = d.HeapSelectionThreshold
	}
	return s
}

// Validate returns an error describing the first invalid field.
func (s Settings) Validate() error {
	if s.DegreeOfParallelism < 1 || s.DegreeOfParallelism > MaxSupportedDOP {
		return errors.Newf("degree of parallelism %d out of range [1, %d]",
			s.DegreeOfParallelism, MaxSupportedDOP)
	}
	if s.MergeOptions > FullyBuffered {
		return errors.Newf("invalid merge options %d", s.MergeOptions)
	}
	if s.PipelineBufferSize < 0 {
		return errors.Newf("pipeline buffer size %d must not be negative", s.PipelineBufferSize)
	}
	if s.HeapSelectionThreshold < 0 {
		return errors.Newf("heap selection threshold %d must not be negative",
			s.HeapSelectionThreshold)
	}
	return cancelchecker.ValidateMask(s.PollMask)
}

// Pipelined reports whether results are delivered while producers run.
func (s Settings) Pipelined() bool {
	return s.MergeOptions != FullyBuffered
}

// EffectiveBufferSize is the per-partition channel capacity of a pipelined
// merge.
func (s Settings) EffectiveBufferSize() int {
	if s.MergeOptions == NotBuffered {
		return 0
	}
	return s.PipelineBufferSize
}

// LoadYAML parses settings from YAML, applies defaults and validates them.
func LoadYAML(data []byte) (Settings, error) {
	var s Settings
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return Settings{}, errors.Wrap(err, "parsing query settings")
	}
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadFile is LoadYAML on the contents of path.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, errors.Wrapf(err, "reading %s", path)
	}
	return LoadYAML(data)
}

// YAML renders s in the format accepted by LoadYAML.
func (s Settings) YAML() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "encoding query settings")
	}
	return string(out), nil
}

// RegisterFlags binds the fields of s to flags in fs.
func (s *Settings) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(&s.DegreeOfParallelism, "dop", s.DegreeOfParallelism,
		"maximum number of concurrently running merge tasks")
	fs.Var(&s.MergeOptions, "merge", "merge mode: default, not-buffered, auto-buffered or fully-buffered")
	fs.IntVar(&s.PipelineBufferSize, "buffer-size", s.PipelineBufferSize,
		"per-partition channel capacity for pipelined merges")
	fs.Uint64Var(&s.PollMask, "poll-mask", s.PollMask,
		"cancellation is polled when the element ordinal masked with this value is zero")
	fs.IntVar(&s.HeapSelectionThreshold, "heap-threshold", s.HeapSelectionThreshold,
		"partition count above which a heap selects the next element")
}
