// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package querysettings

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
)

// MergeOptions selects how merged output is delivered to the consumer.
type MergeOptions uint8

const (
	// Default lets the engine pick; it behaves like AutoBuffered.
	Default MergeOptions = iota
	// NotBuffered hands each element to the consumer as soon as possible.
	NotBuffered
	// AutoBuffered streams through bounded per-partition buffers.
	AutoBuffered
	// FullyBuffered materializes the whole result before the consumer sees
	// the first element.
	FullyBuffered
)

var mergeOptionNames = [...]string{
	Default:       "default",
	NotBuffered:   "not-buffered",
	AutoBuffered:  "auto-buffered",
	FullyBuffered: "fully-buffered",
}

// String implements fmt.Stringer.
func (m MergeOptions) String() string {
	if int(m) < len(mergeOptionNames) {
		return mergeOptionNames[m]
	}
	return "unknown"
}

// ParseMergeOptions parses the name produced by String.
func ParseMergeOptions(s string) (MergeOptions, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	for i, name := range mergeOptionNames {
		if name == norm {
			return MergeOptions(i), nil
		}
	}
	return Default, errors.Newf("unknown merge option %q", s)
}

var _ pflag.Value = (*MergeOptions)(nil)

// Set implements pflag.Value.
func (m *MergeOptions) Set(s string) error {
	v, err := ParseMergeOptions(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Type implements pflag.Value.
func (m *MergeOptions) Type() string {
	return "merge-options"
}

// MarshalYAML implements yaml.Marshaler.
func (m MergeOptions) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (m *MergeOptions) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return m.Set(s)
}
