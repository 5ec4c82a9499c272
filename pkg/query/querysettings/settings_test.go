// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package querysettings

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/cockroachdb/parallelquery/pkg/testutils"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	require.Equal(t, runtime.GOMAXPROCS(0), d.DegreeOfParallelism)
	require.Equal(t, Default, d.MergeOptions)
	require.True(t, d.Pipelined())
	require.Equal(t, DefaultPipelineBufferSize, d.EffectiveBufferSize())
	require.NoError(t, d.Validate())
	require.Equal(t, d, Settings{}.WithDefaults())
}

func TestWithDefaultsKeepsExplicitValues(t *testing.T) {
	s := Settings{
		DegreeOfParallelism:    3,
		MergeOptions:           NotBuffered,
		PipelineBufferSize:     7,
		PollMask:               1,
		HeapSelectionThreshold: 1,
	}
	require.Equal(t, s, s.WithDefaults())

	// Zero fields mean "default".
	d := Defaults()
	got := Settings{DegreeOfParallelism: 3}.WithDefaults()
	require.Equal(t, d.PipelineBufferSize, got.PipelineBufferSize)
	require.Equal(t, d.PollMask, got.PollMask)
	require.Equal(t, d.HeapSelectionThreshold, got.HeapSelectionThreshold)
}

func TestPipelined(t *testing.T) {
	for _, tc := range []struct {
		opts      MergeOptions
		pipelined bool
		buf       int
	}{
		{Default, true, 16},
		{NotBuffered, true, 0},
		{AutoBuffered, true, 16},
		{FullyBuffered, false, 16},
	} {
		s := Settings{MergeOptions: tc.opts, PipelineBufferSize: 16}
		require.Equal(t, tc.pipelined, s.Pipelined(), tc.opts)
		require.Equal(t, tc.buf, s.EffectiveBufferSize(), tc.opts)
	}
}

func TestValidate(t *testing.T) {
	base := Defaults()
	for _, tc := range []struct {
		name   string
		mutate func(*Settings)
		expErr string
	}{
		{"dop zero", func(s *Settings) { s.DegreeOfParallelism = 0 }, "degree of parallelism 0 out of range"},
		{"dop too big", func(s *Settings) { s.DegreeOfParallelism = MaxSupportedDOP + 1 }, "out of range"},
		{"merge option", func(s *Settings) { s.MergeOptions = 9 }, "invalid merge options"},
		{"buffer", func(s *Settings) { s.PipelineBufferSize = -1 }, "must not be negative"},
		{"mask", func(s *Settings) { s.PollMask = 10 }, "not of the form"},
		{"ok", func(s *Settings) { s.PollMask = 1023 }, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := base
			tc.mutate(&s)
			err := s.Validate()
			if tc.expErr == "" {
				require.NoError(t, err)
				return
			}
			require.True(t, testutils.IsError(err, tc.expErr), "%v", err)
		})
	}
}

func TestLoadYAML(t *testing.T) {
	s, err := LoadYAML([]byte(`
degree_of_parallelism: 4
merge_options: fully_buffered
poll_mask: 255
`))
	require.NoError(t, err)
	require.Equal(t, 4, s.DegreeOfParallelism)
	require.Equal(t, FullyBuffered, s.MergeOptions)
	require.Equal(t, uint64(255), s.PollMask)
	require.Equal(t, DefaultPipelineBufferSize, s.PipelineBufferSize)

	out, err := s.YAML()
	require.NoError(t, err)
	require.Contains(t, out, "merge_options: fully-buffered")
	back, err := LoadYAML([]byte(out))
	require.NoError(t, err)
	require.Equal(t, s, back)

	_, err = LoadYAML([]byte("merge_options: sometimes\n"))
	require.True(t, testutils.IsError(err, `unknown merge option "sometimes"`), "%v", err)
	_, err = LoadYAML([]byte("bogus_field: 1\n"))
	require.Error(t, err)
	_, err = LoadYAML([]byte("degree_of_parallelism: 100000\n"))
	require.True(t, testutils.IsError(err, "out of range"), "%v", err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("merge_options: not-buffered\n"), 0644))
	s, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, NotBuffered, s.MergeOptions)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, testutils.IsError(err, "reading .*missing.yaml"), "%v", err)
}

func TestRegisterFlags(t *testing.T) {
	s := Defaults()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	s.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--dop=3", "--merge=AUTO-BUFFERED", "--buffer-size=7"}))
	require.Equal(t, 3, s.DegreeOfParallelism)
	require.Equal(t, AutoBuffered, s.MergeOptions)
	require.Equal(t, 7, s.PipelineBufferSize)
	require.Error(t, fs.Parse([]string{"--merge=eventually"}))
}
