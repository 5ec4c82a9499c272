// Copyright 2020 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

type logFormatter interface {
	formatterName() string
	// formatEntry renders a logEntry, including the trailing newline.
	formatEntry(entry logEntry) []byte
}

var formatters = func() map[string]logFormatter {
	m := make(map[string]logFormatter)
	r := func(f logFormatter) {
		m[f.formatterName()] = f
	}
	r(formatCrdbV1{})
	r(formatJSON{})
	return m
}()

// SetFormat selects the entry format by name ("crdb-v1" or "json").
func SetFormat(name string) error {
	f, ok := formatters[name]
	if !ok {
		return errors.Newf("unknown log format: %q", name)
	}
	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.mu.formatter = f
	return nil
}

// formatCrdbV1 renders entries as:
//
//	I251019 12:00:00.123456 42 merge/executor.go:120 ⋮ [q3] message
//
// The leading character is the severity, followed by the date, the time, the
// goroutine ID, the caller, the tags and the message.
type formatCrdbV1 struct{}

func (formatCrdbV1) formatterName() string { return "crdb-v1" }

func (formatCrdbV1) formatEntry(entry logEntry) []byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, entry.sev.String()[0])
	t := time.Unix(0, entry.ts).UTC()
	buf = t.AppendFormat(buf, "060102 15:04:05.000000")
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, entry.gid, 10)
	buf = append(buf, ' ')
	buf = append(buf, entry.file...)
	buf = append(buf, ':')
	buf = strconv.AppendInt(buf, int64(entry.line), 10)
	buf = append(buf, ' ')
	if entry.redactable {
		buf = append(buf, "⋮ "...)
	}
	if entry.tags != "" {
		buf = append(buf, '[')
		buf = append(buf, entry.tags...)
		buf = append(buf, "] "...)
	}
	buf = append(buf, payload(entry)...)
	buf = append(buf, '\n')
	return buf
}

// formatJSON renders one JSON object per line.
type formatJSON struct{}

func (formatJSON) formatterName() string { return "json" }

func (formatJSON) formatEntry(entry logEntry) []byte {
	buf := make([]byte, 0, 160)
	buf = append(buf, `{"severity":`...)
	buf = strconv.AppendQuote(buf, entry.sev.String())
	buf = append(buf, `,"timestamp":"`...)
	buf = strconv.AppendInt(buf, entry.ts/int64(time.Second), 10)
	buf = append(buf, '.')
	nanos := strconv.AppendInt(nil, entry.ts%int64(time.Second), 10)
	for i := len(nanos); i < 9; i++ {
		buf = append(buf, '0')
	}
	buf = append(buf, nanos...)
	buf = append(buf, `","goroutine":`...)
	buf = strconv.AppendInt(buf, entry.gid, 10)
	buf = append(buf, `,"file":`...)
	buf = strconv.AppendQuoteToASCII(buf, entry.file)
	buf = append(buf, `,"line":`...)
	buf = strconv.AppendInt(buf, int64(entry.line), 10)
	buf = append(buf, `,"entry_counter":`...)
	buf = strconv.AppendUint(buf, entry.counter, 10)
	if entry.tags != "" {
		buf = append(buf, `,"tags":`...)
		buf = strconv.AppendQuoteToASCII(buf, entry.tags)
	}
	buf = append(buf, `,"message":`...)
	buf = strconv.AppendQuoteToASCII(buf, payload(entry))
	buf = append(buf, "}\n"...)
	return buf
}

func payload(entry logEntry) string {
	if entry.redactable {
		return string(entry.payload)
	}
	return entry.payload.StripMarkers()
}
