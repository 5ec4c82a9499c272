// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

// Package log implements the leveled, context-aware logging used by the
// query engine. Every entry carries the logging tags attached to the context
// (see github.com/cockroachdb/logtags), the emitting goroutine and the
// caller's file and line. Message arguments are formatted through
// github.com/cockroachdb/redact so that unsafe values can be stripped from
// entries that leave the process.
package log

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/parallelquery/pkg/util/syncutil"
	"github.com/cockroachdb/parallelquery/pkg/util/timeutil"
	"github.com/cockroachdb/redact"
	"github.com/petermattis/goid"
)

// Severity identifies the importance of a log entry.
type Severity int32

const (
	// SeverityUnknown is never emitted.
	SeverityUnknown Severity = iota
	// SeverityInfo is for informational messages.
	SeverityInfo
	// SeverityWarning is for conditions that may need attention.
	SeverityWarning
	// SeverityError is for faults.
	SeverityError
	// SeverityFatal entries terminate the process after being written.
	SeverityFatal
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// SeverityByName returns the severity with the given name.
func SeverityByName(name string) (Severity, bool) {
	switch strings.ToUpper(name) {
	case "INFO":
		return SeverityInfo, true
	case "WARNING", "WARN":
		return SeverityWarning, true
	case "ERROR":
		return SeverityError, true
	case "FATAL":
		return SeverityFatal, true
	}
	return SeverityUnknown, false
}

// logEntry is a single formatted log event before it is rendered by a
// formatter.
type logEntry struct {
	sev        Severity
	ts         int64
	gid        int64
	file       string
	line       int
	tags       string
	counter    uint64
	payload    redact.RedactableString
	redactable bool
}

type loggingT struct {
	// entryCounter is incremented for each entry; it lets readers detect
	// dropped entries.
	entryCounter uint64

	// verbosity is the V level below which VEventf entries are emitted.
	verbosity int32

	mu struct {
		syncutil.Mutex
		out          io.Writer
		formatter    logFormatter
		minSeverity  Severity
		redactable   bool
		exitOverride struct {
			f func(int)
		}
	}
}

var logging = func() *loggingT {
	l := &loggingT{}
	l.mu.out = os.Stderr
	l.mu.formatter = formatCrdbV1{}
	l.mu.minSeverity = SeverityInfo
	return l
}()

// SetOutput redirects log entries to w. It returns a function restoring the
// previous output, useful in tests.
func SetOutput(w io.Writer) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.out
	logging.mu.out = w
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.out = prev
	}
}

// SetMinSeverity drops entries below sev. It returns a function restoring the
// previous threshold.
func SetMinSeverity(sev Severity) (restore func()) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	prev := logging.mu.minSeverity
	logging.mu.minSeverity = sev
	return func() {
		logging.mu.Lock()
		defer logging.mu.Unlock()
		logging.mu.minSeverity = prev
	}
}

// SetRedactable controls whether redaction markers are kept in the output.
func SetRedactable(redactable bool) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.mu.redactable = redactable
}

// SetVerbosity sets the global V level. It returns a function restoring the
// previous level.
func SetVerbosity(level int32) (restore func()) {
	prev := atomic.SwapInt32(&logging.verbosity, level)
	return func() { atomic.StoreInt32(&logging.verbosity, prev) }
}

// V returns true if the logging verbosity is set to the specified level or
// higher.
func V(level int32) bool {
	return atomic.LoadInt32(&logging.verbosity) >= level
}

// Infof logs to the INFO severity.
func Infof(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityInfo, 1, format, args)
}

// Warningf logs to the WARNING severity.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityWarning, 1, format, args)
}

// Errorf logs to the ERROR severity.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityError, 1, format, args)
}

// Fatalf logs to the FATAL severity and then terminates the process, unless
// an exit function was installed with SetExitFunc.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	addStructured(ctx, SeverityFatal, 1, format, args)
}

// VEventf logs at INFO severity if the verbosity is at least level.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if !V(level) {
		return
	}
	addStructured(ctx, SeverityInfo, 1, format, args)
}

// makeEntry captures the caller and the context tags. depth counts the frames
// between the caller of the public API and makeEntry.
func makeEntry(
	ctx context.Context, sev Severity, depth int, redactable bool, format string, args []interface{},
) logEntry {
	entry := logEntry{
		sev:        sev,
		ts:         timeutil.Now().UnixNano(),
		gid:        goid.Get(),
		counter:    atomic.AddUint64(&logging.entryCounter, 1),
		redactable: redactable,
		tags:       formatTags(ctx),
	}
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		entry.file = filepath.Join(filepath.Base(filepath.Dir(file)), filepath.Base(file))
		entry.line = line
	} else {
		entry.file = "???"
		entry.line = 1
	}
	if len(args) == 0 {
		entry.payload = redact.Sprint(redact.Safe(format))
	} else {
		entry.payload = redact.Sprintf(format, args...)
	}
	return entry
}

func (l *loggingT) outputLogEntry(entry logEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.sev < l.mu.minSeverity && entry.sev != SeverityFatal {
		return
	}
	buf := l.mu.formatter.formatEntry(entry)
	_, _ = l.mu.out.Write(buf)
	if entry.sev == SeverityFatal {
		l.exitLocked()
	}
}
