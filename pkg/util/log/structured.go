// Copyright 2015 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package log

import (
	"context"
	"strings"

	"github.com/cockroachdb/logtags"
	"github.com/cockroachdb/redact"
)

// FormatWithContextTags formats the string and prepends the context
// tags.
//
// Redaction markers are *not* inserted. The resulting
// string is generally unsafe for reporting.
func FormatWithContextTags(ctx context.Context, format string, args ...interface{}) string {
	var buf strings.Builder
	if tags := formatTags(ctx); tags != "" {
		buf.WriteByte('[')
		buf.WriteString(tags)
		buf.WriteString("] ")
	}
	buf.WriteString(redact.Sprintf(format, args...).StripMarkers())
	return buf.String()
}

// formatTags renders the logging tags attached to ctx, e.g. "q12,p3".
func formatTags(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tags := logtags.FromContext(ctx)
	if tags == nil {
		return ""
	}
	return tags.String()
}

// addStructured creates a structured log entry and writes it to the
// configured output.
func addStructured(
	ctx context.Context, sev Severity, depth int, format string, args []interface{},
) {
	logging.mu.Lock()
	redactable := logging.mu.redactable
	logging.mu.Unlock()

	entry := makeEntry(ctx, sev, depth+1, redactable, format, args)
	logging.outputLogEntry(entry)
}
