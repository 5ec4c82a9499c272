// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package taskgroup

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
)

// AggregateError carries every fault raised by the tasks of one query.
type AggregateError struct {
	errs []error
}

var _ errors.SafeFormatter = (*AggregateError)(nil)
var _ fmt.Formatter = (*AggregateError)(nil)

// NewAggregateError returns an AggregateError over errs. Nested aggregates
// are flattened and nil errors dropped.
func NewAggregateError(errs ...error) *AggregateError {
	e := &AggregateError{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var nested *AggregateError
		if errors.As(err, &nested) {
			e.errs = append(e.errs, nested.errs...)
			continue
		}
		e.errs = append(e.errs, err)
	}
	return e
}

// Errors returns the aggregated errors.
func (e *AggregateError) Errors() []error {
	return e.errs
}

// Unwrap exposes the aggregated errors to errors.Is and errors.As.
func (e *AggregateError) Unwrap() []error {
	return e.errs
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "query failed with %d error(s)", len(e.errs))
	for i, err := range e.errs {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(err.Error())
	}
	return b.String()
}

// SafeFormatError implements errors.SafeFormatter.
func (e *AggregateError) SafeFormatError(p errors.Printer) (next error) {
	p.Printf("query failed with %d error(s)", redact.Safe(len(e.errs)))
	for i, err := range e.errs {
		if i == 0 {
			p.Printf(": %v", err)
		} else {
			p.Printf("; %v", err)
		}
	}
	if p.Detail() {
		for i, err := range e.errs {
			p.Printf("\n(%d) %+v", redact.Safe(i+1), err)
		}
	}
	return nil
}

// Format implements fmt.Formatter.
func (e *AggregateError) Format(s fmt.State, verb rune) { errors.FormatError(e, s, verb) }
