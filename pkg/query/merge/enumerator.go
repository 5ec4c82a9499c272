// Copyright 2025 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package merge

// Enumerator is a forward-only, single-pass iteration over merge results.
//
//	for e.Next() {
//	  use(e.Current())
//	}
//	if err := e.Err(); err != nil {
//	  ...
//	}
//	_ = e.Close()
//
// Once Next returns false it keeps returning false. Close must be called
// when the consumer stops early; it is safe to call more than once.
type Enumerator[T any] interface {
	Next() bool
	Current() T
	// Err returns the error that ended the iteration, if any.
	Err() error
	Close() error
}

type sliceEnumerator[T any] struct {
	values []T
	pos    int
	err    error
}

var _ Enumerator[int] = (*sliceEnumerator[int])(nil)

func newSliceEnumerator[T any](values []T) *sliceEnumerator[T] {
	return &sliceEnumerator[T]{values: values}
}

func newErrEnumerator[T any](err error) *sliceEnumerator[T] {
	return &sliceEnumerator[T]{err: err}
}

func (e *sliceEnumerator[T]) Next() bool {
	if e.pos >= len(e.values) {
		return false
	}
	e.pos++
	return true
}

func (e *sliceEnumerator[T]) Current() T {
	return e.values[e.pos-1]
}

func (e *sliceEnumerator[T]) Err() error {
	return e.err
}

func (e *sliceEnumerator[T]) Close() error {
	return nil
}

// Collect drains e and closes it.
func Collect[T any](e Enumerator[T]) ([]T, error) {
	var out []T
	for e.Next() {
		out = append(out, e.Current())
	}
	if err := e.Err(); err != nil {
		_ = e.Close()
		return nil, err
	}
	if err := e.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// Take returns up to k elements of e and closes it. A non-positive k takes
// nothing.
func Take[T any](e Enumerator[T], k int) ([]T, error) {
	if k < 0 {
		k = 0
	}
	out := make([]T, 0, k)
	for len(out) < k && e.Next() {
		out = append(out, e.Current())
	}
	if err := e.Err(); err != nil {
		_ = e.Close()
		return nil, err
	}
	if err := e.Close(); err != nil {
		return nil, err
	}
	return out, nil
}
