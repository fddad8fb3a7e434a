// Package match provides optional per-field matchers for structural event
// filters. The zero Field is a wildcard.
package match

import "fmt"

type mode uint8

const (
	modeAny mode = iota
	modeEq
	modeWhere
)

// Field constrains a single value of type T.
type Field[T comparable] struct {
	mode mode
	eq   T
	pred func(T) bool
}

// Any returns a wildcard matcher. Equivalent to the zero Field.
func Any[T comparable]() Field[T] {
	return Field[T]{}
}

// Eq matches values equal to v.
func Eq[T comparable](v T) Field[T] {
	return Field[T]{mode: modeEq, eq: v}
}

// Where matches values accepted by pred. A nil pred behaves like Any.
func Where[T comparable](pred func(T) bool) Field[T] {
	if pred == nil {
		return Field[T]{}
	}
	return Field[T]{mode: modeWhere, pred: pred}
}

// OneOf matches any of vs.
func OneOf[T comparable](vs ...T) Field[T] {
	set := make(map[T]struct{}, len(vs))
	for _, v := range vs {
		set[v] = struct{}{}
	}
	return Where(func(v T) bool {
		_, ok := set[v]
		return ok
	})
}

// Match reports whether v satisfies the matcher.
func (f Field[T]) Match(v T) bool {
	switch f.mode {
	case modeEq:
		return v == f.eq
	case modeWhere:
		return f.pred(v)
	default:
		return true
	}
}

// IsAny reports whether the field imposes no constraint.
func (f Field[T]) IsAny() bool {
	return f.mode == modeAny
}

// Value returns the exact value of an Eq matcher.
func (f Field[T]) Value() (T, bool) {
	return f.eq, f.mode == modeEq
}

func (f Field[T]) String() string {
	switch f.mode {
	case modeEq:
		return fmt.Sprintf("=%v", f.eq)
	case modeWhere:
		return "where(...)"
	default:
		return "*"
	}
}
