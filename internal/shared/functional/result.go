package functional

import "fmt"

// Result holds either a value or the error that prevented producing it.
type Result[T any] struct {
	value T
	err   error
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

// Err wraps a failure.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromValue adapts the (value, error) convention.
func FromValue[T any](value T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(value)
}

// IsOk reports whether the Result carries a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// IsErr reports whether the Result carries an error.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and panics on error.
func (r Result[T]) Unwrap() T {
	if r.err != nil {
		panic(fmt.Sprintf("called Unwrap on Err: %v", r.err))
	}
	return r.value
}

// UnwrapOr returns the value, or fallback on error.
func (r Result[T]) UnwrapOr(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// Error returns the carried error, nil on success.
func (r Result[T]) Error() error { return r.err }

// Value returns the value and error in Go's usual order.
func (r Result[T]) Value() (T, error) { return r.value, r.err }

// ToOption drops the error.
func (r Result[T]) ToOption() Option[T] {
	if r.err != nil {
		return None[T]()
	}
	return Some(r.value)
}

func (r Result[T]) String() string {
	if r.err != nil {
		return fmt.Sprintf("Err(%v)", r.err)
	}
	return fmt.Sprintf("Ok(%v)", r.value)
}

// MapResult applies fn to a successful value.
func MapResult[T, U any](r Result[T], fn func(T) U) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return Ok(fn(r.value))
}

// AndThen chains a fallible step after a successful value.
func AndThen[T, U any](r Result[T], fn func(T) Result[U]) Result[U] {
	if r.err != nil {
		return Err[U](r.err)
	}
	return fn(r.value)
}
