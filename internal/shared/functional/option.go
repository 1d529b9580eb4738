package functional

// Option holds a value that may be absent.
type Option[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, ok: true}
}

// None is the empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool { return o.ok }

// IsNone reports whether the Option is empty.
func (o Option[T]) IsNone() bool { return !o.ok }

// Get returns the value and whether it was present.
func (o Option[T]) Get() (T, bool) { return o.value, o.ok }

// Unwrap returns the value and panics when empty.
func (o Option[T]) Unwrap() T {
	if !o.ok {
		panic("called Unwrap on None")
	}
	return o.value
}

// UnwrapOr returns the value or fallback.
func (o Option[T]) UnwrapOr(fallback T) T {
	if !o.ok {
		return fallback
	}
	return o.value
}

// MapOption applies fn to a present value.
func MapOption[T, U any](o Option[T], fn func(T) U) Option[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(fn(o.value))
}
