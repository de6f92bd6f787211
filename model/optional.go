package model

// Optional holds a value that a source may or may not have supplied. The zero
// value is unset, which is distinct from a set zero value.
type Optional[T any] struct {
	v  T
	ok bool
}

// Some wraps a supplied value.
func Some[T any](v T) Optional[T] { return Optional[T]{v: v, ok: true} }

// None returns an unset Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) { return o.v, o.ok }

// IsSet reports whether a value was supplied.
func (o Optional[T]) IsSet() bool { return o.ok }

// OrElse returns the value if set, otherwise def.
func (o Optional[T]) OrElse(def T) T {
	if o.ok {
		return o.v
	}
	return def
}

// Ptr returns a pointer to a copy of the value, or nil when unset.
func (o Optional[T]) Ptr() *T {
	if !o.ok {
		return nil
	}
	v := o.v
	return &v
}

// FromPtr converts a nil-able pointer into an Optional.
func FromPtr[T any](p *T) Optional[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}
