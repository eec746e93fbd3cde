package stdx

// Zero returns the zero value for type T.
//
// This is useful in generic code where you need to return a zero value but
// the concrete type is not known.
func Zero[T any]() T {
	var zero T
	return zero
}
