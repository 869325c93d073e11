// Package sliceutils holds small slice helpers shared across the tools.
package sliceutils

// ContainsValue reports whether value is present in slice.
func ContainsValue[T comparable](slice []T, value T) bool {
	for _, entry := range slice {
		if entry == value {
			return true
		}
	}
	return false
}

// FindValueFunc returns the first element matching the predicate and whether
// one was found.
func FindValueFunc[T any](slice []T, match func(T) bool) (T, bool) {
	for _, entry := range slice {
		if match(entry) {
			return entry, true
		}
	}
	var zero T
	return zero, false
}
