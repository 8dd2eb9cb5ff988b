package repository

// firstOrNone collapses a relation that may match zero or more rows into at
// most one value.
func firstOrNone[T any](items []T) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	return items[0], true
}
