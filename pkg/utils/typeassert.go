package utils

// SafeAssert performs a type assertion and reports whether it held.
func SafeAssert[T any](value any) (T, bool) {
	if v, ok := value.(T); ok {
		return v, true
	}
	var zero T
	return zero, false
}

// Field reads key from a decoded JSON object and asserts its type.
// A missing key and a value of the wrong type both report false.
func Field[T any](m map[string]any, key string) (T, bool) {
	value, exists := m[key]
	if !exists {
		var zero T
		return zero, false
	}
	return SafeAssert[T](value)
}

// FieldOr is Field with a fallback.
func FieldOr[T any](m map[string]any, key string, fallback T) T {
	if v, ok := Field[T](m, key); ok {
		return v
	}
	return fallback
}
