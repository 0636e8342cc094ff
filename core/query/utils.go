package query

import "strconv"

// ToFloat64 is a utility function that converts a value of various numeric types
// to a float64. Numeric strings are parsed. It returns the converted float64 and
// a boolean indicating whether the conversion was successful.
func ToFloat64(v any) (float64, bool) {
	if f, ok := ToFloat64Strict(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// ToFloat64Strict converts numeric Go types only; strings are rejected.
func ToFloat64Strict(v any) (float64, bool) {
	switch val := v.(type) {
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case float32:
		return float64(val), true
	case float64:
		return val, true
	default:
		return 0, false
	}
}
