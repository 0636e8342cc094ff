package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected float64
		success  bool
	}{
		{"int", 10, 10.0, true},
		{"int8", int8(20), 20.0, true},
		{"int16", int16(30), 30.0, true},
		{"int32", int32(40), 40.0, true},
		{"int64", int64(50), 50.0, true},
		{"uint16", uint16(55), 55.0, true},
		{"float32", float32(60.5), 60.5, true},
		{"float64", 70.5, 70.5, true},
		{"string_valid_int", "100", 100.0, true},
		{"string_valid_float", "123.45", 123.45, true},
		{"string_invalid", "abc", 0.0, false},
		{"nil", nil, 0.0, false},
		{"unsupported_type", struct{}{}, 0.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.success, ok)
			if tt.success {
				assert.Equal(t, tt.expected, result)
			}
		})
	}
}

func TestToFloat64Strict_RejectsStrings(t *testing.T) {
	_, ok := ToFloat64Strict("100")
	assert.False(t, ok)

	f, ok := ToFloat64Strict(int64(3))
	assert.True(t, ok)
	assert.Equal(t, 3.0, f)
}
