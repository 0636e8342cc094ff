package schema

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValidateValue(t *testing.T) {
	tests := []struct {
		name       string
		column     *ColumnSchema
		value      any
		wantIssues int
	}{
		{"nil is accepted", &ColumnSchema{ColumnType: TypeNumber}, nil, 0},
		{"string", &ColumnSchema{ColumnType: TypeString}, "hello", 0},
		{"string mismatch", &ColumnSchema{ColumnType: TypeString}, 12, 1},
		{"number int", &ColumnSchema{ColumnType: TypeNumber}, 12, 0},
		{"number float", &ColumnSchema{ColumnType: TypeNumber}, 12.5, 0},
		{"number mismatch", &ColumnSchema{ColumnType: TypeNumber}, "12", 1},
		{"boolean", &ColumnSchema{ColumnType: TypeBoolean}, true, 0},
		{"uuid string", &ColumnSchema{ColumnType: TypeUUID}, uuid.NewString(), 0},
		{"uuid value", &ColumnSchema{ColumnType: TypeUUID}, uuid.New(), 0},
		{"uuid invalid", &ColumnSchema{ColumnType: TypeUUID}, "not-a-uuid", 1},
		{"date rfc3339", &ColumnSchema{ColumnType: TypeDate}, "2024-01-02T03:04:05Z", 0},
		{"date only", &ColumnSchema{ColumnType: TypeDate}, "2024-01-02", 0},
		{"date invalid", &ColumnSchema{ColumnType: TypeDate}, "yesterday", 1},
		{"binary bytes", &ColumnSchema{ColumnType: TypeBinary}, []byte{1, 2}, 0},
		{"point", &ColumnSchema{ColumnType: TypePoint}, []any{1.5, 2}, 0},
		{"point wrong length", &ColumnSchema{ColumnType: TypePoint}, []any{1.5}, 1},
		{"json anything", &ColumnSchema{ColumnType: TypeJSON}, map[string]any{"a": []any{1}}, 0},
		{"enum allowed", &ColumnSchema{ColumnType: TypeEnum, EnumValues: []string{"a", "b"}}, "a", 0},
		{"enum rejected", &ColumnSchema{ColumnType: TypeEnum, EnumValues: []string{"a", "b"}}, "c", 1},
		{"array of numbers", &ColumnSchema{ColumnType: ArrayType{Element: TypeNumber}}, []any{1, 2, 3}, 0},
		{"array with bad item", &ColumnSchema{ColumnType: ArrayType{Element: TypeNumber}}, []any{1, "2"}, 1},
		{"bytes are not an array", &ColumnSchema{ColumnType: ArrayType{Element: TypeNumber}}, []byte{1}, 1},
		{
			"struct",
			&ColumnSchema{ColumnType: StructType{"name": TypeString, "tags": ArrayType{Element: TypeString}}},
			map[string]any{"name": "x", "tags": []string{"a"}},
			0,
		},
		{
			"struct with unknown key",
			&ColumnSchema{ColumnType: StructType{"name": TypeString}},
			map[string]any{"name": "x", "other": 1},
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := ValidateValue("field", tt.column, tt.value)
			assert.Len(t, issues, tt.wantIssues, "%v", issues)
		})
	}
}

func TestValidateValue_IssuePath(t *testing.T) {
	column := &ColumnSchema{ColumnType: StructType{"list": ArrayType{Element: TypeBoolean}}}
	issues := ValidateValue("meta", column, map[string]any{"list": []any{true, "no"}})

	if assert.Len(t, issues, 1) {
		assert.Equal(t, "meta.list[1]", issues[0].Path)
		assert.Equal(t, "TYPE_MISMATCH", issues[0].Code)
	}
}
