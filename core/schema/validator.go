package schema

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Issue describes a single validation failure.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidateValue checks that value is an acceptable value for the column. Nil
// is always accepted: nullability is a storage concern.
func ValidateValue(path string, column *ColumnSchema, value any) []Issue {
	v := valueValidator{}
	v.validate(path, column.ColumnType, value)
	if len(v.issues) == 0 && column.ColumnType == TypeEnum && value != nil {
		str, _ := value.(string)
		if !slices.Contains(column.EnumValues, str) {
			v.addIssue("ENUM_VIOLATION", fmt.Sprintf("value must be one of: %v", column.EnumValues), path)
		}
	}
	return v.issues
}

// ValidateTypeValue checks value against a bare column type.
func ValidateTypeValue(path string, columnType ColumnType, value any) []Issue {
	v := valueValidator{}
	v.validate(path, columnType, value)
	return v.issues
}

type valueValidator struct {
	issues []Issue
}

func (v *valueValidator) validate(path string, columnType ColumnType, value any) {
	if value == nil {
		return
	}

	switch ct := columnType.(type) {
	case PrimitiveType:
		v.validatePrimitive(path, ct, value)
	case ArrayType:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("expected array, got %T", value), path)
			return
		}
		// []byte is a scalar, not a list of numbers.
		if _, isBytes := value.([]byte); isBytes {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("expected array, got %T", value), path)
			return
		}
		for i := 0; i < rv.Len(); i++ {
			v.validate(fmt.Sprintf("%s[%d]", path, i), ct.Element, rv.Index(i).Interface())
		}
	case StructType:
		obj, ok := value.(map[string]any)
		if !ok {
			v.addIssue("TYPE_MISMATCH", fmt.Sprintf("expected object, got %T", value), path)
			return
		}
		for key, sub := range obj {
			subType, known := ct[key]
			if !known {
				v.addIssue("UNEXPECTED_FIELD", fmt.Sprintf("unexpected key '%s'", key), path)
				continue
			}
			v.validate(path+"."+key, subType, sub)
		}
	default:
		v.addIssue("UNKNOWN_TYPE", fmt.Sprintf("unknown column type %T", columnType), path)
	}
}

func (v *valueValidator) validatePrimitive(path string, pt PrimitiveType, value any) {
	ok := true
	switch pt {
	case TypeBoolean:
		_, ok = value.(bool)
	case TypeNumber:
		ok = isNumeric(value)
	case TypeString, TypeEnum, TypeDateonly, TypeTimeonly:
		_, ok = value.(string)
	case TypeDate:
		switch d := value.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339Nano, d); err != nil {
				if _, err := time.Parse(time.DateOnly, d); err != nil {
					ok = false
				}
			}
		default:
			ok = false
		}
	case TypeUUID:
		switch id := value.(type) {
		case uuid.UUID:
		case string:
			_, err := uuid.Parse(id)
			ok = err == nil
		default:
			ok = false
		}
	case TypeBinary:
		switch value.(type) {
		case []byte, string:
		default:
			ok = false
		}
	case TypePoint:
		ok = isPoint(value)
	case TypeJSON:
	default:
		v.addIssue("UNKNOWN_TYPE", fmt.Sprintf("unknown column type %s", pt), path)
		return
	}

	if !ok {
		v.addIssue("TYPE_MISMATCH", fmt.Sprintf("expected %s, got %T", pt, value), path)
	}
}

func (v *valueValidator) addIssue(code, message, path string) {
	v.issues = append(v.issues, Issue{Code: code, Message: message, Path: path})
}

func isNumeric(value any) bool {
	switch value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func isPoint(value any) bool {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	if rv.Len() != 2 {
		return false
	}
	return isNumeric(rv.Index(0).Interface()) && isNumeric(rv.Index(1).Interface())
}
